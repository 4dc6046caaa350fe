// Package worker runs a task on a dedicated goroutine under a small state
// machine that callers drive with Start, Pause, Resume and Stop.
//
// The task is executed one Step at a time. Pause only takes effect between
// steps, so a paused worker is never in the middle of writing a frame. A task
// that can block inside a step (e.g. pushing into a full buffer) should give
// up when PauseSignal is raised and retry the work on its next step.
package worker

import (
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/lanikai/framereader/internal/cancel"
	"github.com/lanikai/framereader/internal/logging"
)

type State int

const (
	Init State = iota
	Idle
	Active
	PauseRequested
	Paused
	Failed
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Idle:
		return "idle"
	case Active:
		return "active"
	case PauseRequested:
		return "pause-requested"
	case Paused:
		return "paused"
	case Failed:
		return "failed"
	}
	return "invalid"
}

// A Task is the unit of work repeated by a Worker.
type Task interface {
	// Step does one unit of work. more=false means there is nothing to do
	// until the next Resume; the worker then parks in Idle. A non-nil error
	// ends the goroutine and moves the worker to Failed.
	Step() (more bool, err error)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func() (bool, error)

func (f TaskFunc) Step() (bool, error) { return f() }

type Options struct {
	// Kill is the cancellation flag shared with whatever the task waits on.
	// Stop raises it. Nil allocates a private flag.
	Kill *cancel.Flag

	// OnFailure, if set, runs on the worker goroutine right after a step
	// fails or panics, before Pause or Stop callers are released.
	OnFailure func(err error)

	Log *logging.Logger
}

type Worker struct {
	name string
	task Task

	mu    sync.Mutex
	cond  *sync.Cond
	state State
	err   error

	// Raised when a pause is requested. Replaced on every transition back to
	// Active.
	pause *cancel.Flag

	kill      *cancel.Flag
	unwatch   func()
	onFailure func(error)
	stopped   bool

	// Closed when the goroutine exits; nil when none is attached.
	terminated chan struct{}

	log *logging.Logger
}

func New(name string, task Task, opts Options) *Worker {
	w := &Worker{
		name:      name,
		task:      task,
		pause:     cancel.New(),
		kill:      opts.Kill,
		onFailure: opts.OnFailure,
		log:       opts.Log,
	}
	if w.kill == nil {
		w.kill = cancel.New()
	}
	if w.log == nil {
		w.log = logging.DefaultLogger.WithTag("worker")
	}
	w.cond = sync.NewCond(&w.mu)
	w.unwatch = w.kill.Watch(func() {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	})
	return w
}

// Start launches the goroutine in Active state.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.terminated != nil {
		return ErrAlreadyRunning
	}
	if w.stopped || w.kill.IsSet() {
		return ErrStopped
	}

	w.state = Active
	w.err = nil
	w.pause = cancel.New()
	w.terminated = make(chan struct{})
	go w.run(w.terminated)
	return nil
}

func (w *Worker) run(terminated chan struct{}) {
	defer close(terminated)
	w.log.Debug("%s: started", w.name)

	for {
		w.mu.Lock()
		for !w.kill.IsSet() && (w.state == Idle || w.state == Paused) {
			w.cond.Wait()
		}
		if w.kill.IsSet() {
			w.mu.Unlock()
			w.log.Debug("%s: killed", w.name)
			return
		}
		if w.state == PauseRequested {
			w.state = Paused
			w.cond.Broadcast()
			w.mu.Unlock()
			continue
		}
		w.mu.Unlock()

		more, err := w.step()
		if err != nil && w.kill.IsSet() && xerrors.Is(err, cancel.ErrCancelled) {
			w.log.Debug("%s: step cancelled", w.name)
			return
		}
		if err != nil {
			w.fail(err)
			return
		}

		if !more {
			w.mu.Lock()
			if w.state == Active || w.state == PauseRequested {
				w.state = Idle
				w.cond.Broadcast()
			}
			w.mu.Unlock()
		}
	}
}

func (w *Worker) step() (more bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, frame: xerrors.Caller(2)}
		}
	}()
	return w.task.Step()
}

func (w *Worker) fail(err error) {
	err = xerrors.Errorf("%s: %w", w.name, err)
	w.log.Error("%v", err)

	w.mu.Lock()
	w.state = Failed
	w.err = err
	w.cond.Broadcast()
	w.mu.Unlock()

	if w.onFailure != nil {
		w.onFailure(err)
	}
}

// Pause returns once the goroutine sits between steps: Paused if it was
// working, Idle if it had nothing to do. It returns the recorded failure if
// the task failed instead, and ErrCancelled if the worker was killed while
// waiting.
func (w *Worker) Pause() error {
	return w.PauseTimeout(cancel.Forever)
}

// PauseTimeout is Pause bounded by timeout. On ErrNotReady the worker is
// left in PauseRequested and parks after its current step; a later Pause
// or Resume picks up from there.
func (w *Worker) PauseTimeout(timeout time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case Init, Paused:
		return nil
	case Failed:
		return w.err
	case Idle:
		w.state = Paused
		w.pause.Set()
		w.cond.Broadcast()
		return nil
	case Active:
		w.state = PauseRequested
		w.cond.Broadcast()
	}

	// The pause flag wakes anything the task is blocked on, and the watchers
	// registered there take their own locks.
	pause := w.pause
	w.mu.Unlock()
	pause.Set()
	w.mu.Lock()

	err := w.kill.Wait(w.cond, timeout, func() bool { return w.state != PauseRequested })
	switch w.state {
	case Failed:
		return w.err
	case PauseRequested:
		return err
	}
	return nil
}

// Resume moves a Paused or Idle worker back to Active, and withdraws a
// pause request left pending by PauseTimeout. It has no effect in any other
// state, and returns the recorded failure if there is one.
func (w *Worker) Resume() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case Paused, Idle, PauseRequested:
		w.state = Active
		w.pause = cancel.New()
		w.cond.Broadcast()
	}
	return w.err
}

// Stop pauses the worker, raises the kill flag, and waits for the goroutine
// to exit. It returns the task failure, if any. Stop is idempotent, but must
// not be called from within Step; use Kill there.
func (w *Worker) Stop() error {
	w.mu.Lock()
	terminated := w.terminated
	w.stopped = true
	w.mu.Unlock()

	if terminated != nil {
		if err := w.Pause(); err != nil && err != ErrCancelled {
			w.log.Debug("%s: stopping after failure", w.name)
		}
		w.kill.Set()
		w.Resume()
		<-terminated
	} else {
		w.kill.Set()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminated == terminated {
		w.terminated = nil
	}
	if w.state != Failed {
		w.state = Init
	}
	if w.unwatch != nil {
		w.unwatch()
		w.unwatch = nil
	}
	return w.err
}

// Kill raises the kill flag without waiting. Safe from any goroutine,
// including the task itself.
func (w *Worker) Kill() {
	w.kill.Set()
}

// Done is closed when the goroutine exits. It is nil if none was started.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.terminated
}

// PauseSignal returns the flag raised by the next Pause. Tasks pass it to
// blocking calls that accept an abort flag.
func (w *Worker) PauseSignal() *cancel.Flag {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pause
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the failure recorded by the goroutine, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Worker) Killed() bool {
	return w.kill.IsSet()
}
