package worker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/lanikai/framereader/internal/cancel"
	"github.com/lanikai/framereader/internal/logging"
)

func newWorker(task Task, opts Options) *Worker {
	opts.Log = logging.Discard
	return New("test", task, opts)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, time.Second, time.Millisecond)
}

func TestStartPauseResumeStop(t *testing.T) {
	var steps atomic.Int64
	w := newWorker(TaskFunc(func() (bool, error) {
		steps.Add(1)
		time.Sleep(100 * time.Microsecond)
		return true, nil
	}), Options{})
	assert.Equal(t, Init, w.State())

	require.NoError(t, w.Start())
	eventually(t, func() bool { return steps.Load() > 3 })

	require.NoError(t, w.Pause())
	assert.Equal(t, Paused, w.State())
	n := steps.Load()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, n, steps.Load(), "steps ran while paused")

	w.Resume()
	assert.Equal(t, Active, w.State())
	eventually(t, func() bool { return steps.Load() > n })

	require.NoError(t, w.Stop())
	assert.Equal(t, Init, w.State())
	assert.True(t, w.Killed())
}

func TestStartTwice(t *testing.T) {
	w := newWorker(TaskFunc(func() (bool, error) { return false, nil }), Options{})
	require.NoError(t, w.Start())
	assert.Equal(t, ErrAlreadyRunning, w.Start())
	require.NoError(t, w.Stop())
	assert.Equal(t, ErrStopped, w.Start())
}

func TestIdleWhenNoMoreWork(t *testing.T) {
	var steps atomic.Int64
	w := newWorker(TaskFunc(func() (bool, error) {
		return steps.Add(1)%3 != 0, nil
	}), Options{})
	require.NoError(t, w.Start())
	eventually(t, func() bool { return w.State() == Idle })
	assert.Equal(t, int64(3), steps.Load())

	w.Resume()
	eventually(t, func() bool { return steps.Load() == 6 && w.State() == Idle })

	// Pausing an idle worker needs no acknowledgement.
	require.NoError(t, w.Pause())
	assert.Equal(t, Paused, w.State())
	require.NoError(t, w.Stop())
}

func TestPauseWaitsForStepBoundary(t *testing.T) {
	inStep := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var finished atomic.Bool
	w := newWorker(TaskFunc(func() (bool, error) {
		once.Do(func() {
			close(inStep)
			<-release
			finished.Store(true)
		})
		return true, nil
	}), Options{})
	require.NoError(t, w.Start())
	<-inStep

	paused := make(chan error, 1)
	go func() { paused <- w.Pause() }()

	select {
	case <-paused:
		t.Fatal("Pause returned in the middle of a step")
	case <-time.After(10 * time.Millisecond):
	}
	assert.Equal(t, PauseRequested, w.State())

	close(release)
	require.NoError(t, <-paused)
	assert.True(t, finished.Load())
	assert.Equal(t, Paused, w.State())
	require.NoError(t, w.Stop())
}

func TestPauseSignalUnblocksTask(t *testing.T) {
	var w *Worker
	var aborted atomic.Int64
	w = newWorker(TaskFunc(func() (bool, error) {
		sig := w.PauseSignal()
		done := make(chan struct{})
		unwatch := sig.Watch(func() { close(done) })
		defer unwatch()
		<-done
		aborted.Add(1)
		return true, nil
	}), Options{})
	require.NoError(t, w.Start())

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, w.Pause())
	assert.Equal(t, int64(1), aborted.Load())

	w.Resume()
	assert.False(t, w.PauseSignal().IsSet())
	require.NoError(t, w.Stop())
}

func TestFailureIsCaptured(t *testing.T) {
	boom := errors.New("boom")
	var reported error
	w := newWorker(TaskFunc(func() (bool, error) { return true, boom }), Options{
		OnFailure: func(err error) { reported = err },
	})
	require.NoError(t, w.Start())
	<-w.Done()

	assert.Equal(t, Failed, w.State())
	assert.True(t, xerrors.Is(w.Err(), boom))
	assert.True(t, errors.Is(reported, boom))
	assert.True(t, errors.Is(w.Pause(), boom))
	assert.True(t, errors.Is(w.Resume(), boom))
	assert.True(t, errors.Is(w.Stop(), boom))
	assert.Equal(t, Failed, w.State())
}

func TestPanicIsCaptured(t *testing.T) {
	w := newWorker(TaskFunc(func() (bool, error) { panic("bad frame") }), Options{})
	require.NoError(t, w.Start())
	<-w.Done()

	var perr *PanicError
	require.True(t, xerrors.As(w.Err(), &perr))
	assert.Equal(t, "bad frame", perr.Value)
	assert.Contains(t, w.Err().Error(), "bad frame")
}

func TestStopUnblocksSharedWaits(t *testing.T) {
	kill := cancel.New()
	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	unwatch := kill.Watch(func() {
		mu.Lock()
		cond.Broadcast()
		mu.Unlock()
	})
	defer unwatch()

	// The task blocks on a wait that never becomes ready and ignores the
	// pause signal; only the kill flag releases it.
	w := newWorker(TaskFunc(func() (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		err := kill.Wait(cond, cancel.Forever, func() bool { return false })
		return false, err
	}), Options{Kill: kill})
	require.NoError(t, w.Start())
	time.Sleep(5 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop() }()
	// Pause cannot be acknowledged; Kill from outside gets Stop going.
	time.Sleep(5 * time.Millisecond)
	w.Kill()

	select {
	case err := <-stopped:
		assert.NoError(t, err, "cancellation is not a task failure")
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	w := newWorker(TaskFunc(func() (bool, error) { return false, nil }), Options{})
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.Equal(t, ErrStopped, w.Start())

	w = newWorker(TaskFunc(func() (bool, error) { return true, nil }), Options{})
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.Nil(t, w.Done())
}

func TestPauseTimeout(t *testing.T) {
	for _, withdraw := range []bool{false, true} {
		inStep := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		var steps atomic.Int64
		w := newWorker(TaskFunc(func() (bool, error) {
			steps.Add(1)
			once.Do(func() {
				close(inStep)
				<-release
			})
			time.Sleep(100 * time.Microsecond)
			return true, nil
		}), Options{})
		require.NoError(t, w.Start())
		<-inStep

		assert.Equal(t, ErrNotReady, w.PauseTimeout(5*time.Millisecond))
		assert.Equal(t, PauseRequested, w.State())

		if withdraw {
			require.NoError(t, w.Resume())
			close(release)
			eventually(t, func() bool { return steps.Load() > 3 })
			assert.Equal(t, Active, w.State())
			require.NoError(t, w.PauseTimeout(time.Second))
		} else {
			// The request stays pending and lands after the step.
			close(release)
			eventually(t, func() bool { return w.State() == Paused })
			assert.Equal(t, int64(1), steps.Load())
		}
		assert.Equal(t, Paused, w.State())
		require.NoError(t, w.Stop())
	}
}
