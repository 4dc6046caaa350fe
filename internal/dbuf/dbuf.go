// Package dbuf implements a double buffer: a producer fills one frame queue
// while a consumer drains the other, and the two trade places in O(1).
package dbuf

import (
	"errors"
	"sync"
	"time"

	"github.com/lanikai/framereader/internal/cancel"
	"github.com/lanikai/framereader/internal/logging"
	"github.com/lanikai/framereader/internal/queue"
	"github.com/lanikai/framereader/internal/ring"
)

const (
	Forever = queue.Forever
	NoWait  = queue.NoWait
	Dynamic = queue.Dynamic
)

var (
	ErrCancelled = queue.ErrCancelled
	ErrNotReady  = queue.ErrNotReady
	ErrOverflow  = queue.ErrOverflow

	// ErrInterrupted is returned by Exchange when its abort flag was raised
	// before the buffer had room.
	ErrInterrupted = errors.New("dbuf: push interrupted")
)

// Options configure a Buffer. Capacity applies to each of the two queues.
type Options[T ring.Payload] struct {
	Capacity int
	New      func() T
	Prepare  func(T)

	// Kill is shared with both queues. A private flag is created if nil.
	Kill *cancel.Flag

	Log *logging.Logger
}

// A Slave is a buffer that swaps only when its leader does. Buffers of any
// payload type can be slaved to one another.
type Slave interface {
	swapAsSlave()
	enslave()
}

// Buffer is a pair of frame queues. Producers always push into the receiver
// and consumers always pop from the sender. When the producer finds the
// receiver full and the sender drained, or the consumer finds the sender
// drained and the receiver ready, the two queues are swapped.
type Buffer[T ring.Payload] struct {
	mu   sync.Mutex
	cond *sync.Cond

	recv *queue.Queue[T]
	send *queue.Queue[T]

	// Push and pop bodies in progress. The buffer can only be swapped when
	// none are.
	inflight int
	// At most one push and one pop body at a time; further producers and
	// consumers wait their turn.
	pushing bool
	popping bool

	slave  bool
	slaves []Slave
	swaps  int

	eof bool  // end of stream has been popped
	err error // producer failure, see Fail

	kill    *cancel.Flag
	unwatch func()
	log     *logging.Logger
}

func New[T ring.Payload](opts Options[T]) *Buffer[T] {
	kill := opts.Kill
	if kill == nil {
		kill = cancel.New()
	}
	qopts := queue.Options[T]{New: opts.New, Prepare: opts.Prepare, Kill: kill}

	b := &Buffer[T]{
		recv: queue.New(opts.Capacity, qopts),
		send: queue.New(opts.Capacity, qopts),
		kill: kill,
		log:  opts.Log,
	}
	if b.log == nil {
		b.log = logging.DefaultLogger.WithTag("dbuf")
	}
	b.cond = sync.NewCond(&b.mu)
	b.unwatch = kill.Watch(b.wake)
	return b
}

func (b *Buffer[T]) wake() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *Buffer[T]) swappable() bool {
	return b.inflight == 0 && !b.slave
}

func (b *Buffer[T]) readyToPush() bool {
	return !b.recv.Full() || (b.swappable() && b.send.Empty())
}

func (b *Buffer[T]) swapReadyForPop() bool {
	if !b.swappable() {
		return false
	}
	if b.recv.Full() || b.recv.HasEOF() {
		return true
	}
	// After a failure nothing more is coming; let partial data through.
	return b.recv.Len() > 0 && (b.recv.Dynamic() || b.err != nil)
}

func (b *Buffer[T]) readyToPop() bool {
	return !b.send.Empty() || b.swapReadyForPop() || b.err != nil
}

// Push moves f into the receiver, swapping first if the receiver is full
// and the sender has been drained. With NoWait a full buffer returns
// ErrOverflow; otherwise ErrNotReady signals a timeout.
func (b *Buffer[T]) Push(f T, timeout time.Duration) error {
	return b.Exchange(&f, timeout, nil)
}

// Exchange is Push with frame recycling: *f is moved in and replaced by the
// cleared frame the slot held, if any (see queue.Queue.Exchange). A non-nil
// abort makes the wait give up with ErrInterrupted as soon as abort is
// raised; nothing is written and *f is untouched in that case.
func (b *Buffer[T]) Exchange(f *T, timeout time.Duration, abort *cancel.Flag) error {
	q, err := b.beginPush(timeout, abort)
	if err != nil {
		return err
	}
	err = q.Exchange(f, NoWait)
	b.endPush()
	return err
}

// PushEOF appends the end-of-stream marker to the receiver.
func (b *Buffer[T]) PushEOF(timeout time.Duration) error {
	return b.PushEOFUntil(timeout, nil)
}

// PushEOFUntil is PushEOF with an abort flag, see Exchange.
func (b *Buffer[T]) PushEOFUntil(timeout time.Duration, abort *cancel.Flag) error {
	q, err := b.beginPush(timeout, abort)
	if err != nil {
		return err
	}
	err = q.PushEOF(NoWait)
	b.endPush()
	return err
}

func (b *Buffer[T]) beginPush(timeout time.Duration, abort *cancel.Flag) (*queue.Queue[T], error) {
	ready := func() bool { return !b.pushing && b.readyToPush() }
	if abort != nil {
		// Registered before taking b.mu: Watch runs the wake function right
		// away if abort is already raised.
		defer abort.Watch(b.wake)()
		ready = func() bool { return abort.IsSet() || (!b.pushing && b.readyToPush()) }
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Another producer's body never blocks; waiting it out does not count
	// against timeout.
	if err := b.kill.Wait(b.cond, Forever, func() bool { return !b.pushing }); err != nil {
		return nil, err
	}
	err := b.kill.Wait(b.cond, timeout, ready)
	if err == ErrNotReady && timeout == NoWait {
		return nil, ErrOverflow
	}
	if err != nil {
		return nil, err
	}
	if b.pushing || !b.readyToPush() {
		return nil, ErrInterrupted
	}
	if b.recv.Full() {
		b.swapLocked()
	}
	b.inflight++
	b.pushing = true
	return b.recv, nil
}

func (b *Buffer[T]) endPush() {
	b.mu.Lock()
	b.inflight--
	b.pushing = false
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Pop moves the oldest frame into *out (taking the old *out back for
// reuse), swapping first if the sender is drained and the receiver is
// ready. It returns eof=true once the end-of-stream marker is reached, and
// keeps doing so. After Fail, buffered frames are still delivered; the
// failure is returned once they run out.
func (b *Buffer[T]) Pop(out *T, timeout time.Duration) (eof bool, err error) {
	q, eof, err := b.beginPop(timeout)
	if err != nil || eof {
		return eof, err
	}
	eof, err = q.Pop(out, NoWait)

	b.mu.Lock()
	b.inflight--
	b.popping = false
	if eof {
		b.eof = true
	}
	b.cond.Broadcast()
	b.mu.Unlock()
	return eof, err
}

func (b *Buffer[T]) beginPop(timeout time.Duration) (*queue.Queue[T], bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.eof {
		return nil, true, nil
	}
	// As in beginPush, another consumer's body is waited out regardless of
	// timeout. It may pop the end of stream.
	if err := b.kill.Wait(b.cond, Forever, func() bool { return !b.popping }); err != nil {
		return nil, false, err
	}
	if b.eof {
		return nil, true, nil
	}
	if err := b.waitPopLocked(timeout); err != nil {
		return nil, false, err
	}
	if b.eof {
		return nil, true, nil
	}
	b.inflight++
	b.popping = true
	return b.send, false, nil
}

// waitPopLocked waits until the sender has data, swapping if needed.
func (b *Buffer[T]) waitPopLocked(timeout time.Duration) error {
	ready := func() bool { return b.eof || (!b.popping && b.readyToPop()) }
	if err := b.kill.Wait(b.cond, timeout, ready); err != nil {
		return err
	}
	if b.eof {
		return nil
	}
	if b.send.Empty() {
		if !b.swapReadyForPop() {
			return b.err
		}
		b.swapLocked()
	}
	return nil
}

// Peek returns the frame the next Pop would deliver, without removing it.
// It waits and swaps like Pop.
func (b *Buffer[T]) Peek(timeout time.Duration) (f T, eof bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.eof {
		return f, true, nil
	}
	if err = b.waitPopLocked(timeout); err != nil {
		return f, false, err
	}
	if b.eof {
		return f, true, nil
	}
	f, eof, _ = b.send.Peek()
	return f, eof, nil
}

// Front returns the oldest buffered frame, in either queue, without
// waiting or swapping. It is meant for reading stream metadata.
func (b *Buffer[T]) Front() (f T, eof bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.eof {
		return f, true, true
	}
	if f, eof, ok = b.send.Peek(); ok {
		return
	}
	return b.recv.Peek()
}

// WaitData blocks until at least one entry is buffered in either queue, the
// end of stream has been reached, or the buffer has failed.
func (b *Buffer[T]) WaitData(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.kill.Wait(b.cond, timeout, func() bool {
		return b.eof || b.err != nil || b.send.Len() > 0 || b.recv.Len() > 0
	})
	if err != nil {
		return err
	}
	if b.send.Len() == 0 && b.recv.Len() == 0 && !b.eof {
		return b.err
	}
	return nil
}

// Swap exchanges the receiver and sender unconditionally, waiting up to
// timeout for any push or pop in progress to finish. Slaves are swapped too.
func (b *Buffer[T]) Swap(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.kill.Wait(b.cond, timeout, func() bool { return b.inflight == 0 })
	if err != nil {
		return err
	}
	b.swapLocked()
	return nil
}

func (b *Buffer[T]) swapLocked() {
	b.recv, b.send = b.send, b.recv
	b.swaps++
	b.log.Trace(5, "swap %d: %d frames to send", b.swaps, b.send.Len())
	for _, s := range b.slaves {
		s.swapAsSlave()
	}
	b.cond.Broadcast()
}

// AddSlave makes s swap in lock-step with b, so that the Nth swap of b is
// the Nth swap of s. A slave never swaps on its own.
func (b *Buffer[T]) AddSlave(s Slave) {
	s.enslave()

	b.mu.Lock()
	b.slaves = append(b.slaves, s)
	b.mu.Unlock()
}

func (b *Buffer[T]) enslave() {
	b.mu.Lock()
	b.slave = true
	b.mu.Unlock()
}

func (b *Buffer[T]) swapAsSlave() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.kill.Wait(b.cond, Forever, func() bool { return b.inflight == 0 }); err != nil {
		return
	}

	if b.send.Empty() {
		b.swapLocked()
		return
	}

	// The slave's consumer has fallen behind. Append what the receiver holds
	// to the sender instead of exchanging, so nothing is lost or reordered.
	moved := b.mergeLocked()
	b.log.Debug("slave sender not drained at swap %d; moved %d entries", b.swaps+1, moved)
	b.swaps++
	for _, s := range b.slaves {
		s.swapAsSlave()
	}
	b.cond.Broadcast()
}

func (b *Buffer[T]) mergeLocked() int {
	moved := 0
	for b.recv.Len() > 0 && !b.recv.EOFRead() {
		var f T
		eof, err := b.recv.Pop(&f, NoWait)
		if err != nil {
			break
		}
		if eof {
			err = b.send.PushEOF(NoWait)
		} else {
			err = b.send.Push(f, NoWait)
		}
		if err != nil {
			b.log.Warn("slave sender full; dropped %d entries", b.recv.Len()+1)
			b.recv.Flush(true)
			break
		}
		moved++
	}
	return moved
}

// Reset empties both queues and clears end-of-stream state, e.g. after a
// seek. It waits up to timeout for a push or pop in progress to finish and
// leaves the queues untouched on ErrNotReady. A failure set by Fail is kept.
func (b *Buffer[T]) Reset(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.kill.Wait(b.cond, timeout, func() bool { return b.inflight == 0 })
	if err != nil {
		return err
	}
	b.recv.Flush(true)
	b.send.Flush(true)
	b.eof = false
	b.cond.Broadcast()
	return nil
}

// Fail records a producer failure. Waiting consumers are woken; they
// receive err once the frames already buffered have been popped.
func (b *Buffer[T]) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err == nil {
		b.err = err
	}
	b.cond.Broadcast()
}

// Err returns the failure recorded by Fail, if any.
func (b *Buffer[T]) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Kill cancels every wait on the buffer, its queues, and anything else that
// shares its flag.
func (b *Buffer[T]) Kill() {
	b.kill.Set()
}

func (b *Buffer[T]) Killed() bool {
	return b.kill.IsSet()
}

// Close detaches the buffer from its cancellation flag.
func (b *Buffer[T]) Close() {
	b.unwatch()
	b.recv.Close()
	b.send.Close()
}

// Receiver and Sender expose the current queue identities.
func (b *Buffer[T]) Receiver() *queue.Queue[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recv
}

func (b *Buffer[T]) Sender() *queue.Queue[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.send
}

// Swaps is the number of swaps so far.
func (b *Buffer[T]) Swaps() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.swaps
}

// Len is the number of entries buffered in both queues.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recv.Len() + b.send.Len()
}

// EOF reports whether the end-of-stream marker has been popped.
func (b *Buffer[T]) EOF() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eof
}

func (b *Buffer[T]) Dynamic() bool {
	return b.recv.Dynamic()
}

// Resize changes the capacity of both queues, waiting for a push or pop in
// progress to finish. Without force it fails with ErrBusy, leaving both
// queues untouched, if either holds more than capacity entries.
func (b *Buffer[T]) Resize(capacity int, force bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.kill.Wait(b.cond, Forever, func() bool { return b.inflight == 0 })
	if err != nil {
		return err
	}
	if !force && !b.fitsLocked(capacity) {
		return ring.ErrBusy
	}
	if err := b.recv.Resize(capacity, force); err != nil {
		return err
	}
	if err := b.send.Resize(capacity, force); err != nil {
		return err
	}
	b.cond.Broadcast()
	return nil
}

func (b *Buffer[T]) fitsLocked(capacity int) bool {
	for _, q := range []*queue.Queue[T]{b.recv, b.send} {
		if q.Busy() || (capacity != Dynamic && q.Len() > capacity) {
			return false
		}
	}
	return true
}

// SetPrepare replaces the payload policy of both queues.
func (b *Buffer[T]) SetPrepare(prepare func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recv.SetPrepare(prepare)
	b.send.SetPrepare(prepare)
}
