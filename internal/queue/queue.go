// Package queue implements a frame FIFO on top of a ring, with an
// end-of-stream marker carried in-band.
package queue

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/lanikai/framereader/internal/cancel"
	"github.com/lanikai/framereader/internal/ring"
)

const (
	Forever = ring.Forever
	NoWait  = ring.NoWait
	Dynamic = ring.Dynamic
)

var (
	ErrCancelled = ring.ErrCancelled
	ErrNotReady  = ring.ErrNotReady
	ErrOverflow  = ring.ErrOverflow

	// ErrPushAfterEOF is returned when a frame is pushed behind an
	// end-of-stream marker.
	ErrPushAfterEOF = errors.New("queue: push after end of stream")
)

// entry is the ring payload: a frame plus the end-of-stream bit.
type entry[T ring.Payload] struct {
	frame T
	eof   bool
}

func (e *entry[T]) Init() {
	e.eof = false
	if !ring.IsZero(e.frame) {
		e.frame.Init()
	}
}

func (e *entry[T]) Clear() {
	e.eof = false
	if !ring.IsZero(e.frame) {
		e.frame.Clear()
	}
}

func (e *entry[T]) Size() int {
	if ring.IsZero(e.frame) {
		return 0
	}
	return e.frame.Size()
}

// Options configure a Queue. See ring.Options.
type Options[T ring.Payload] struct {
	New     func() T
	Prepare func(T)
	Kill    *cancel.Flag
}

// Queue is a FIFO of frames. Frames are moved in and out, never shared: Pop
// hands the slot's frame to the caller and takes the caller's old frame in
// exchange for reuse.
type Queue[T ring.Payload] struct {
	ring *ring.Ring[*entry[T]]

	eofPushed  atomic.Bool
	eofPending atomic.Int32
	eofRead    atomic.Bool
}

// New creates a queue with the given capacity; Dynamic (0) selects an
// auto-expanding queue whose pushes never block.
func New[T ring.Payload](capacity int, opts Options[T]) *Queue[T] {
	q := &Queue[T]{}
	q.ring = ring.New(capacity, ring.Options[*entry[T]]{
		New: func() *entry[T] {
			e := &entry[T]{}
			if opts.New != nil {
				e.frame = opts.New()
			}
			return e
		},
		Prepare: prepareEntry(opts.Prepare),
		Kill:    opts.Kill,
	})
	return q
}

func prepareEntry[T ring.Payload](prepare func(T)) func(*entry[T]) {
	if prepare == nil {
		return nil
	}
	return func(e *entry[T]) {
		if !ring.IsZero(e.frame) {
			prepare(e.frame)
		}
	}
}

// Push moves f into the queue. A full fixed queue blocks up to timeout, or
// returns ErrOverflow with NoWait. The frame previously held by the slot is
// dropped.
func (q *Queue[T]) Push(f T, timeout time.Duration) error {
	return q.Exchange(&f, timeout)
}

// Exchange moves *f into the queue and hands back, in *f, the cleared frame
// the slot held before (the zero value if it held none). It is the producer
// side counterpart of Pop: frames released by the consumer travel back to
// the producer for refilling.
func (q *Queue[T]) Exchange(f *T, timeout time.Duration) error {
	if q.eofPushed.Load() {
		return ErrPushAfterEOF
	}
	p, err := q.ring.WriteBegin(timeout)
	if err != nil {
		return err
	}
	e := *p
	e.frame, *f = *f, e.frame
	e.eof = false
	if !ring.IsZero(*f) && !ring.Same(*f, e.frame) {
		(*f).Clear()
	} else {
		var zero T
		*f = zero
	}
	q.ring.WriteCommit()
	return nil
}

// PushEOF appends the end-of-stream marker. Further pushes fail with
// ErrPushAfterEOF until the queue is flushed.
func (q *Queue[T]) PushEOF(timeout time.Duration) error {
	if q.eofPushed.Swap(true) {
		return ErrPushAfterEOF
	}
	p, err := q.ring.WriteBegin(timeout)
	if err != nil {
		q.eofPushed.Store(false)
		return err
	}
	(*p).eof = true
	q.eofPending.Add(1)
	q.ring.WriteCommit()
	return nil
}

// Acquire returns the frame owned by the next writable slot so it can be
// filled in place, e.g. into a buffer with locked geometry. It must be
// followed by Commit or Cancel. The queue must have been created with
// Options.New.
func (q *Queue[T]) Acquire(timeout time.Duration) (T, error) {
	var zero T
	if q.eofPushed.Load() {
		return zero, ErrPushAfterEOF
	}
	p, err := q.ring.WriteBegin(timeout)
	if err != nil {
		return zero, err
	}
	return (*p).frame, nil
}

// Commit publishes the frame returned by Acquire.
func (q *Queue[T]) Commit() {
	q.ring.WriteCommit()
}

// Cancel releases the frame returned by Acquire unpublished.
func (q *Queue[T]) Cancel() {
	q.ring.WriteCancel()
}

// Pop moves the oldest frame into *out, waiting up to timeout for one. The
// frame *out held before the call is taken back by the queue for reuse. Once
// the end-of-stream marker has been popped, every later Pop returns
// eof=true immediately.
func (q *Queue[T]) Pop(out *T, timeout time.Duration) (eof bool, err error) {
	if q.eofRead.Load() {
		return true, nil
	}
	p, err := q.ring.ReadBegin(timeout)
	if err != nil {
		return false, err
	}
	e := *p
	if e.eof {
		q.eofRead.Store(true)
		q.eofPending.Add(-1)
		e.eof = false
		q.ring.ReadCommit()
		return true, nil
	}

	*out, e.frame = e.frame, *out
	if !ring.IsZero(e.frame) {
		e.frame.Clear()
		q.ring.Recycle(e)
	}
	q.ring.ReadCommit()
	return false, nil
}

// Peek returns the oldest frame without removing it. ok is false if the
// queue holds no frame; eof is true if the oldest entry is the
// end-of-stream marker.
func (q *Queue[T]) Peek() (f T, eof bool, ok bool) {
	if q.eofRead.Load() {
		return f, true, true
	}
	e, ok := q.ring.Peek()
	if !ok {
		return f, false, false
	}
	if e.eof {
		return f, true, true
	}
	return e.frame, false, true
}

// Flush empties the queue and forgets any end-of-stream state. See
// ring.Ring.Flush for the meaning of force.
func (q *Queue[T]) Flush(force bool) bool {
	if !q.ring.Flush(force) {
		return false
	}
	q.eofPushed.Store(false)
	q.eofPending.Store(0)
	q.eofRead.Store(false)
	return true
}

// Resize changes the capacity. See ring.Ring.Resize.
func (q *Queue[T]) Resize(capacity int, force bool) error {
	return q.ring.Resize(capacity, force)
}

// SetPrepare replaces the buffer-wide payload policy.
func (q *Queue[T]) SetPrepare(prepare func(T)) {
	q.ring.SetPrepare(prepareEntry(prepare))
}

// HasEOF reports whether the end-of-stream marker is queued but not yet
// popped.
func (q *Queue[T]) HasEOF() bool {
	return q.eofPending.Load() > 0
}

// EOFRead reports whether the end-of-stream marker has been popped.
func (q *Queue[T]) EOFRead() bool {
	return q.eofRead.Load()
}

// Len is the number of entries (frames and end-of-stream marker) waiting.
func (q *Queue[T]) Len() int    { return q.ring.Len() }
func (q *Queue[T]) Cap() int    { return q.ring.Cap() }
func (q *Queue[T]) Full() bool  { return q.ring.Full() }
func (q *Queue[T]) Empty() bool { return q.ring.Empty() }
func (q *Queue[T]) Busy() bool  { return q.ring.Busy() }

func (q *Queue[T]) Dynamic() bool { return q.ring.Dynamic() }

// Kill cancels every wait on this queue and on everything sharing its flag.
func (q *Queue[T]) Kill()        { q.ring.Kill() }
func (q *Queue[T]) Killed() bool { return q.ring.Killed() }

// Close detaches the queue from its cancellation flag.
func (q *Queue[T]) Close() { q.ring.Close() }
