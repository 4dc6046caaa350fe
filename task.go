package framereader

import (
	"io"
	"time"

	"github.com/lanikai/framereader/internal/dbuf"
	"github.com/lanikai/framereader/internal/media"
	"github.com/lanikai/framereader/internal/source"
)

// readTask is the producer goroutine's unit of work: one frame from the
// producer into its stream's buffer per step.
type readTask struct {
	r *Reader

	// Streams in the order they receive the end-of-stream marker.
	eofOrder []StreamID

	// A produced frame not yet accepted by its buffer. It survives a pause
	// and is retried on the next step.
	held   media.Frame
	heldID StreamID

	// Cleared frames handed back by the buffers, per stream.
	spare map[StreamID]media.Frame
	// Allocators for streams whose frames must match their buffer's
	// policy, e.g. locked geometry.
	alloc map[StreamID]func() media.Frame

	// Exact seek: streams still dropping frames before target.
	target  time.Duration
	seeking map[StreamID]bool

	// Streams that already have their end-of-stream marker.
	eofSent int
	done    bool
}

func newReadTask(r *Reader, eofOrder []StreamID) *readTask {
	return &readTask{
		r:        r,
		eofOrder: eofOrder,
		spare:    make(map[StreamID]media.Frame),
		alloc:    make(map[StreamID]func() media.Frame),
		seeking:  make(map[StreamID]bool),
	}
}

func (t *readTask) recycle(id StreamID) media.Frame {
	if f, ok := t.spare[id]; ok {
		delete(t.spare, id)
		return f
	}
	if alloc := t.alloc[id]; alloc != nil {
		return alloc()
	}
	return nil
}

func (t *readTask) keep(id StreamID, f media.Frame) {
	if f == nil {
		return
	}
	f.Clear()
	t.spare[id] = f
}

func (t *readTask) Step() (bool, error) {
	if t.done {
		return false, nil
	}
	if t.eofSent > 0 {
		return t.pushEOF()
	}

	if t.held == nil {
		id, f, err := t.r.producer.Produce(t.recycle)
		switch {
		case err == io.EOF:
			t.r.log.Debug("End of stream")
			return t.pushEOF()
		case err == source.ErrWouldBlock:
			return false, nil
		case err != nil:
			return false, &ProducerError{Op: "produce", Err: err}
		}

		if int(id) >= len(t.r.buffers) || t.r.buffers[id] == nil {
			// Stream not selected.
			t.keep(id, f)
			return true, nil
		}
		if t.seeking[id] {
			if f.Timestamp() < t.target {
				t.keep(id, f)
				return true, nil
			}
			delete(t.seeking, id)
		}
		t.held, t.heldID = f, id
	}

	f := t.held
	err := t.r.buffers[t.heldID].Exchange(&f, Forever, t.r.worker.PauseSignal())
	switch err {
	case nil:
		t.held = nil
		t.keep(t.heldID, f)
		return true, nil
	case dbuf.ErrInterrupted:
		return true, nil
	}
	return false, err
}

// pushEOF marks the end of every stream, followers before leaders. A pause
// interrupts it; the next step picks up where it left off.
func (t *readTask) pushEOF() (bool, error) {
	abort := t.r.worker.PauseSignal()
	if t.eofSent == 0 {
		// Counted from 1 so Step knows a push is under way.
		t.eofSent = 1
	}
	for t.eofSent <= len(t.eofOrder) {
		id := t.eofOrder[t.eofSent-1]
		err := t.r.buffers[id].PushEOFUntil(Forever, abort)
		if err == dbuf.ErrInterrupted {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		t.eofSent++
	}
	t.done = true
	return false, nil
}

// reset drops in-flight state before a seek. The worker must be paused.
func (t *readTask) reset() {
	if t.held != nil {
		t.keep(t.heldID, t.held)
		t.held = nil
	}
	t.eofSent = 0
	t.done = false
	t.seeking = make(map[StreamID]bool)
}

func (t *readTask) seekExact(ts time.Duration) {
	t.target = ts
	for _, id := range t.r.streams {
		t.seeking[id] = true
	}
}
