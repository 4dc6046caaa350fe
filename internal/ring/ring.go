// Package ring implements a slot buffer with an explicit per-slot occupancy
// state machine, shared by the frame queues.
package ring

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/lanikai/framereader/internal/cancel"
)

const (
	Forever = cancel.Forever
	NoWait  = cancel.NoWait
)

// Dynamic is the capacity value that selects an auto-expanding ring.
const Dynamic = 0

// Number of slots a dynamic ring starts with.
const dynamicSlots = 4

// State of a single slot.
type State int

const (
	Empty State = iota
	BeingWritten
	Written
	BeingRead
	Read
)

func (s State) String() string {
	switch s {
	case Empty:
		return "Empty"
	case BeingWritten:
		return "BeingWritten"
	case Written:
		return "Written"
	case BeingRead:
		return "BeingRead"
	case Read:
		return "Read"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) free() bool {
	return s == Empty || s == Read
}

// Payload is implemented by every element kind a Ring can hold.
type Payload interface {
	// Init readies the payload to be filled by a writer.
	Init()

	// Clear drops the data held by the payload, keeping it reusable.
	Clear()

	// Size is a hint of the number of bytes held.
	Size() int
}

// Options configure a Ring. All fields are optional.
type Options[T Payload] struct {
	// New allocates the payload of a slot. Without it, slots start with the
	// zero value and writers assign their own payload.
	New func() T

	// Prepare is a buffer-wide policy applied to every payload before it is
	// handed to a writer: on allocation, on every Resize, and whenever a
	// recycled payload re-enters the ring. Video queues use it to lock every
	// slot to one picture geometry.
	Prepare func(T)

	// Kill is the cancellation flag checked by every wait. Rings sharing a
	// flag are cancelled together. A private flag is created if nil.
	Kill *cancel.Flag
}

type slot[T Payload] struct {
	payload T
	state   State
}

// Ring is an ordered set of slots with a write cursor and a read cursor.
// Written slots always form a contiguous run starting at the read cursor.
type Ring[T Payload] struct {
	mu       sync.Mutex
	canWrite *sync.Cond
	canRead  *sync.Cond

	slots   []*slot[T]
	w, r    int
	dynamic bool

	used    int // slots not free
	written int // slots in state Written

	writing *slot[T]
	reading *slot[T]

	// Set when Flush or Resize forced away a slot someone still holds; the
	// matching commit or cancel is then a no-op.
	writeDiscarded bool
	readDiscarded  bool

	newPayload func() T
	prepare    func(T)

	kill    *cancel.Flag
	unwatch func()
}

// New creates a ring with the given capacity; Dynamic (0) selects an
// auto-expanding ring.
func New[T Payload](capacity int, opts Options[T]) *Ring[T] {
	if capacity < 0 {
		panic(fmt.Sprintf("ring: negative capacity %d", capacity))
	}

	r := &Ring[T]{
		newPayload: opts.New,
		prepare:    opts.Prepare,
		kill:       opts.Kill,
		dynamic:    capacity == Dynamic,
	}
	if r.kill == nil {
		r.kill = cancel.New()
	}
	r.canWrite = sync.NewCond(&r.mu)
	r.canRead = sync.NewCond(&r.mu)

	n := capacity
	if r.dynamic {
		n = dynamicSlots
	}
	r.slots = make([]*slot[T], n)
	for i := range r.slots {
		r.slots[i] = r.newSlot()
	}

	r.unwatch = r.kill.Watch(func() {
		r.mu.Lock()
		r.canWrite.Broadcast()
		r.canRead.Broadcast()
		r.mu.Unlock()
	})
	return r
}

func (r *Ring[T]) newSlot() *slot[T] {
	s := &slot[T]{state: Empty}
	if r.newPayload != nil {
		s.payload = r.newPayload()
		r.prepareLocked(s.payload)
	}
	return s
}

func (r *Ring[T]) prepareLocked(p T) {
	if r.prepare != nil && !IsZero(p) {
		r.prepare(p)
	}
}

// IsZero reports whether p is the zero value of its type, e.g. a nil
// pointer or a nil interface. Payloads need not be comparable.
func IsZero[T any](p T) bool {
	return reflect.ValueOf(&p).Elem().IsZero()
}

// Same reports whether a and b are the same payload: identical pointers (or
// maps, channels) for reference types, equal values for comparable value
// types. Values that cannot be compared are never the same.
func Same[T any](a, b T) bool {
	va, vb := reflect.ValueOf(&a).Elem(), reflect.ValueOf(&b).Elem()
	if va.Kind() == reflect.Interface {
		if va.IsNil() || vb.IsNil() {
			return va.IsNil() && vb.IsNil()
		}
		va, vb = va.Elem(), vb.Elem()
	}
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice, reflect.Func:
		return false
	}
	if !va.Type().Comparable() {
		return false
	}
	defer func() {
		// A comparable struct can still hold an interface with an
		// incomparable dynamic value.
		recover()
	}()
	return va.Interface() == vb.Interface()
}

// WriteBegin acquires the slot at the write cursor. A fixed ring waits for
// the slot to be free; a dynamic ring splices in a new slot instead. The
// returned pointer is valid until WriteCommit or WriteCancel.
func (r *Ring[T]) WriteBegin(timeout time.Duration) (*T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writing != nil {
		panic(ErrAlreadyWriting)
	}
	r.writeDiscarded = false

	if r.dynamic {
		if r.kill.IsSet() {
			return nil, ErrCancelled
		}
		if !r.slots[r.w].state.free() {
			r.insertLocked()
		}
	} else {
		err := r.kill.Wait(r.canWrite, timeout, func() bool {
			return r.slots[r.w].state.free()
		})
		if err == ErrNotReady && timeout == NoWait {
			return nil, ErrOverflow
		}
		if err != nil {
			return nil, err
		}
	}

	s := r.slots[r.w]
	s.state = BeingWritten
	r.writing = s
	r.used++
	if IsZero(s.payload) && r.newPayload != nil {
		s.payload = r.newPayload()
		r.prepareLocked(s.payload)
	}
	if !IsZero(s.payload) {
		s.payload.Init()
	}
	return &s.payload, nil
}

// insertLocked splices a free slot in at the write cursor. The ring is full,
// so the write cursor sits on the oldest unread slot; shifting it (and the
// read cursor) one place right keeps FIFO order.
func (r *Ring[T]) insertLocked() {
	s := r.newSlot()
	r.slots = append(r.slots, nil)
	copy(r.slots[r.w+1:], r.slots[r.w:])
	r.slots[r.w] = s
	if r.r >= r.w {
		r.r++
	}
}

// WriteCommit publishes the slot acquired by WriteBegin.
func (r *Ring[T]) WriteCommit() {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.writing
	if s == nil {
		if r.writeDiscarded {
			r.writeDiscarded = false
			return
		}
		panic(ErrNotWriting)
	}
	s.state = Written
	r.writing = nil
	r.written++
	r.w = (r.w + 1) % len(r.slots)
	r.canRead.Broadcast()
}

// WriteCancel releases the slot acquired by WriteBegin without publishing it.
func (r *Ring[T]) WriteCancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.writing
	if s == nil {
		if r.writeDiscarded {
			r.writeDiscarded = false
			return
		}
		panic(ErrNotWriting)
	}
	if !IsZero(s.payload) {
		s.payload.Clear()
	}
	s.state = Empty
	r.writing = nil
	r.used--
	r.canWrite.Broadcast()
}

// ReadBegin acquires the oldest written slot, waiting up to timeout for one
// to appear. The returned pointer is valid until ReadCommit or ReadCancel.
func (r *Ring[T]) ReadBegin(timeout time.Duration) (*T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reading != nil {
		panic(ErrAlreadyReading)
	}
	r.readDiscarded = false

	err := r.kill.Wait(r.canRead, timeout, func() bool {
		return r.written > 0
	})
	if err != nil {
		return nil, err
	}

	s := r.slots[r.r]
	s.state = BeingRead
	r.reading = s
	r.written--
	return &s.payload, nil
}

// ReadCommit frees the slot acquired by ReadBegin for reuse.
func (r *Ring[T]) ReadCommit() {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.reading
	if s == nil {
		if r.readDiscarded {
			r.readDiscarded = false
			return
		}
		panic(ErrNotReading)
	}
	s.state = Read
	r.reading = nil
	r.used--
	r.r = (r.r + 1) % len(r.slots)
	r.canWrite.Broadcast()
}

// ReadCancel returns the slot acquired by ReadBegin to the Written state,
// leaving it first in line.
func (r *Ring[T]) ReadCancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.reading
	if s == nil {
		if r.readDiscarded {
			r.readDiscarded = false
			return
		}
		panic(ErrNotReading)
	}
	s.state = Written
	r.reading = nil
	r.written++
	r.canRead.Broadcast()
}

// Peek returns the oldest written payload without acquiring it.
func (r *Ring[T]) Peek() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.written == 0 {
		var zero T
		return zero, false
	}
	i := r.r
	if r.reading != nil {
		i = (i + 1) % len(r.slots)
	}
	return r.slots[i].payload, true
}

// Flush empties every slot and resets both cursors. If a slot is held by a
// writer or reader, Flush does nothing and returns false unless force is
// set, in which case the held data is discarded.
func (r *Ring[T]) Flush(force bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.busyLocked() && !force {
		return false
	}

	for i, s := range r.slots {
		if s == r.writing || s == r.reading {
			// The holder may still touch this payload; give the ring a
			// fresh slot instead.
			r.slots[i] = r.newSlot()
			continue
		}
		if !IsZero(s.payload) {
			s.payload.Clear()
		}
		s.state = Empty
	}
	r.discardHeldLocked()
	r.w, r.r = 0, 0
	r.used, r.written = 0, 0
	r.canWrite.Broadcast()
	return true
}

func (r *Ring[T]) discardHeldLocked() {
	if r.writing != nil {
		r.writing = nil
		r.writeDiscarded = true
	}
	if r.reading != nil {
		r.reading = nil
		r.readDiscarded = true
	}
}

// Resize changes the capacity; Dynamic selects auto-expansion. Written data
// is kept in order. Without force, Resize fails with ErrBusy if a slot is
// held or the written data does not fit; with force, held slots and the
// newest written slots that do not fit are discarded. Free slots are reused
// and the Prepare policy is applied to each of them.
func (r *Ring[T]) Resize(capacity int, force bool) error {
	if capacity < 0 {
		panic(fmt.Sprintf("ring: negative capacity %d", capacity))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dynamic := capacity == Dynamic
	if !force {
		if r.busyLocked() {
			return ErrBusy
		}
		if !dynamic && r.written > capacity {
			return ErrBusy
		}
	}

	// Collect written slots in FIFO order, skipping one held by a reader.
	start := r.r
	if r.reading != nil {
		start = (start + 1) % len(r.slots)
	}
	pending := make([]*slot[T], 0, r.written)
	for i := 0; i < r.written; i++ {
		pending = append(pending, r.slots[(start+i)%len(r.slots)])
	}
	var spare []*slot[T]
	for _, s := range r.slots {
		if s.state != Written && s != r.writing && s != r.reading {
			spare = append(spare, s)
		}
	}
	r.discardHeldLocked()

	n := capacity
	if dynamic {
		n = len(pending) + 1
		if n < dynamicSlots {
			n = dynamicSlots
		}
	}
	if len(pending) > n {
		for _, s := range pending[n:] {
			spare = append(spare, s)
		}
		pending = pending[:n]
	}

	slots := make([]*slot[T], 0, n)
	slots = append(slots, pending...)
	for _, s := range spare {
		if len(slots) == n {
			break
		}
		if !IsZero(s.payload) {
			s.payload.Clear()
		}
		s.state = Empty
		r.prepareLocked(s.payload)
		slots = append(slots, s)
	}
	for len(slots) < n {
		slots = append(slots, r.newSlot())
	}

	r.slots = slots
	r.dynamic = dynamic
	r.r = 0
	r.w = len(pending) % n
	r.written = len(pending)
	r.used = len(pending)
	r.canWrite.Broadcast()
	r.canRead.Broadcast()
	return nil
}

// SetPrepare replaces the Prepare policy and applies it to every free slot.
func (r *Ring[T]) SetPrepare(prepare func(T)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prepare = prepare
	for _, s := range r.slots {
		if s.state.free() {
			r.prepareLocked(s.payload)
		}
	}
}

// Recycle applies the Prepare policy to a payload that is about to re-enter
// the ring, e.g. one handed back by a consumer.
func (r *Ring[T]) Recycle(p T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prepareLocked(p)
}

// Kill raises the ring's cancellation flag, waking every waiter. The flag
// may be shared with other rings.
func (r *Ring[T]) Kill() {
	r.kill.Set()
}

func (r *Ring[T]) Killed() bool {
	return r.kill.IsSet()
}

// Close detaches the ring from its cancellation flag.
func (r *Ring[T]) Close() {
	r.unwatch()
}

// Len is the number of written slots waiting to be read.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Cap is the current number of slots.
func (r *Ring[T]) Cap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Full reports whether a fixed ring has no free slot. Dynamic rings are
// never full.
func (r *Ring[T]) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.dynamic && r.used == len(r.slots)
}

// Empty reports whether the ring holds no data at all, neither written nor
// held by a reader or writer.
func (r *Ring[T]) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used == 0
}

func (r *Ring[T]) Dynamic() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dynamic
}

// Busy reports whether a slot is currently held by a writer or reader.
func (r *Ring[T]) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busyLocked()
}

func (r *Ring[T]) busyLocked() bool {
	return r.writing != nil || r.reading != nil
}

// States returns a snapshot of every slot's state, in slot order.
func (r *Ring[T]) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]State, len(r.slots))
	for i, s := range r.slots {
		states[i] = s.state
	}
	return states
}
