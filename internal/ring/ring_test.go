package ring

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/framereader/internal/cancel"
)

type cell struct {
	v      int
	width  int
	inits  int
	clears int
}

func (c *cell) Init()     { c.inits++ }
func (c *cell) Clear()    { c.v = 0; c.clears++ }
func (c *cell) Size() int { return 8 }

func newCell() *cell { return &cell{} }

func write(t *testing.T, r *Ring[*cell], v int) {
	p, err := r.WriteBegin(NoWait)
	require.NoError(t, err)
	(*p).v = v
	r.WriteCommit()
}

func read(t *testing.T, r *Ring[*cell]) int {
	p, err := r.ReadBegin(NoWait)
	require.NoError(t, err)
	v := (*p).v
	r.ReadCommit()
	return v
}

func TestSlotLifecycle(t *testing.T) {
	r := New(2, Options[*cell]{New: newCell})
	assert.Equal(t, []State{Empty, Empty}, r.States())

	p, err := r.WriteBegin(NoWait)
	require.NoError(t, err)
	assert.Equal(t, []State{BeingWritten, Empty}, r.States())
	assert.Equal(t, 1, (*p).inits)
	(*p).v = 7
	r.WriteCommit()
	assert.Equal(t, []State{Written, Empty}, r.States())
	assert.Equal(t, 1, r.Len())

	p, err = r.ReadBegin(NoWait)
	require.NoError(t, err)
	assert.Equal(t, []State{BeingRead, Empty}, r.States())
	assert.Equal(t, 7, (*p).v)
	r.ReadCommit()
	assert.Equal(t, []State{Read, Empty}, r.States())
	assert.True(t, r.Empty())
}

func TestFixedOverflow(t *testing.T) {
	r := New(3, Options[*cell]{New: newCell})
	for i := 1; i <= 3; i++ {
		write(t, r, i)
	}
	assert.True(t, r.Full())

	_, err := r.WriteBegin(NoWait)
	assert.Equal(t, ErrOverflow, err)

	_, err = r.WriteBegin(10 * time.Millisecond)
	assert.Equal(t, ErrNotReady, err)

	assert.Equal(t, 1, read(t, r))
	write(t, r, 4)
	for want := 2; want <= 4; want++ {
		assert.Equal(t, want, read(t, r))
	}
}

func TestReadEmpty(t *testing.T) {
	r := New(2, Options[*cell]{New: newCell})
	_, err := r.ReadBegin(NoWait)
	assert.Equal(t, ErrNotReady, err)

	start := time.Now()
	_, err = r.ReadBegin(20 * time.Millisecond)
	assert.Equal(t, ErrNotReady, err)
	assert.True(t, time.Since(start) >= 20*time.Millisecond)
}

func TestDynamicNeverBlocks(t *testing.T) {
	r := New(Dynamic, Options[*cell]{New: newCell})
	const m = 100
	for i := 0; i < m; i++ {
		write(t, r, i)
	}
	assert.Equal(t, m, r.Len())
	assert.False(t, r.Full())
	for i := 0; i < m; i++ {
		assert.Equal(t, i, read(t, r))
	}
}

func TestDynamicInsertKeepsOrder(t *testing.T) {
	r := New(Dynamic, Options[*cell]{New: newCell})

	// Interleave so the cursors sit mid-ring when the splice happens.
	next, want := 0, 0
	for round := 0; round < 50; round++ {
		for i := 0; i < 3; i++ {
			write(t, r, next)
			next++
		}
		assert.Equal(t, want, read(t, r))
		want++
	}
	for r.Len() > 0 {
		assert.Equal(t, want, read(t, r))
		want++
	}
	assert.Equal(t, next, want)
}

func TestDynamicInsertWhileReading(t *testing.T) {
	r := New(Dynamic, Options[*cell]{New: newCell})
	for i := 0; i < dynamicSlots; i++ {
		write(t, r, i)
	}
	p, err := r.ReadBegin(NoWait)
	require.NoError(t, err)
	assert.Equal(t, 0, (*p).v)

	write(t, r, 100)
	r.ReadCommit()

	for _, want := range []int{1, 2, 3, 100} {
		assert.Equal(t, want, read(t, r))
	}
}

func TestProtocolViolations(t *testing.T) {
	r := New(2, Options[*cell]{New: newCell})

	assert.PanicsWithValue(t, ErrNotWriting, func() { r.WriteCommit() })
	assert.PanicsWithValue(t, ErrNotReading, func() { r.ReadCommit() })

	_, err := r.WriteBegin(NoWait)
	require.NoError(t, err)
	assert.PanicsWithValue(t, ErrAlreadyWriting, func() { r.WriteBegin(NoWait) })
	r.WriteCommit()

	_, err = r.ReadBegin(NoWait)
	require.NoError(t, err)
	assert.PanicsWithValue(t, ErrAlreadyReading, func() { r.ReadBegin(NoWait) })
	r.ReadCancel()
	assert.Equal(t, 1, r.Len())
}

func TestWriteCancel(t *testing.T) {
	r := New(1, Options[*cell]{New: newCell})
	p, err := r.WriteBegin(NoWait)
	require.NoError(t, err)
	(*p).v = 3
	r.WriteCancel()
	assert.Equal(t, 0, (*p).v)
	assert.Equal(t, []State{Empty}, r.States())
	assert.False(t, r.Full())
}

func TestPeek(t *testing.T) {
	r := New(3, Options[*cell]{New: newCell})
	_, ok := r.Peek()
	assert.False(t, ok)

	write(t, r, 1)
	write(t, r, 2)
	c, ok := r.Peek()
	require.True(t, ok)
	assert.Equal(t, 1, c.v)

	_, err := r.ReadBegin(NoWait)
	require.NoError(t, err)
	c, ok = r.Peek()
	require.True(t, ok)
	assert.Equal(t, 2, c.v)
	r.ReadCommit()
	assert.Equal(t, 1, r.Len())
}

func TestFlush(t *testing.T) {
	r := New(3, Options[*cell]{New: newCell})
	write(t, r, 1)
	write(t, r, 2)

	_, err := r.WriteBegin(NoWait)
	require.NoError(t, err)
	assert.False(t, r.Flush(false))
	assert.Equal(t, 2, r.Len())

	assert.True(t, r.Flush(true))
	assert.Equal(t, 0, r.Len())
	assert.True(t, r.Empty())
	assert.Equal(t, []State{Empty, Empty, Empty}, r.States())

	// The discarded writer's commit is absorbed.
	r.WriteCommit()
	assert.Equal(t, 0, r.Len())

	write(t, r, 5)
	assert.Equal(t, 5, read(t, r))
}

func TestResizeKeepsPending(t *testing.T) {
	r := New(4, Options[*cell]{New: newCell})
	for i := 1; i <= 4; i++ {
		write(t, r, i)
	}
	assert.Equal(t, 1, read(t, r))
	write(t, r, 5) // wraps around

	assert.Equal(t, ErrBusy, r.Resize(2, false))

	require.NoError(t, r.Resize(6, false))
	assert.Equal(t, 6, r.Cap())
	write(t, r, 6)
	for want := 2; want <= 6; want++ {
		assert.Equal(t, want, read(t, r))
	}
}

func TestResizeForceDropsNewest(t *testing.T) {
	r := New(4, Options[*cell]{New: newCell})
	for i := 1; i <= 4; i++ {
		write(t, r, i)
	}
	_, err := r.ReadBegin(NoWait)
	require.NoError(t, err)
	assert.Equal(t, ErrBusy, r.Resize(4, false))

	require.NoError(t, r.Resize(2, true))
	r.ReadCommit() // absorbed
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, read(t, r))
	assert.Equal(t, 3, read(t, r))
}

func TestResizeToDynamic(t *testing.T) {
	r := New(2, Options[*cell]{New: newCell})
	write(t, r, 1)
	write(t, r, 2)
	require.NoError(t, r.Resize(Dynamic, false))
	assert.True(t, r.Dynamic())
	for i := 3; i <= 10; i++ {
		write(t, r, i)
	}
	for want := 1; want <= 10; want++ {
		assert.Equal(t, want, read(t, r))
	}
}

func TestPrepareAppliedUniformly(t *testing.T) {
	lock := func(c *cell) { c.width = 640 }
	r := New(2, Options[*cell]{New: newCell, Prepare: lock})
	write(t, r, 1)

	for _, s := range r.slots {
		assert.Equal(t, 640, s.payload.width)
	}

	r.SetPrepare(func(c *cell) { c.width = 320 })
	require.NoError(t, r.Resize(4, false))
	for i, s := range r.slots {
		if s.state == Written {
			assert.Equal(t, 640, s.payload.width, "slot %d holds data", i)
		} else {
			assert.Equal(t, 320, s.payload.width, "slot %d", i)
		}
	}

	c := newCell()
	r.Recycle(c)
	assert.Equal(t, 320, c.width)
}

func TestZeroPayloadWithoutNew(t *testing.T) {
	r := New(1, Options[*cell]{})
	p, err := r.WriteBegin(NoWait)
	require.NoError(t, err)
	assert.Nil(t, *p)
	*p = &cell{v: 9}
	r.WriteCommit()
	assert.Equal(t, 9, read(t, r))
}

func TestKillUnblocksWaiters(t *testing.T) {
	kill := cancel.New()
	full := New(1, Options[*cell]{New: newCell, Kill: kill})
	empty := New(1, Options[*cell]{New: newCell, Kill: kill})
	write(t, full, 1)

	const n = 8
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := full.WriteBegin(Forever)
			errs <- err
		}()
		go func() {
			_, err := empty.ReadBegin(Forever)
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	full.Kill()

	timeout := time.After(time.Second)
	for i := 0; i < 2*n; i++ {
		select {
		case err := <-errs:
			assert.Equal(t, ErrCancelled, err)
		case <-timeout:
			t.Fatalf("only %d of %d waiters returned", i, 2*n)
		}
	}
	assert.True(t, empty.Killed())
}

// A concurrent producer and consumer on a fixed ring never see more than n
// slots populated, and every value arrives in order.
func TestFixedBoundUnderLoad(t *testing.T) {
	const n, total = 3, 2000
	r := New(n, Options[*cell]{New: newCell})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			p, err := r.WriteBegin(Forever)
			if err != nil {
				t.Error(err)
				return
			}
			(*p).v = i
			r.WriteCommit()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			p, err := r.ReadBegin(Forever)
			if err != nil {
				t.Error(err)
				return
			}
			if (*p).v != i {
				t.Errorf("got %d, want %d", (*p).v, i)
			}
			r.ReadCommit()
			if rand.Intn(4) == 0 {
				time.Sleep(time.Microsecond)
			}
		}
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	for {
		select {
		case <-done:
			return
		default:
		}
		populated := 0
		for _, s := range r.States() {
			if !s.free() {
				populated++
			}
		}
		if populated > n {
			t.Fatalf("%d slots populated in a ring of %d", populated, n)
		}
	}
}

// blob is a value payload that cannot be compared with ==.
type blob struct{ data []byte }

func (b blob) Init()     {}
func (b blob) Clear()    {}
func (b blob) Size() int { return len(b.data) }

type boxed struct{ p Payload }

func TestIsZeroAndSameWithoutComparable(t *testing.T) {
	assert.True(t, IsZero(blob{}))
	assert.False(t, IsZero(blob{data: []byte{1}}))
	assert.True(t, IsZero[Payload](nil))
	assert.False(t, IsZero[Payload](blob{}))

	a, b := &cell{}, &cell{}
	assert.True(t, Same(a, a))
	assert.False(t, Same(a, b))
	assert.True(t, Same[Payload](a, a))
	assert.False(t, Same[Payload](a, blob{}))
	assert.True(t, Same[Payload](nil, nil))

	assert.False(t, Same(blob{data: []byte{1}}, blob{data: []byte{1}}))
	assert.False(t, Same(boxed{blob{}}, boxed{blob{}}))
	assert.True(t, Same(boxed{a}, boxed{a}))
}

func TestValuePayloadRing(t *testing.T) {
	r := New(2, Options[blob]{New: func() blob { return blob{data: make([]byte, 4)} }})
	r.SetPrepare(func(b blob) {})

	p, err := r.WriteBegin(NoWait)
	require.NoError(t, err)
	(*p).data[0] = 7
	r.WriteCommit()

	p, err = r.ReadBegin(NoWait)
	require.NoError(t, err)
	assert.Equal(t, byte(7), (*p).data[0])
	r.ReadCommit()
	require.NoError(t, r.Resize(3, false))
}
