package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolReusesBySize(t *testing.T) {
	p := NewPool(4)
	a := p.Get(100)
	require.Len(t, a, 100)
	assert.Equal(t, 0, p.Free())

	p.Put(a)
	assert.Equal(t, 1, p.Free())
	assert.Equal(t, 1, p.Classes())

	b := p.Get(100)
	assert.Same(t, &a[0], &b[0], "buffer not reused")
	assert.Equal(t, 0, p.Free())
	assert.Equal(t, 0, p.Classes())

	// Other sizes get fresh memory.
	c := p.Get(50)
	assert.Len(t, c, 50)
}

func TestPoolEvictsLeastRecentlyUsedSizes(t *testing.T) {
	p := NewPool(2)
	p.Put(make([]byte, 10))
	p.Put(make([]byte, 20))
	p.Put(make([]byte, 20))
	assert.Equal(t, 3, p.Free())

	p.Put(make([]byte, 30))
	assert.Equal(t, 2, p.Classes())
	assert.Equal(t, 3, p.Free(), "size 10 should have been evicted")

	p.Clear()
	assert.Equal(t, 0, p.Free())
	assert.Equal(t, 0, p.Classes())
}

func TestPoolBoundsFreeList(t *testing.T) {
	p := NewPool(1)
	for i := 0; i < 2*maxPerClass; i++ {
		p.Put(make([]byte, 8))
	}
	assert.Equal(t, maxPerClass, p.Free())
}

func TestNilPool(t *testing.T) {
	var p *Pool
	assert.Len(t, p.Get(16), 16)
	p.Put(make([]byte, 16))
	assert.Equal(t, 0, p.Free())
	p.Clear()
}
