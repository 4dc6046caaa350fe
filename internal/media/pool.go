package media

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// DefaultPoolClasses bounds how many distinct buffer sizes a Pool retains.
const DefaultPoolClasses = 64

// maxPerClass bounds how many free buffers of one size are kept.
const maxPerClass = 32

// A Pool recycles frame data buffers by exact size. Frames of one stream
// tend to share a handful of sizes, so free lists are keyed by size and the
// least recently used sizes are evicted when there are too many of them.
//
// A nil *Pool is valid and allocates every buffer afresh.
type Pool struct {
	mu    sync.Mutex
	cache *lru.Cache

	// Buffers currently held by free lists.
	free int
}

func NewPool(classes int) *Pool {
	if classes <= 0 {
		classes = DefaultPoolClasses
	}
	p := &Pool{cache: lru.New(classes)}
	p.cache.OnEvicted = func(key lru.Key, value interface{}) {
		p.free -= len(*value.(*[][]byte))
	}
	return p
}

// Get returns a buffer of length n. Its contents are undefined.
func (p *Pool) Get(n int) []byte {
	if p == nil || n <= 0 {
		return make([]byte, n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.cache.Get(n)
	if !ok {
		return make([]byte, n)
	}
	list := v.(*[][]byte)
	last := len(*list) - 1
	buf := (*list)[last]
	(*list)[last] = nil
	*list = (*list)[:last]
	p.free--
	if last == 0 {
		// Leave nothing for OnEvicted to count.
		p.cache.Remove(n)
	}
	return buf[:n]
}

// Put returns buf to the pool. The caller must not use it afterwards.
func (p *Pool) Put(buf []byte) {
	if p == nil || cap(buf) == 0 {
		return
	}
	n := cap(buf)

	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.cache.Get(n); ok {
		list := v.(*[][]byte)
		if len(*list) < maxPerClass {
			*list = append(*list, buf[:n])
			p.free++
		}
		return
	}
	list := [][]byte{buf[:n]}
	p.cache.Add(n, &list)
	p.free++
}

// Free reports the number of idle buffers held.
func (p *Pool) Free() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free
}

// Classes reports the number of distinct buffer sizes held.
func (p *Pool) Classes() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}

// Clear drops every idle buffer.
func (p *Pool) Clear() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.cache.Len() > 0 {
		p.cache.RemoveOldest()
	}
}
