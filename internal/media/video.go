package media

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type PixelFormat int

const (
	// Compressed frames carry a single plane holding a coded picture, e.g.
	// an H.264 access unit.
	Compressed PixelFormat = iota
	YUV420P
	NV12
	RGB24
)

func (pf PixelFormat) String() string {
	switch pf {
	case Compressed:
		return "compressed"
	case YUV420P:
		return "yuv420p"
	case NV12:
		return "nv12"
	case RGB24:
		return "rgb24"
	}
	return fmt.Sprintf("pixfmt(%d)", int(pf))
}

// ParsePixelFormat is the inverse of PixelFormat.String.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for pf := Compressed; pf <= RGB24; pf++ {
		if pf.String() == s {
			return pf, nil
		}
	}
	return Compressed, errors.Wrapf(ErrUnknownPixelFormat, "%q", s)
}

// Geometry is the size and layout of a video picture.
type Geometry struct {
	Width  int
	Height int
	Format PixelFormat
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d %s", g.Width, g.Height, g.Format)
}

func (g Geometry) IsZero() bool {
	return g == Geometry{}
}

// PlaneSizes returns the byte size of each plane. Compressed pictures have
// no fixed layout and return nil.
func (g Geometry) PlaneSizes() []int {
	w, h := g.Width, g.Height
	cw, ch := (w+1)/2, (h+1)/2
	switch g.Format {
	case YUV420P:
		return []int{w * h, cw * ch, cw * ch}
	case NV12:
		return []int{w * h, 2 * cw * ch}
	case RGB24:
		return []int{3 * w * h}
	}
	return nil
}

// VideoFrame is a picture plus its presentation time. With locked geometry
// the planes are allocated once and survive Clear, so a buffer of locked
// frames is refilled without reallocation.
type VideoFrame struct {
	Geometry
	Codec     string
	FrameRate float64
	PTS       time.Duration
	Key       bool
	Planes    [][]byte

	locked bool
	pool   *Pool
}

func NewVideoFrame(pool *Pool) *VideoFrame {
	return &VideoFrame{pool: pool}
}

// Lock fixes the frame geometry to g and allocates planes for it. Planes
// already of the right size are kept.
func (f *VideoFrame) Lock(g Geometry) {
	if f.locked && f.Geometry == g {
		return
	}
	f.release()
	f.Geometry = g
	f.locked = true
	f.alloc()
}

// Unlock lets the geometry change again. Allocated planes are released on
// the next Clear.
func (f *VideoFrame) Unlock() {
	f.locked = false
}

func (f *VideoFrame) Locked() bool {
	return f.locked
}

// SetGeometry reshapes the frame, allocating planes from the pool. It fails
// with ErrGeometryLocked if the frame is locked to a different geometry.
func (f *VideoFrame) SetGeometry(g Geometry) error {
	if f.Geometry == g && (len(f.Planes) > 0 || g.PlaneSizes() == nil) {
		return nil
	}
	if f.locked {
		return ErrGeometryLocked
	}
	f.release()
	f.Geometry = g
	f.alloc()
	return nil
}

// SetData replaces the single plane of a compressed frame with a copy of
// data.
func (f *VideoFrame) SetData(data []byte) error {
	if f.Format != Compressed {
		return errNotSupported
	}
	if len(f.Planes) == 1 && cap(f.Planes[0]) >= len(data) {
		f.Planes[0] = append(f.Planes[0][:0], data...)
		return nil
	}
	f.release()
	buf := f.pool.Get(len(data))
	copy(buf, data)
	f.Planes = [][]byte{buf}
	return nil
}

func (f *VideoFrame) alloc() {
	for _, n := range f.PlaneSizes() {
		f.Planes = append(f.Planes, f.pool.Get(n))
	}
}

func (f *VideoFrame) release() {
	for _, p := range f.Planes {
		f.pool.Put(p)
	}
	f.Planes = nil
}

func (f *VideoFrame) Init() {
	if f.locked && len(f.Planes) == 0 {
		f.alloc()
	}
}

func (f *VideoFrame) Clear() {
	f.PTS = 0
	f.Key = false
	if f.locked {
		return
	}
	f.release()
	f.Geometry = Geometry{}
	f.Codec = ""
	f.FrameRate = 0
}

func (f *VideoFrame) Size() int {
	n := 0
	for _, p := range f.Planes {
		n += len(p)
	}
	return n
}

func (f *VideoFrame) Timestamp() time.Duration {
	return f.PTS
}

func (f *VideoFrame) Info() Info {
	return Info{
		Kind:      Video,
		Codec:     f.Codec,
		Geometry:  f.Geometry,
		FrameRate: f.FrameRate,
	}
}

// LockGeometry returns a buffer policy that locks every video frame to g.
// Audio frames pass through unchanged.
func LockGeometry(g Geometry) func(Frame) {
	return func(f Frame) {
		if vf, ok := f.(*VideoFrame); ok {
			vf.Lock(g)
		}
	}
}
