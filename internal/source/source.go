// Package source provides frame producers for the read pipeline and a
// registry to open them from a "tag:path" string.
package source

import (
	"errors"
	"time"

	"github.com/lanikai/framereader/internal/media"
)

// StreamID identifies a stream within a producer. IDs are dense, starting
// at 0, in the order reported by Streams.
type StreamID int

// ErrWouldBlock is returned by Produce when no frame is available right now,
// e.g. a live source between captures. The caller should try again later.
var ErrWouldBlock = errors.New("would block")

// Recycler hands a producer a cleared frame to refill for the given stream,
// or nil if none is available. Frames may have locked geometry.
type Recycler func(StreamID) media.Frame

// A Producer yields the frames of one or more interleaved streams.
type Producer interface {
	// Produce returns the next frame and the stream it belongs to. It
	// returns io.EOF after the last frame and ErrWouldBlock when nothing is
	// available yet. The frame is handed over to the caller.
	Produce(recycle Recycler) (StreamID, media.Frame, error)

	// SeekTo repositions so the next frames are at or shortly before ts,
	// typically starting from the preceding key frame.
	SeekTo(ts time.Duration) error

	// Streams describes every stream, indexed by StreamID.
	Streams() []media.Info

	Close() error
}

// recycledVideo returns the recycled frame for id if it is a video frame
// that can take geometry g.
func recycledVideo(recycle Recycler, id StreamID, g media.Geometry, pool *media.Pool) *media.VideoFrame {
	if recycle != nil {
		if vf, ok := recycle(id).(*media.VideoFrame); ok && vf.SetGeometry(g) == nil {
			return vf
		}
	}
	vf := media.NewVideoFrame(pool)
	vf.SetGeometry(g)
	return vf
}

func recycledAudio(recycle Recycler, id StreamID, pool *media.Pool) *media.AudioFrame {
	if recycle != nil {
		if af, ok := recycle(id).(*media.AudioFrame); ok {
			return af
		}
	}
	return media.NewAudioFrame(pool)
}
