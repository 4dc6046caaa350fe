// Package media defines the frames carried through the read pipeline.
package media

import (
	"fmt"
	"time"
)

type Kind int

const (
	Video Kind = iota
	Audio
)

func (k Kind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Info describes the stream a frame came from.
type Info struct {
	Kind  Kind
	Codec string

	// Video
	Geometry
	FrameRate float64

	// Audio
	SampleRate   int
	Channels     int
	SampleFormat SampleFormat
}

func (i Info) String() string {
	switch i.Kind {
	case Video:
		return fmt.Sprintf("%s %s %.3gfps", i.Codec, i.Geometry, i.FrameRate)
	case Audio:
		return fmt.Sprintf("%s %dHz %dch %s", i.Codec, i.SampleRate, i.Channels, i.SampleFormat)
	}
	return i.Kind.String()
}

// A Frame is one decoded (or compressed) unit of a stream. Frames live in
// buffer slots and are recycled: Clear prepares a frame for reuse without
// necessarily releasing its memory.
type Frame interface {
	Init()
	Clear()

	// Size is a hint of the memory held by the frame, in bytes.
	Size() int

	// Timestamp is the presentation time relative to the stream start.
	Timestamp() time.Duration

	Info() Info
}

// NewFrame returns an empty frame of the given kind backed by pool.
func NewFrame(kind Kind, pool *Pool) Frame {
	if kind == Audio {
		return NewAudioFrame(pool)
	}
	return NewVideoFrame(pool)
}
