package media

import (
	"fmt"
	"time"
)

type SampleFormat int

const (
	CompressedAudio SampleFormat = iota
	S16
	F32
)

func (sf SampleFormat) String() string {
	switch sf {
	case CompressedAudio:
		return "compressed"
	case S16:
		return "s16"
	case F32:
		return "f32"
	}
	return fmt.Sprintf("samplefmt(%d)", int(sf))
}

// BytesPerSample is the size of one sample of one channel, or 0 for
// compressed audio.
func (sf SampleFormat) BytesPerSample() int {
	switch sf {
	case S16:
		return 2
	case F32:
		return 4
	}
	return 0
}

// AudioFrame is a block of interleaved samples.
type AudioFrame struct {
	Codec      string
	SampleRate int
	Channels   int
	Format     SampleFormat
	PTS        time.Duration
	Samples    int
	Data       []byte

	pool *Pool
}

func NewAudioFrame(pool *Pool) *AudioFrame {
	return &AudioFrame{pool: pool}
}

// Alloc sizes Data for n samples per channel, reusing the current buffer
// when it is large enough.
func (f *AudioFrame) Alloc(n int) []byte {
	size := n * f.Channels * f.Format.BytesPerSample()
	if cap(f.Data) < size {
		f.pool.Put(f.Data)
		f.Data = f.pool.Get(size)
	}
	f.Data = f.Data[:size]
	f.Samples = n
	return f.Data
}

// SetData replaces Data with a copy of data.
func (f *AudioFrame) SetData(data []byte) {
	if cap(f.Data) < len(data) {
		f.pool.Put(f.Data)
		f.Data = f.pool.Get(len(data))
	}
	f.Data = append(f.Data[:0], data...)
}

// Duration is the playing time of the frame.
func (f *AudioFrame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.Samples) * time.Second / time.Duration(f.SampleRate)
}

func (f *AudioFrame) Init() {}

func (f *AudioFrame) Clear() {
	f.PTS = 0
	f.Samples = 0
	f.pool.Put(f.Data)
	f.Data = nil
}

func (f *AudioFrame) Size() int {
	return len(f.Data)
}

func (f *AudioFrame) Timestamp() time.Duration {
	return f.PTS
}

func (f *AudioFrame) Info() Info {
	return Info{
		Kind:         Audio,
		Codec:        f.Codec,
		SampleRate:   f.SampleRate,
		Channels:     f.Channels,
		SampleFormat: f.Format,
	}
}
