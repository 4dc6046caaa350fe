package source

import (
	"encoding/binary"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/framereader/internal/media"
)

// PatternOptions configure the synthetic test source.
type PatternOptions struct {
	FPS      float64
	Duration time.Duration
	Geometry media.Geometry

	// Key frame interval in frames. SeekTo lands on key frames.
	GOP int

	Audio      bool
	SampleRate int
	Channels   int
	Block      time.Duration
	Tone       float64

	// After every Burst frames, Produce returns ErrWouldBlock once. Zero
	// disables.
	Burst int

	// Produce fails once the stream reaches FailAt. Zero disables.
	FailAt time.Duration
}

func DefaultPatternOptions() PatternOptions {
	return PatternOptions{
		FPS:        30,
		Duration:   10 * time.Second,
		Geometry:   media.Geometry{Width: 320, Height: 240, Format: media.YUV420P},
		GOP:        30,
		SampleRate: 48000,
		Channels:   2,
		Block:      20 * time.Millisecond,
		Tone:       440,
	}
}

// ErrPatternFailure is what a pattern source with FailAt returns.
var ErrPatternFailure = errors.New("pattern: injected failure")

// ParsePatternOptions reads a comma-separated key=value list such as
// "fps=30,duration=10s,audio=1,size=640x480".
func ParsePatternOptions(s string) (PatternOptions, error) {
	o := DefaultPatternOptions()
	if s == "" {
		return o, nil
	}
	for _, kv := range strings.Split(s, ",") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return o, errors.Errorf("pattern: malformed option %q", kv)
		}
		key, val := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

		var err error
		switch key {
		case "fps":
			o.FPS, err = strconv.ParseFloat(val, 64)
		case "duration":
			o.Duration, err = time.ParseDuration(val)
		case "size":
			o.Geometry.Width, o.Geometry.Height, err = parseSize(val)
		case "format":
			o.Geometry.Format, err = media.ParsePixelFormat(val)
		case "gop":
			o.GOP, err = strconv.Atoi(val)
		case "audio":
			o.Audio, err = strconv.ParseBool(val)
		case "rate":
			o.SampleRate, err = strconv.Atoi(val)
		case "channels":
			o.Channels, err = strconv.Atoi(val)
		case "block":
			o.Block, err = time.ParseDuration(val)
		case "tone":
			o.Tone, err = strconv.ParseFloat(val, 64)
		case "burst":
			o.Burst, err = strconv.Atoi(val)
		case "fail":
			o.FailAt, err = time.ParseDuration(val)
		default:
			return o, errors.Errorf("pattern: unknown option %q", key)
		}
		if err != nil {
			return o, errors.Wrapf(err, "pattern: option %s", key)
		}
	}
	return o, o.validate()
}

func parseSize(s string) (w, h int, err error) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("size %q is not WxH", s)
	}
	if w, err = strconv.Atoi(parts[0]); err != nil {
		return
	}
	h, err = strconv.Atoi(parts[1])
	return
}

func (o PatternOptions) validate() error {
	switch {
	case o.FPS <= 0:
		return errors.New("pattern: fps must be positive")
	case o.Duration <= 0:
		return errors.New("pattern: duration must be positive")
	case o.Geometry.Width <= 0 || o.Geometry.Height <= 0:
		return errors.New("pattern: empty picture")
	case o.GOP <= 0:
		return errors.New("pattern: gop must be positive")
	case o.Audio && (o.SampleRate <= 0 || o.Channels <= 0 || o.Block <= 0):
		return errors.New("pattern: bad audio parameters")
	}
	return nil
}

// Pattern is a synthetic producer: a video stream of flat pictures whose
// luma encodes the frame number and, optionally, an interleaved sine tone.
type Pattern struct {
	opts  PatternOptions
	pool  *media.Pool
	infos []media.Info

	video    int // next video frame index
	audio    int // next audio block index
	produced int
	blocked  bool
	failed   bool
}

func NewPattern(opts PatternOptions) (*Pattern, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	p := &Pattern{
		opts: opts,
		pool: media.NewPool(0),
	}
	p.infos = append(p.infos, media.Info{
		Kind:      media.Video,
		Codec:     "rawvideo",
		Geometry:  opts.Geometry,
		FrameRate: opts.FPS,
	})
	if opts.Audio {
		p.infos = append(p.infos, media.Info{
			Kind:         media.Audio,
			Codec:        "pcm",
			SampleRate:   opts.SampleRate,
			Channels:     opts.Channels,
			SampleFormat: media.S16,
		})
	}
	return p, nil
}

func openPattern(path string) (Producer, error) {
	opts, err := ParsePatternOptions(path)
	if err != nil {
		return nil, err
	}
	return NewPattern(opts)
}

func init() {
	Register("pattern", openPattern)
}

func (p *Pattern) videoTime(i int) time.Duration {
	return time.Duration(float64(i) * float64(time.Second) / p.opts.FPS)
}

func (p *Pattern) audioTime(j int) time.Duration {
	return time.Duration(j) * p.opts.Block
}

func (p *Pattern) Produce(recycle Recycler) (StreamID, media.Frame, error) {
	if p.opts.Burst > 0 && p.produced > 0 && p.produced%p.opts.Burst == 0 && !p.blocked {
		p.blocked = true
		return 0, nil, ErrWouldBlock
	}

	vt := p.videoTime(p.video)
	at := p.audioTime(p.audio)
	useAudio := p.opts.Audio && at < vt

	ts := vt
	if useAudio {
		ts = at
	}
	if ts >= p.opts.Duration {
		return 0, nil, io.EOF
	}
	if p.opts.FailAt > 0 && ts >= p.opts.FailAt && !p.failed {
		p.failed = true
		return 0, nil, ErrPatternFailure
	}

	p.blocked = false
	p.produced++
	if useAudio {
		return 1, p.audioFrame(recycle), nil
	}
	return 0, p.videoFrame(recycle), nil
}

func (p *Pattern) videoFrame(recycle Recycler) media.Frame {
	i := p.video
	p.video++

	// A locked frame keeps its own geometry; the pattern is drawn at
	// whatever size it has.
	var vf *media.VideoFrame
	if recycle != nil {
		if f, ok := recycle(0).(*media.VideoFrame); ok {
			vf = f
			if !vf.Locked() {
				vf.SetGeometry(p.opts.Geometry)
			}
		}
	}
	if vf == nil {
		vf = recycledVideo(nil, 0, p.opts.Geometry, p.pool)
	}

	vf.Codec = "rawvideo"
	vf.FrameRate = p.opts.FPS
	vf.PTS = p.videoTime(i)
	vf.Key = i%p.opts.GOP == 0
	for k, plane := range vf.Planes {
		v := byte(i)
		if k > 0 {
			v = 128
		}
		for n := range plane {
			plane[n] = v
		}
	}
	return vf
}

func (p *Pattern) audioFrame(recycle Recycler) media.Frame {
	j := p.audio
	p.audio++

	af := recycledAudio(recycle, 1, p.pool)
	af.Codec = "pcm"
	af.SampleRate = p.opts.SampleRate
	af.Channels = p.opts.Channels
	af.Format = media.S16
	af.PTS = p.audioTime(j)

	n := int(p.opts.Block * time.Duration(p.opts.SampleRate) / time.Second)
	data := af.Alloc(n)
	first := int(p.audioTime(j) * time.Duration(p.opts.SampleRate) / time.Second)
	for s := 0; s < n; s++ {
		v := math.Sin(2 * math.Pi * p.opts.Tone * float64(first+s) / float64(p.opts.SampleRate))
		sample := uint16(int16(v * math.MaxInt16 / 2))
		for c := 0; c < p.opts.Channels; c++ {
			binary.LittleEndian.PutUint16(data[2*(s*p.opts.Channels+c):], sample)
		}
	}
	return af
}

// SeekTo positions video on the last key frame at or before ts and audio on
// the block containing it.
func (p *Pattern) SeekTo(ts time.Duration) error {
	if ts < 0 {
		ts = 0
	}
	i := int(math.Floor(ts.Seconds()*p.opts.FPS + 1e-9))
	p.video = i - i%p.opts.GOP
	p.audio = int(ts / p.opts.Block)
	p.blocked = false
	p.failed = false
	return nil
}

func (p *Pattern) Streams() []media.Info {
	return p.infos
}

func (p *Pattern) Close() error {
	p.pool.Clear()
	return nil
}
