package source

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nareix/joy4/codec/h264parser"
	"github.com/pkg/errors"

	"github.com/lanikai/framereader/internal/media"
)

const (
	naluBufferInitialSize = 16 * 1024
	naluBufferMaximumSize = 1024 * 1024

	defaultH264FPS = 30

	naluTypeIDR = 5
	naluTypeSPS = 7
)

type nalu []byte

func (n nalu) Type() byte {
	return n[0] & 0x1f
}

// Slices of coded pictures, types 1 through 5.
func (n nalu) VCL() bool {
	t := n.Type()
	return t >= 1 && t <= naluTypeIDR
}

// FirstSlice reports whether a slice starts a picture: first_mb_in_slice is
// 0, coded as a leading 1 bit in the slice header.
func (n nalu) FirstSlice() bool {
	return len(n) > 1 && n[1]&0x80 != 0
}

// H264 reads a raw H.264 elementary stream with NAL units separated by
// Annex B start codes. Raw streams carry no timing, so frames are stamped
// at a fixed rate.
type H264 struct {
	in      io.ReadSeekCloser
	name    string
	scanner *bufio.Scanner
	fps     float64
	pool    *media.Pool
	info    media.Info

	// NAL units read ahead of the next access unit.
	pending []nalu
	// Access units read while seeking, from the last key frame on.
	replay []accessUnit
	// Index of the next frame, for timestamps.
	frames int
}

type accessUnit struct {
	data []byte
	key  bool
}

// OpenH264 opens an Annex B file. The path may carry a frame rate suffix,
// e.g. "/tmp/clip.h264@25".
func OpenH264(path string) (*H264, error) {
	fps := float64(defaultH264FPS)
	if i := strings.LastIndexByte(path, '@'); i >= 0 {
		v, err := strconv.ParseFloat(path[i+1:], 64)
		if err != nil || v <= 0 {
			return nil, errors.Errorf("bad frame rate in %q", path)
		}
		fps, path = v, path[:i]
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewH264(f, path, fps)
}

// NewH264 reads from in. It parses ahead to the first SPS to learn the
// picture size.
func NewH264(in io.ReadSeekCloser, name string, fps float64) (*H264, error) {
	h := &H264{
		in:   in,
		name: name,
		fps:  fps,
		pool: media.NewPool(0),
	}
	h.reset()

	if err := h.probe(); err != nil {
		in.Close()
		return nil, err
	}
	if err := h.rewind(); err != nil {
		in.Close()
		return nil, err
	}
	return h, nil
}

func openH264(path string) (Producer, error) {
	return OpenH264(path)
}

func init() {
	Register("h264", openH264)
}

func (h *H264) reset() {
	buffer := make([]byte, naluBufferInitialSize)
	h.scanner = bufio.NewScanner(h.in)
	h.scanner.Buffer(buffer, naluBufferMaximumSize)
	h.scanner.Split(splitNALU)
	h.pending = nil
	h.replay = nil
	h.frames = 0
}

func (h *H264) rewind() error {
	if _, err := h.in.Seek(0, io.SeekStart); err != nil {
		return errors.Wrapf(err, "rewind %s", h.name)
	}
	h.reset()
	return nil
}

func (h *H264) probe() error {
	for h.scanner.Scan() {
		n := nalu(h.scanner.Bytes())
		if len(n) == 0 || n.Type() != naluTypeSPS {
			continue
		}
		sps, err := h264parser.ParseSPS(n)
		if err != nil {
			return errors.Wrapf(err, "parse SPS in %s", h.name)
		}
		h.info = media.Info{
			Kind:      media.Video,
			Codec:     "h264",
			Geometry:  media.Geometry{Width: int(sps.Width), Height: int(sps.Height), Format: media.Compressed},
			FrameRate: h.fps,
		}
		return nil
	}
	if err := h.scanner.Err(); err != nil {
		return errors.Wrapf(err, "read %s", h.name)
	}
	return errors.Errorf("no SPS found in %s", h.name)
}

// next reads one access unit: any parameter sets and SEI followed by the
// slices of a single picture.
func (h *H264) next() (accessUnit, error) {
	var au accessUnit
	var picture bool
	for {
		var n nalu
		if len(h.pending) > 0 {
			n, h.pending = h.pending[0], h.pending[1:]
		} else if h.scanner.Scan() {
			// The scanner reuses its buffer.
			n = append(nalu(nil), h.scanner.Bytes()...)
		} else {
			if err := h.scanner.Err(); err != nil {
				return au, errors.Wrapf(err, "read %s", h.name)
			}
			if picture {
				return au, nil
			}
			return au, io.EOF
		}
		if len(n) == 0 {
			continue
		}

		// A new picture starts with a non-VCL unit or a first slice.
		if picture && (!n.VCL() || n.FirstSlice()) {
			h.pending = append(h.pending, n)
			return au, nil
		}
		au.data = append(au.data, annexBStartCode...)
		au.data = append(au.data, n...)
		if n.VCL() {
			picture = true
			au.key = au.key || n.Type() == naluTypeIDR
		}
	}
}

func (h *H264) Produce(recycle Recycler) (StreamID, media.Frame, error) {
	var au accessUnit
	if len(h.replay) > 0 {
		au, h.replay = h.replay[0], h.replay[1:]
	} else {
		var err error
		if au, err = h.next(); err != nil {
			return 0, nil, err
		}
	}

	vf := recycledVideo(recycle, 0, h.info.Geometry, h.pool)
	vf.Codec = "h264"
	vf.FrameRate = h.fps
	vf.PTS = h.frameTime(h.frames)
	vf.Key = au.key
	if err := vf.SetData(au.data); err != nil {
		return 0, nil, err
	}
	h.frames++
	return 0, vf, nil
}

func (h *H264) frameTime(i int) time.Duration {
	return time.Duration(float64(i) * float64(time.Second) / h.fps)
}

// SeekTo rewinds and scans forward to the last key frame at or before ts.
// The access units from there on are replayed by the following Produce
// calls.
func (h *H264) SeekTo(ts time.Duration) error {
	if err := h.rewind(); err != nil {
		return err
	}
	target := int(ts.Seconds()*h.fps + 1e-9)

	var gop []accessUnit
	start := 0
	for i := 0; i <= target; i++ {
		au, err := h.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if au.key {
			gop, start = nil, i
		}
		gop = append(gop, au)
	}
	h.replay = gop
	h.frames = start
	return nil
}

func (h *H264) Streams() []media.Info {
	return []media.Info{h.info}
}

func (h *H264) Close() error {
	h.pool.Clear()
	return h.in.Close()
}

var h264StartCode = []byte{0, 0, 1}

// Splits NAL units on H.264 Annex B start codes.
func splitNALU(data []byte, atEOF bool) (advance int, token []byte, err error) {
	i := bytes.Index(data, h264StartCode)

	switch i {
	case -1:
		if atEOF && len(data) > 0 {
			// Trailing unit without a following start code.
			return len(data), data, nil
		}
		// No start code found. Wait for more data.
		advance = 0
	case 0:
		// 3-byte start code (0x000001) found at data[0]. Skip these 3 bytes.
		advance = 3
	case 1:
		// 4-byte start code (0x00000001) found at data[0]. Skip these 4 bytes.
		if data[0] != 0x00 {
			advance, token = 1, data[:1]
			break
		}
		advance = 4
	default:
		// Next start code found at index i.
		advance = i + 3
		if data[i-1] == 0x00 {
			// 4-byte start code
			token = data[0 : i-1]
		} else {
			// 3-byte start code
			token = data[0:i]
		}
	}
	return
}
