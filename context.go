package framereader

import (
	"github.com/google/uuid"

	"github.com/lanikai/framereader/internal/logging"
	"github.com/lanikai/framereader/internal/media"
	"github.com/lanikai/framereader/internal/source"
)

type (
	StreamID = source.StreamID
	Producer = source.Producer
	Recycler = source.Recycler

	Frame      = media.Frame
	VideoFrame = media.VideoFrame
	AudioFrame = media.AudioFrame
	Geometry   = media.Geometry
	StreamInfo = media.Info
)

// Context holds what readers share within one host: the root logger and
// the frame buffer pool. Build it once with NewContext and pass it to Open.
type Context struct {
	Log  *logging.Logger
	Pool *media.Pool
}

// NewContext returns a Context logging to log, or to the default logger if
// log is nil.
func NewContext(log *logging.Logger) *Context {
	if log == nil {
		log = logging.DefaultLogger
	}
	return &Context{
		Log:  log,
		Pool: media.NewPool(0),
	}
}

// newID returns a fresh reader id.
func (c *Context) newID() string {
	return uuid.New().String()
}
