package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lanikai/framereader"
	"github.com/lanikai/framereader/internal/media"
)

// Settings resolved from flags, FRAMEREADER_* environment variables and an
// optional framereader.yaml, in that order of precedence.
type settings struct {
	Source  string
	Frames  int
	Seek    time.Duration
	Exact   bool
	Quiet   bool
	Reader  framereader.Config
	Help    bool
	Version bool
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("framereader", flag.ContinueOnError)
	fs.StringP("input", "i", "pattern:", "Source spec, e.g. mp4:clip.mp4")
	fs.IntP("frames", "n", 0, "Frames to read per stream; 0 reads to the end")
	fs.DurationP("seek", "s", 0, "Seek to this position before reading")
	fs.Bool("exact", false, "Drop frames before the seek position")
	fs.IntP("primary-capacity", "p", 8, "Capacity of each half of the primary buffer")
	fs.Int("secondary-capacity", framereader.Dynamic, "Capacity of other buffers; 0 is dynamic")
	fs.Int("primary", 0, "Primary stream")
	fs.String("streams", "", "Comma-separated streams to read (default: all)")
	fs.StringSlice("slave", nil, "Slave group, leader first, e.g. 0:1 (repeatable)")
	fs.String("lock", "", "Lock video frames to WxH[:format], e.g. 640x480:yuv420p")
	fs.Duration("open-timeout", 5*time.Second, "How long to wait for the first frame; 0 waits forever")
	fs.BoolP("quiet", "q", false, "Print the summary only")
	fs.BoolP("help", "h", false, "Print usage information and exit")
	fs.BoolP("version", "v", false, "Print version information and exit")
	return fs
}

func loadSettings(args []string) (*settings, error) {
	fs := newFlagSet()
	fs.Usage = func() {}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("framereader")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	v.SetConfigName("framereader")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/framereader")
	v.AddConfigPath("/etc/framereader")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	s := &settings{
		Source:  v.GetString("input"),
		Frames:  v.GetInt("frames"),
		Seek:    v.GetDuration("seek"),
		Exact:   v.GetBool("exact"),
		Quiet:   v.GetBool("quiet"),
		Help:    v.GetBool("help"),
		Version: v.GetBool("version"),
	}

	cfg := framereader.DefaultConfig()
	cfg.PrimaryCapacity = v.GetInt("primary-capacity")
	cfg.SecondaryCapacity = v.GetInt("secondary-capacity")
	cfg.Primary = framereader.StreamID(v.GetInt("primary"))
	cfg.OpenTimeout = v.GetDuration("open-timeout")

	var err error
	if spec := v.GetString("streams"); spec != "" {
		if cfg.Streams, err = parseStreams(spec, ","); err != nil {
			return nil, err
		}
	}
	for _, spec := range v.GetStringSlice("slave") {
		group, err := parseStreams(spec, ":")
		if err != nil {
			return nil, err
		}
		cfg.SlaveGroups = append(cfg.SlaveGroups, group)
	}
	if spec := v.GetString("lock"); spec != "" {
		if cfg.LockGeometry, err = parseGeometry(spec); err != nil {
			return nil, err
		}
	}
	s.Reader = cfg
	return s, nil
}

func parseStreams(s, sep string) ([]framereader.StreamID, error) {
	var ids []framereader.StreamID
	for _, f := range strings.Split(s, sep) {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, errors.Wrapf(err, "bad stream list %q", s)
		}
		ids = append(ids, framereader.StreamID(n))
	}
	return ids, nil
}

// parseGeometry reads "WxH" or "WxH:format". The format defaults to yuv420p.
func parseGeometry(s string) (media.Geometry, error) {
	g := media.Geometry{Format: media.YUV420P}
	size := s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		pf, err := media.ParsePixelFormat(s[i+1:])
		if err != nil {
			return g, err
		}
		g.Format, size = pf, s[:i]
	}
	if _, err := fmt.Sscanf(size, "%dx%d", &g.Width, &g.Height); err != nil || g.Width <= 0 || g.Height <= 0 {
		return g, errors.Errorf("bad geometry %q", s)
	}
	return g, nil
}
