package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/lanikai/framereader"
	"github.com/lanikai/framereader/internal/logging"
)

// Populated via -ldflags="-X ...".
var GitRevisionId string

var log = logging.DefaultLogger.WithTag("framereader")

// version displays information and exits successfully (GNU convention)
func version() {
	fmt.Println("framereader", GitRevisionId)
	fmt.Println("Copyright 2019 Lanikai Labs LLC. All rights reserved.")
}

type streamStats struct {
	frames int
	bytes  int
	first  time.Duration
	last   time.Duration
	eof    bool
}

func main() {
	s, err := loadSettings(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "Try 'framereader --help' for more information.")
		os.Exit(2)
	}
	if s.Help {
		help()
		return
	}
	if s.Version {
		version()
		return
	}

	if err := run(s, os.Stdout); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run(s *settings, out io.Writer) error {
	ctx := framereader.NewContext(nil)
	r, err := framereader.OpenSource(ctx, s.Source, s.Reader)
	if err != nil {
		return err
	}
	defer r.Close()

	log.Info("Reader %s opened %s", r.ID(), s.Source)
	if s.Seek > 0 {
		if err := r.Seek(s.Seek, s.Exact); err != nil {
			return err
		}
	}

	streams := r.Streams()
	stats := make(map[framereader.StreamID]*streamStats)
	for _, id := range streams {
		stats[id] = &streamStats{}
	}

	// Round-robin over the streams, one frame each, so that no buffer is
	// left to fill up while another is drained.
	frames := make(map[framereader.StreamID]framereader.Frame)
	for active := len(streams); active > 0; {
		for _, id := range streams {
			st := stats[id]
			if st.eof {
				continue
			}
			if s.Frames > 0 && st.frames >= s.Frames {
				st.eof = true
				active--
				continue
			}
			f := frames[id]
			err := r.ReadInto(id, &f, framereader.Forever)
			frames[id] = f
			if err == io.EOF {
				st.eof = true
				active--
				continue
			}
			if err != nil {
				return err
			}

			if st.frames == 0 {
				st.first = f.Timestamp()
			}
			st.frames++
			st.bytes += f.Size()
			st.last = f.Timestamp()
			if !s.Quiet {
				fmt.Fprintf(out, "stream %d  %12v  %8d bytes  %v\n", id, f.Timestamp(), f.Size(), f.Info())
			}
		}
	}

	bold := color.New(color.Bold)
	bold.Fprintln(out, "Summary")
	for _, id := range streams {
		st := stats[id]
		info, _ := r.StreamInfo(id)
		fmt.Fprintf(out, "  stream %d (%v): %d frames, %d bytes, %v to %v\n",
			id, info, st.frames, st.bytes, st.first, st.last)
	}
	return nil
}
