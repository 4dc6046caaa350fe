package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

const helpString = `Buffered frame reader for media sources

Usage: framereader [OPTION]...

Source:
  -i, --input=SPEC       Source spec (default: pattern:)
                         pattern:fps=30,duration=10s,audio=1,size=640x480
                         mp4:/path/to/clip.mp4
                         h264:/path/to/clip.h264@25
  -s, --seek=DURATION    Seek before reading, e.g. 1m30s
      --exact            Drop frames before the seek position
  -n, --frames=NUM       Frames to read per stream (default: to the end)

Buffering:
  -p, --primary-capacity=NUM    Primary buffer half size (default: 8)
      --secondary-capacity=NUM  Other buffer half size, 0 for dynamic (default: 0)
      --primary=ID              Primary stream (default: 0)
      --streams=ID,...          Streams to read (default: all)
      --slave=LEADER:ID...      Slave group, repeatable
      --lock=WxH[:FORMAT]       Lock video frame geometry
      --open-timeout=DURATION   Wait for the first frame (default: 5s)

Miscellaneous:
  -q, --quiet            Print the summary only
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits

Every option may also be set as FRAMEREADER_<OPTION> in the environment or
in framereader.yaml. Log levels come from LOGLEVEL, e.g. LOGLEVEL=dbuf=debug.`

// Help information is printed and program exits
func help() {
	heading := color.New(color.FgCyan, color.Bold)
	flagColor := color.New(color.FgYellow)

	for _, line := range strings.Split(helpString, "\n") {
		switch {
		case strings.HasSuffix(line, ":") && !strings.HasPrefix(line, " "):
			heading.Println(line)
		case strings.HasPrefix(line, "  -"):
			// Flag names end at the first double space.
			if i := strings.Index(line[2:], "  "); i > 0 {
				flagColor.Print(line[:i+2])
				fmt.Println(line[i+2:])
				continue
			}
			fmt.Println(line)
		default:
			fmt.Println(line)
		}
	}
}
