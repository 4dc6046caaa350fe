package logging

import (
	"fmt"
	"os"
	"strings"
)

const envVar = "LOGLEVEL"

type tagLevel struct {
	tag   string
	level Level
}

var tagLevels []tagLevel

func init() {
	levels, def, errs := parseDirectives(os.Getenv(envVar))
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "Invalid %s directive: %s\n", envVar, err)
	}
	tagLevels = levels
	if def != nil {
		defaultLevel = *def
	}

	DefaultLogger.Level = defaultLevel
}

// parseDirectives splits a comma-separated list of "tag=level" directives. A
// directive without "tag=" sets the default level.
func parseDirectives(s string) (levels []tagLevel, def *Level, errs []error) {
	for _, d := range strings.Split(s, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		level, err := ParseLevel(v[len(v)-1])
		if err != nil {
			errs = append(errs, fmt.Errorf("'%s': %v", d, err))
			continue
		}
		if len(v) == 1 {
			l := level
			def = &l
		} else {
			levels = append(levels, tagLevel{v[0], level})
		}
	}
	return
}

func determineLevel(tag string, fallback Level) Level {
	for _, e := range tagLevels {
		if e.tag == tag {
			return e.level
		}
	}
	return fallback
}
