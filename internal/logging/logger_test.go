package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for s, want := range map[string]Level{
		"e":     Error,
		"WARN":  Warn,
		"info":  Info,
		"D":     Debug,
		"trace": MaxLevel,
		"5":     Level(5),
	} {
		level, err := ParseLevel(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, level, s)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
	_, err = ParseLevel("10")
	assert.Error(t, err)
}

func TestParseDirectives(t *testing.T) {
	levels, def, errs := parseDirectives("debug, dbuf=trace,worker=w,bogus=x")
	require.NotNil(t, def)
	assert.Equal(t, Debug, *def)
	assert.Equal(t, []tagLevel{{"dbuf", MaxLevel}, {"worker", Warn}}, levels)
	assert.Len(t, errs, 1)
}

func TestLevelFiltering(t *testing.T) {
	var out bytes.Buffer
	log := New(&out, Info).WithTag("ring")

	log.Debug("hidden %d", 1)
	log.Info("shown %d", 2)
	log.Warn("also shown\n")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], " I/ring[logger_test.go:")
	assert.True(t, strings.HasSuffix(lines[0], "shown 2"))
	assert.Contains(t, lines[1], " W/ring[")
}

func TestWithTagNests(t *testing.T) {
	log := New(&bytes.Buffer{}, Debug).WithTag("reader").WithTag("dbuf")
	assert.Equal(t, "reader/dbuf", log.Tag)
	assert.True(t, log.Enabled(Debug))
	assert.False(t, Discard.Enabled(Error))
}
