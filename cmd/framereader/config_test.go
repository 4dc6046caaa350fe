package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/framereader"
	"github.com/lanikai/framereader/internal/media"
)

func TestLoadSettings(t *testing.T) {
	s, err := loadSettings([]string{
		"-i", "pattern:fps=10,duration=1s,audio=1",
		"-n", "5",
		"--seek", "500ms", "--exact",
		"--slave", "0:1",
		"--lock", "64x32:nv12",
		"-p", "3",
	})
	require.NoError(t, err)

	assert.Equal(t, "pattern:fps=10,duration=1s,audio=1", s.Source)
	assert.Equal(t, 5, s.Frames)
	assert.Equal(t, 500*time.Millisecond, s.Seek)
	assert.True(t, s.Exact)
	assert.Equal(t, 3, s.Reader.PrimaryCapacity)
	assert.Equal(t, framereader.Dynamic, s.Reader.SecondaryCapacity)
	assert.Equal(t, [][]framereader.StreamID{{0, 1}}, s.Reader.SlaveGroups)
	assert.Equal(t, media.Geometry{Width: 64, Height: 32, Format: media.NV12}, s.Reader.LockGeometry)
}

func TestLoadSettingsFromEnvironment(t *testing.T) {
	t.Setenv("FRAMEREADER_PRIMARY_CAPACITY", "12")
	t.Setenv("FRAMEREADER_STREAMS", "0,2")

	s, err := loadSettings(nil)
	require.NoError(t, err)
	assert.Equal(t, 12, s.Reader.PrimaryCapacity)
	assert.Equal(t, []framereader.StreamID{0, 2}, s.Reader.Streams)
}

func TestParseGeometry(t *testing.T) {
	g, err := parseGeometry("640x480")
	require.NoError(t, err)
	assert.Equal(t, media.Geometry{Width: 640, Height: 480, Format: media.YUV420P}, g)

	for _, bad := range []string{"640", "0x480", "640x480:bogus", "axb"} {
		_, err := parseGeometry(bad)
		assert.Error(t, err, bad)
	}

	_, err = parseGeometry("640x480:bogus")
	assert.Equal(t, media.ErrUnknownPixelFormat, errors.Cause(err))
}

func TestParseStreams(t *testing.T) {
	ids, err := parseStreams("0:2", ":")
	require.NoError(t, err)
	assert.Equal(t, []framereader.StreamID{0, 2}, ids)

	_, err = parseStreams("0,x", ",")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `bad stream list "0,x"`)
	var numErr *strconv.NumError
	assert.True(t, errors.As(err, &numErr))
}

func TestLoadSettingsRejectsBrokenConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "framereader.yaml"), []byte("frames: [\n"), 0o644))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	_, err = loadSettings(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
	var parseErr viper.ConfigParseError
	assert.True(t, errors.As(err, &parseErr), "got %v", err)
}

func TestRun(t *testing.T) {
	s, err := loadSettings([]string{"-i", "pattern:fps=10,duration=1s,audio=1,size=16x16", "-n", "4"})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, run(s, &out))
	assert.Equal(t, 4, strings.Count(out.String(), "stream 0  "))
	assert.Equal(t, 4, strings.Count(out.String(), "stream 1  "))
	assert.Contains(t, out.String(), "stream 0 (")
	assert.Contains(t, out.String(), "4 frames")
}
