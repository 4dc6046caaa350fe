//////////////////////////////////////////////////////////////////////////////
//
// Config contains configuration data for Reader
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package framereader

import (
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/framereader/internal/dbuf"
	"github.com/lanikai/framereader/internal/media"
)

// Dynamic selects an auto-expanding buffer whose pushes never block.
const Dynamic = dbuf.Dynamic

type Config struct {
	// Capacity of each half of the primary stream's double buffer.
	PrimaryCapacity int

	// Capacity of each half of every other stream's double buffer. Dynamic
	// by default.
	SecondaryCapacity int

	// Primary is the stream whose first frame gates Open.
	Primary StreamID

	// Streams to read. Frames of other streams are dropped. Nil selects
	// every stream of the producer.
	Streams []StreamID

	// Each group's first stream leads; the others swap only when it does,
	// so they stay aligned with it. Followers must be Dynamic.
	SlaveGroups [][]StreamID

	// Non-zero locks every video frame buffered by the reader to this
	// geometry, so slots are refilled without reallocation.
	LockGeometry media.Geometry

	// How long Open waits for the primary stream's first frame. Zero waits
	// indefinitely.
	OpenTimeout time.Duration

	// While the producer has nothing to offer (ErrWouldBlock), blocking
	// reads nudge it at this interval.
	RetryInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		PrimaryCapacity:   8,
		SecondaryCapacity: Dynamic,
		RetryInterval:     10 * time.Millisecond,
	}
}

// capacity returns the buffer capacity for stream id.
func (c *Config) capacity(id StreamID) int {
	if id == c.Primary {
		return c.PrimaryCapacity
	}
	return c.SecondaryCapacity
}

// selected returns the streams to read out of n, with the defaults applied.
func (c *Config) selected(n int) []StreamID {
	if c.Streams != nil {
		return c.Streams
	}
	ids := make([]StreamID, n)
	for i := range ids {
		ids[i] = StreamID(i)
	}
	return ids
}

// Validate checks the configuration against a producer with n streams.
func (c *Config) Validate(n int) error {
	if c.PrimaryCapacity < 0 || c.SecondaryCapacity < 0 {
		return errors.New("negative buffer capacity")
	}
	if c.RetryInterval < 0 {
		return errors.New("negative retry interval")
	}

	ids := c.selected(n)
	if len(ids) == 0 {
		return errors.New("no streams selected")
	}
	seen := make(map[StreamID]bool)
	fixed := false
	for _, id := range ids {
		if id < 0 || int(id) >= n {
			return errors.Wrapf(ErrUnknownStream, "stream %d", id)
		}
		if seen[id] {
			return errors.Errorf("stream %d selected twice", id)
		}
		seen[id] = true
		if c.capacity(id) != Dynamic {
			fixed = true
		}
	}
	if !seen[c.Primary] {
		return errors.Wrapf(ErrUnknownStream, "primary stream %d not selected", c.Primary)
	}
	if !fixed {
		return ErrAllBuffersDynamic
	}

	grouped := make(map[StreamID]bool)
	for _, group := range c.SlaveGroups {
		if len(group) < 2 {
			return errors.Errorf("slave group %v needs a leader and at least one follower", group)
		}
		for i, id := range group {
			if !seen[id] {
				return errors.Wrapf(ErrUnknownStream, "slave group stream %d", id)
			}
			if grouped[id] {
				return errors.Errorf("stream %d is in more than one slave group", id)
			}
			grouped[id] = true
			if i > 0 && c.capacity(id) != Dynamic {
				return errors.Errorf("follower stream %d must be dynamic", id)
			}
		}
	}
	return nil
}
