package ring

import (
	"errors"

	"github.com/lanikai/framereader/internal/cancel"
)

var (
	ErrCancelled = cancel.ErrCancelled
	ErrNotReady  = cancel.ErrNotReady

	// ErrOverflow is returned by a non-blocking write into a full fixed ring.
	ErrOverflow = errors.New("ring: overflow")

	// ErrBusy is returned by Resize when slots are in flight, or when the
	// pending data would not fit the new capacity.
	ErrBusy = errors.New("ring: slot in use")
)

// Protocol violations. These are raised with panic, never returned.
var (
	ErrAlreadyWriting = errors.New("ring: write slot already acquired")
	ErrAlreadyReading = errors.New("ring: read slot already acquired")
	ErrNotWriting     = errors.New("ring: no write slot acquired")
	ErrNotReading     = errors.New("ring: no read slot acquired")
)
