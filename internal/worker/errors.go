package worker

import (
	"fmt"

	"golang.org/x/xerrors"

	"github.com/lanikai/framereader/internal/cancel"
)

var (
	// ErrAlreadyRunning is returned by Start while a goroutine is attached.
	ErrAlreadyRunning = xerrors.New("worker: already running")

	// ErrStopped is returned by Start after Stop. A stopped worker cannot be
	// restarted; its cancellation flag stays raised.
	ErrStopped = xerrors.New("worker: stopped")

	ErrCancelled = cancel.ErrCancelled

	// ErrNotReady is returned by PauseTimeout when the step in progress did
	// not finish in time. The pause request stays pending.
	ErrNotReady = cancel.ErrNotReady
)

// PanicError is the failure recorded when a task step panics.
type PanicError struct {
	Value interface{}
	frame xerrors.Frame
}

func (e *PanicError) Error() string {
	return fmt.Sprint(e)
}

func (e *PanicError) Format(s fmt.State, v rune) { xerrors.FormatError(e, s, v) }

func (e *PanicError) FormatError(p xerrors.Printer) error {
	p.Printf("panic: %v", e.Value)
	e.frame.Format(p)
	return nil
}
