package framereader

import (
	"errors"

	"github.com/lanikai/framereader/internal/dbuf"
	"github.com/lanikai/framereader/internal/ring"
	"github.com/lanikai/framereader/internal/source"
	"github.com/lanikai/framereader/internal/worker"
)

var (
	// ErrNotReady is returned by a read that found nothing within its
	// timeout.
	ErrNotReady = dbuf.ErrNotReady

	// ErrCancelled is returned by any wait interrupted by Close.
	ErrCancelled = dbuf.ErrCancelled

	// ErrOverflow is returned by a non-blocking push into a full buffer.
	ErrOverflow = dbuf.ErrOverflow

	// ErrBusy is returned when a buffer cannot be resized or flushed while
	// a frame is being written or read.
	ErrBusy = ring.ErrBusy

	// ErrAlreadyWriting and ErrAlreadyReading are panic values for a second
	// acquisition of a write or read slot by the same party.
	ErrAlreadyWriting = ring.ErrAlreadyWriting
	ErrAlreadyReading = ring.ErrAlreadyReading

	ErrAlreadyRunning = worker.ErrAlreadyRunning

	// ErrWouldBlock is returned by a producer with nothing available yet.
	ErrWouldBlock = source.ErrWouldBlock

	// ErrAllBuffersDynamic rejects configurations in which no buffer has a
	// fixed capacity; nothing would then bound the producer.
	ErrAllBuffersDynamic = errors.New("all buffers are dynamic")

	ErrUnknownStream = errors.New("unknown stream")
	ErrClosed        = errors.New("reader closed")
)

// ProducerError carries a failure of the producer, or of the goroutine
// running it, to the consumer.
type ProducerError struct {
	Op  string
	Err error
}

func (e *ProducerError) Error() string {
	return "producer " + e.Op + ": " + e.Err.Error()
}

func (e *ProducerError) Unwrap() error {
	return e.Err
}
