//////////////////////////////////////////////////////////////////////////////
//
// Reader pulls frames from a producer goroutine through one double buffer
// per stream.
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package framereader

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/lanikai/framereader/internal/cancel"
	"github.com/lanikai/framereader/internal/dbuf"
	"github.com/lanikai/framereader/internal/logging"
	"github.com/lanikai/framereader/internal/media"
	"github.com/lanikai/framereader/internal/source"
	"github.com/lanikai/framereader/internal/worker"
)

const (
	Forever = dbuf.Forever
	NoWait  = dbuf.NoWait
)

type Reader struct {
	ctx *Context
	id  string
	log *logging.Logger
	cfg Config

	producer Producer
	kill     *cancel.Flag
	task     *readTask
	worker   *worker.Worker

	// Indexed by StreamID; nil for streams not read.
	buffers []*dbuf.Buffer[media.Frame]
	streams []StreamID

	// Serializes Seek, Pause, Resume and Close.
	mu     sync.Mutex
	closed bool

	infoMu sync.Mutex
	infos  []StreamInfo
}

// OpenSource opens a producer from a source spec such as
// "pattern:fps=30,duration=10s" and starts reading it.
func OpenSource(ctx *Context, spec string, cfg Config) (*Reader, error) {
	p, err := source.Open(spec)
	if err != nil {
		return nil, err
	}
	r, err := Open(ctx, p, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	return r, nil
}

// Open builds the buffers for cfg, starts the producer goroutine and waits
// for the primary stream's first frame. The reader owns producer from here
// on, except when Open fails.
func Open(ctx *Context, producer Producer, cfg Config) (*Reader, error) {
	if ctx == nil {
		ctx = NewContext(nil)
	}
	infos := producer.Streams()
	if err := cfg.Validate(len(infos)); err != nil {
		return nil, err
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = DefaultConfig().RetryInterval
	}

	r := &Reader{
		ctx:      ctx,
		id:       ctx.newID(),
		cfg:      cfg,
		producer: producer,
		kill:     cancel.New(),
		buffers:  make([]*dbuf.Buffer[media.Frame], len(infos)),
		streams:  cfg.selected(len(infos)),
		infos:    append([]StreamInfo(nil), infos...),
	}
	r.log = ctx.Log.WithTag("reader").WithTag(r.id[:8])

	r.task = newReadTask(r, eofOrder(r.streams, cfg.SlaveGroups))
	for _, id := range r.streams {
		opts := r.bufferOptions(id, infos[id])
		r.buffers[id] = dbuf.New(opts)
		if opts.New != nil {
			r.task.alloc[id] = func() media.Frame {
				f := opts.New()
				opts.Prepare(f)
				return f
			}
		}
	}
	for _, group := range cfg.SlaveGroups {
		leader := r.buffers[group[0]]
		for _, id := range group[1:] {
			leader.AddSlave(r.buffers[id])
		}
	}

	r.worker = worker.New("producer", r.task, worker.Options{
		Kill:      r.kill,
		OnFailure: r.fail,
		Log:       r.log,
	})

	if err := r.activate(); err != nil {
		r.stop()
		return nil, err
	}
	return r, nil
}

func (r *Reader) bufferOptions(id StreamID, info StreamInfo) dbuf.Options[media.Frame] {
	opts := dbuf.Options[media.Frame]{
		Capacity: r.cfg.capacity(id),
		Kill:     r.kill,
		Log:      r.log.WithTag("dbuf"),
	}
	if info.Kind == media.Video && !r.cfg.LockGeometry.IsZero() {
		pool := r.ctx.Pool
		opts.New = func() media.Frame { return media.NewVideoFrame(pool) }
		opts.Prepare = media.LockGeometry(r.cfg.LockGeometry)
	}
	return opts
}

// eofOrder lists streams so that every follower precedes its leader.
func eofOrder(streams []StreamID, groups [][]StreamID) []StreamID {
	followers := make(map[StreamID]bool)
	for _, g := range groups {
		for _, id := range g[1:] {
			followers[id] = true
		}
	}
	var first, last []StreamID
	for _, id := range streams {
		if followers[id] {
			first = append(first, id)
		} else {
			last = append(last, id)
		}
	}
	return append(first, last...)
}

func (r *Reader) activate() error {
	if err := r.worker.Start(); err != nil {
		return err
	}

	timeout := r.cfg.OpenTimeout
	if timeout == 0 {
		timeout = Forever
	}
	primary := r.buffers[r.cfg.Primary]
	if err := primary.WaitData(timeout); err != nil {
		return err
	}

	if f, eof, ok := primary.Front(); ok && !eof && f != nil {
		info := f.Info()
		r.infoMu.Lock()
		r.infos[r.cfg.Primary] = info
		r.infoMu.Unlock()
		r.log.Info("Primary stream %d: %v", r.cfg.Primary, info)
	}
	return nil
}

// fail runs on the producer goroutine when it fails.
func (r *Reader) fail(err error) {
	var perr *ProducerError
	if !errors.As(err, &perr) {
		perr = &ProducerError{Op: "run", Err: err}
	}
	for _, id := range r.streams {
		r.buffers[id].Fail(perr)
	}
}

func (r *Reader) buffer(id StreamID) (*dbuf.Buffer[media.Frame], error) {
	if id < 0 || int(id) >= len(r.buffers) || r.buffers[id] == nil {
		return nil, ErrUnknownStream
	}
	return r.buffers[id], nil
}

// ReadNextFrame returns the next frame of stream id. A blocking read waits
// until a frame is available; a non-blocking one returns ErrNotReady
// instead. At the end of the stream it returns io.EOF, repeatedly.
func (r *Reader) ReadNextFrame(id StreamID, blocking bool) (Frame, error) {
	timeout := NoWait
	if blocking {
		timeout = Forever
	}
	var f Frame
	if err := r.ReadInto(id, &f, timeout); err != nil {
		return nil, err
	}
	return f, nil
}

// ReadInto moves the next frame of stream id into *out, waiting up to
// timeout. The frame *out held before is recycled into the buffer, so a
// caller that keeps passing the same variable reads without allocating.
func (r *Reader) ReadInto(id StreamID, out *Frame, timeout time.Duration) error {
	b, err := r.buffer(id)
	if err != nil {
		return err
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	wait := NoWait
	for {
		eof, err := b.Pop(out, wait)
		if err == nil && eof {
			return io.EOF
		}
		if err != ErrNotReady {
			return err
		}

		// A producer that had nothing to offer parks itself; wake it up.
		if r.worker.State() == worker.Idle {
			r.worker.Resume()
		}

		switch {
		case timeout == NoWait:
			return ErrNotReady
		case timeout > 0:
			wait = time.Until(deadline)
			if wait <= 0 {
				return ErrNotReady
			}
		default:
			wait = Forever
		}
		// The producer may park while we wait; look again shortly.
		if wait < 0 || wait > r.cfg.RetryInterval {
			wait = r.cfg.RetryInterval
		}
	}
}

// Seek repositions every stream at ts. Buffered frames are discarded. With
// exact set, frames before ts are dropped so that each stream resumes at
// the first frame at or after ts; otherwise streams resume wherever the
// producer lands, typically the preceding key frame.
func (r *Reader) Seek(ts time.Duration, exact bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	if err := r.worker.Pause(); err != nil {
		return err
	}
	r.task.reset()
	for _, id := range r.streams {
		if err := r.buffers[id].Reset(dbuf.Forever); err != nil {
			return err
		}
	}
	if err := r.producer.SeekTo(ts); err != nil {
		return &ProducerError{Op: "seek", Err: err}
	}
	if exact {
		r.task.seekExact(ts)
	}
	r.log.Debug("Seek to %v (exact=%v)", ts, exact)
	return r.worker.Resume()
}

// Pause stops the producer between two frames. Buffered frames stay
// readable.
func (r *Reader) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return r.worker.Pause()
}

func (r *Reader) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return r.worker.Resume()
}

// Close stops the producer goroutine, cancels every pending read and
// closes the producer. It is safe to call more than once.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.stop()
	return r.producer.Close()
}

func (r *Reader) stop() {
	if err := r.worker.Stop(); err != nil {
		r.log.Debug("Producer goroutine ended with: %v", err)
	}
	for _, id := range r.streams {
		r.buffers[id].Close()
	}
}

// ID is a unique identifier of this reader, used in log tags.
func (r *Reader) ID() string {
	return r.id
}

// Streams lists the streams being read.
func (r *Reader) Streams() []StreamID {
	return append([]StreamID(nil), r.streams...)
}

// StreamInfo describes stream id. The primary stream's description comes
// from its first decoded frame.
func (r *Reader) StreamInfo(id StreamID) (StreamInfo, error) {
	if _, err := r.buffer(id); err != nil {
		return StreamInfo{}, err
	}
	r.infoMu.Lock()
	defer r.infoMu.Unlock()
	return r.infos[id], nil
}

// Buffered reports how many frames of stream id are waiting to be read.
func (r *Reader) Buffered(id StreamID) int {
	b, err := r.buffer(id)
	if err != nil {
		return 0
	}
	return b.Len()
}

// Err returns the producer failure, if any.
func (r *Reader) Err() error {
	return r.worker.Err()
}
