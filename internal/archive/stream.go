package archive

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("archive: stream closed")

// Stream is a pull-driven archive: no entry is produced until a reader asks
// for bytes, and the producer side blocks whenever the reader does.
//
// A Stream must be either read to EOF or closed. Close is always safe and
// waits for the producer side to stop.
type Stream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	write   func(ctx context.Context, w io.Writer) error
	release func()

	mu      sync.Mutex
	started bool
	closed  bool
	pr      *io.PipeReader
	done    chan struct{}

	releaseOnce sync.Once
}

// NewStream wraps write, which must produce the complete archive into the
// writer it is given. release runs exactly once, when write has returned or
// when the stream is closed before it was ever read.
func NewStream(ctx context.Context, write func(ctx context.Context, w io.Writer) error, release func()) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	return &Stream{
		ctx:     ctx,
		cancel:  cancel,
		write:   write,
		release: release,
	}
}

// Read starts the producer on first use.
func (s *Stream) Read(p []byte) (int, error) {
	pr, err := s.start()
	if err != nil {
		return 0, err
	}
	return pr.Read(p)
}

func (s *Stream) start() (*io.PipeReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if !s.started {
		s.started = true
		pr, pw := io.Pipe()
		s.pr = pr
		s.done = make(chan struct{})

		// A cancelled context unblocks a producer parked on a pipe write.
		stop := context.AfterFunc(s.ctx, func() {
			pr.CloseWithError(context.Cause(s.ctx))
		})
		go s.run(pw, stop)
	}
	return s.pr, nil
}

func (s *Stream) run(pw *io.PipeWriter, stop func() bool) {
	defer close(s.done)
	defer s.cancel()
	defer stop()

	err := s.write(s.ctx, pw)
	s.doRelease()
	pw.CloseWithError(err)
}

// Close stops production, waits for it to wind down, and releases resources.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	s.cancel()
	if !started {
		s.doRelease()
		return nil
	}
	s.pr.CloseWithError(ErrClosed)
	<-s.done
	return nil
}

func (s *Stream) doRelease() {
	s.releaseOnce.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}
