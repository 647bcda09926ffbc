package relay

import (
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrSlowListener is returned by Sink.Write when the listener's buffer is
// full. The relay drops the listener rather than block the broadcast.
var ErrSlowListener = errors.New("listener buffer full")

// Sink is the write side of one listener connection. The HTTP handler that
// created it owns the read side and its lifetime; the registry only holds a
// membership reference for fan-out.
type Sink struct {
	sync.Mutex
	id     string
	ch     chan []byte
	closed bool
}

func NewSink(buffer int) *Sink {
	return &Sink{
		id: uuid.NewString(),
		ch: make(chan []byte, buffer),
	}
}

func (s *Sink) ID() string { return s.id }

// Chunks returns the receive side consumed by the listener's handler. The
// channel is closed when the sink is closed.
func (s *Sink) Chunks() <-chan []byte { return s.ch }

// Write hands a chunk to the listener without blocking. A full buffer yields
// ErrSlowListener; a closed sink yields io.ErrClosedPipe.
func (s *Sink) Write(p []byte) (n int, err error) {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}

	select {
	case s.ch <- p:
		return len(p), nil
	default:
		return 0, ErrSlowListener
	}
}

func (s *Sink) Close() error {
	s.Lock()
	defer s.Unlock()

	if !s.closed {
		close(s.ch)
		s.closed = true
	}

	return nil
}
