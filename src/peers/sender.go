package peers

import (
	"errors"
	"sync"
)

var (
	// ErrPeerDisconnected is returned when sending to a peer whose outbox has
	// been closed.
	ErrPeerDisconnected = errors.New("peer disconnected")

	// ErrOutboxFull is returned when the peer's outbox cannot take another
	// frame without blocking.
	ErrOutboxFull = errors.New("peer outbox full")
)

// Sender is the outbound queue of a peer. Frames pushed with Send are
// consumed by the connection's write loop through Outbox. Send never blocks.
type Sender struct {
	mtx    sync.RWMutex
	ch     chan []byte
	closed bool
}

// NewSender creates a Sender buffering up to size frames.
func NewSender(size int) *Sender {
	if size < 1 {
		size = 1
	}
	return &Sender{
		ch: make(chan []byte, size),
	}
}

// Send queues a frame.
func (s *Sender) Send(frame []byte) error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if s.closed {
		return ErrPeerDisconnected
	}

	select {
	case s.ch <- frame:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Outbox is read by the write loop. It is closed by Close.
func (s *Sender) Outbox() <-chan []byte {
	return s.ch
}

// Close closes the outbox. Further sends fail with ErrPeerDisconnected.
func (s *Sender) Close() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Closed ...
func (s *Sender) Closed() bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return s.closed
}

// Shutdown is a one-shot signal telling a connection's goroutines to stop.
type Shutdown struct {
	once sync.Once
	ch   chan struct{}
}

// NewShutdown ...
func NewShutdown() *Shutdown {
	return &Shutdown{
		ch: make(chan struct{}),
	}
}

// Fire signals the shutdown. Only the first call has an effect.
func (s *Shutdown) Fire() {
	s.once.Do(func() {
		close(s.ch)
	})
}

// Done is closed once Fire has been called.
func (s *Shutdown) Done() <-chan struct{} {
	return s.ch
}

// Fired reports whether Fire has been called.
func (s *Shutdown) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
