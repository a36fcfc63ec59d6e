package broker

import (
	"net"
	"sync"
	"time"

	"github.com/LorenzoLeonardo/ipc-server/internal/wire"
)

// idlePollInterval bounds how long a peer's own idle read holds s.mu
// before releasing it and retrying. Without this, a peer sitting between
// messages would hold mu in a single unbounded blocking ReadFrame
// forever, and the task manager's forward (call) or broadcast (write) to
// that same socket would never get the lock. Mirrors
// original_source/src/server.rs's Server::read: a non-blocking try_read
// that yields and lets another task take the mutex when nothing is
// available yet, instead of one read call pinning it indefinitely.
const idlePollInterval = 50 * time.Millisecond

// socketHandle is a peer's connection shared between its own peer
// connection loop and the task manager. A provider's socket is written
// to (and read from) by the task manager while forwarding a call; mu
// serializes every logical read-then-write operation so the two owners
// never interleave bytes on the wire. This is also what makes the task
// manager's forwarded call starve the provider's own read loop while the
// call is in flight: the provider's loop blocks on the same mutex, but
// only for the duration of that one call, not indefinitely (see read).
type socketHandle struct {
	codec *wire.Codec
	mu    sync.Mutex
}

func newSocketHandle(codec *wire.Codec) *socketHandle {
	return &socketHandle{codec: codec}
}

// read performs one framed read, polling in idlePollInterval slices and
// releasing mu between attempts. This is what lets call/write acquire mu
// promptly even while this peer is otherwise idle, waiting for its next
// message.
func (s *socketHandle) read() ([]byte, error) {
	for {
		s.mu.Lock()
		s.codec.Conn.SetReadDeadline(time.Now().Add(idlePollInterval))
		data, err := s.codec.ReadFrame()
		s.codec.Conn.SetReadDeadline(time.Time{})
		s.mu.Unlock()
		if err == nil {
			return data, nil
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			continue
		}
		return nil, err
	}
}

// write performs one framed write while holding the lock.
func (s *socketHandle) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec.WriteFrame(data)
}

// call writes a request and reads its single reply while holding the
// lock for the whole operation, per the concurrency contract in §4.2:
// a forwarded call must not have its request and reply bytes interleaved
// with anything else on the same socket.
func (s *socketHandle) call(request []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.codec.WriteFrame(request); err != nil {
		return nil, err
	}
	return s.codec.ReadFrame()
}

func (s *socketHandle) close() error {
	return s.codec.Close()
}
