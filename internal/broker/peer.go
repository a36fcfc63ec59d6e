package broker

import (
	"io"
	"log"
	"net"

	"github.com/LorenzoLeonardo/ipc-server/internal/wire"
)

// peerState names the three states spec §4.2 assigns a peer connection.
// run records the current state on the peerConn, but nothing reads it;
// the control flow below is what actually enforces the transitions.
type peerState int

const (
	stateReading peerState = iota
	stateAwaitingReply
	stateClosed
)

func (s peerState) String() string {
	switch s {
	case stateReading:
		return "reading"
	case stateAwaitingReply:
		return "awaiting-reply"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// peerConn is one accepted connection: one per participant process. It owns
// the read side of the socket and a socketHandle shared with the task
// manager, which may write to (and read the reply from) this same socket
// while forwarding a call this peer provides. Grounded in
// cellorg/internal/broker/service.go's handleConnection and
// original_source/src/server.rs's Server::handle_client.
type peerConn struct {
	addr   string
	handle *socketHandle
	workCh chan<- workItem
	debug  bool

	state peerState
}

func newPeerConn(conn net.Conn, workCh chan<- workItem, debug bool) *peerConn {
	return &peerConn{
		addr:   conn.RemoteAddr().String(),
		handle: newSocketHandle(wire.NewCodec(conn)),
		workCh: workCh,
		debug:  debug,
		state:  stateReading,
	}
}

// String identifies this peer by its remote address, matching the spec's
// "identified by its remote socket address" data model (§3).
func (p *peerConn) String() string { return p.addr }

// run drives the peer's state machine until the connection closes. It
// reads one framed message, submits it to the task manager, waits for the
// reply, writes it back, and repeats. On EOF or I/O error it notifies the
// task manager so the peer's registrations and subscriptions are dropped.
func (p *peerConn) run() {
	defer func() {
		p.state = stateClosed
		p.workCh <- removeRegistered{peer: p}
		p.handle.close()
		if p.debug {
			log.Printf("broker: peer %s closed", p.addr)
		}
	}()

	for {
		p.state = stateReading
		data, err := p.handle.read()
		if err != nil {
			if p.debug && err != io.EOF {
				log.Printf("broker: peer %s read error: %v", p.addr, err)
			}
			return
		}

		env, err := wire.Decode(data)
		if err != nil {
			// Codec failure: reply in place, connection stays open
			// (spec §4.2, §7 "Codec" error class).
			errEnv := wire.NewError(wire.ReplySerdeParsingError)
			if b, encErr := wire.Encode(errEnv); encErr == nil {
				if werr := p.handle.write(b); werr != nil {
					if p.debug {
						log.Printf("broker: peer %s write error after decode failure: %v", p.addr, werr)
					}
					return
				}
			}
			continue
		}

		reply := make(chan []byte, 1)
		p.state = stateAwaitingReply
		p.workCh <- processInput{envelope: env, peer: p, reply: reply}

		data, ok := <-reply
		if !ok || data == nil {
			// Reply channel dropped without a value: write nothing
			// meaningful back, per spec §4.2's "write an empty reply".
			data = []byte{}
		}
		if err := p.handle.write(data); err != nil {
			if p.debug {
				log.Printf("broker: peer %s write error: %v", p.addr, err)
			}
			return
		}
	}
}

// forward writes request on this peer's socket and reads back exactly one
// framed reply, holding the write lock for the whole round trip so the
// peer's own read loop cannot interleave with the forwarded call (spec
// §4.2, §5 "Shared resources"). This is what lets the task manager use a
// provider's peerConn as the transport for a call it did not originate.
func (p *peerConn) forward(request []byte) ([]byte, error) {
	return p.handle.call(request)
}
