// Package broker implements the IPC broker: the TCP listener, the
// per-connection framed-JSON peer, and the single-actor task manager that
// owns the object registry and event subscription table described in
// spec §3–§4. Every participant process connects here over one stream
// socket; there is no other transport.
package broker

import (
	"context"
	"fmt"
	"log"
	"net"
)

// Broker binds one TCP address and spawns one peerConn per accepted
// connection, all sharing a single taskManager. Grounded in
// cellorg/internal/broker/service.go's Start(ctx) (context-driven shutdown
// via a goroutine closing the listener) layered over
// original_source/src/server.rs's Server::spawn.
type Broker struct {
	address string
	debug   bool

	listener net.Listener
	manager  *taskManager
}

// New constructs a Broker bound to address. debug gates log.Printf calls
// the way cellorg/internal/broker/service.go's debug field does.
func New(address string, debug bool) *Broker {
	return &Broker{
		address: address,
		debug:   debug,
		manager: newTaskManager(debug),
	}
}

// Listen binds the TCP address. Split out from Serve so callers that need
// the resolved address (e.g. tests binding "127.0.0.1:0") can read Addr()
// before the accept loop starts.
func (b *Broker) Listen() error {
	ln, err := net.Listen("tcp", b.address)
	if err != nil {
		return fmt.Errorf("broker: listen on %s: %w", b.address, err)
	}
	b.listener = ln
	if b.debug {
		log.Printf("broker: listening on %s", ln.Addr())
	}
	return nil
}

// Serve runs the task manager and accepts connections until ctx is
// cancelled. Accept errors are logged and the loop continues (spec §4.4).
// If Listen has not been called yet, Serve calls it first.
func (b *Broker) Serve(ctx context.Context) error {
	if b.listener == nil {
		if err := b.Listen(); err != nil {
			return err
		}
	}

	go b.manager.run()

	go func() {
		<-ctx.Done()
		if b.debug {
			log.Printf("broker: shutting down")
		}
		b.listener.Close()
	}()

	for {
		conn, err := b.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("broker: accept error: %v", err)
			continue
		}
		peer := newPeerConn(conn, b.manager.workCh, b.debug)
		if b.debug {
			log.Printf("broker: accepted %s", peer)
		}
		go peer.run()
	}
}

// Start binds the listener and serves until ctx is cancelled, matching
// cellorg/internal/broker/service.go's Start(ctx) signature.
func (b *Broker) Start(ctx context.Context) error {
	if err := b.Listen(); err != nil {
		return err
	}
	return b.Serve(ctx)
}

// Addr returns the bound listener's address. Only meaningful after Listen
// (or Start/Serve) has run.
func (b *Broker) Addr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}
