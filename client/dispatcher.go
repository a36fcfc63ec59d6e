package client

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/LorenzoLeonardo/ipc-server/internal/config"
	"github.com/LorenzoLeonardo/ipc-server/internal/wire"
)

// Dispatchable is implemented by an application object it wants the
// broker to make callable from other processes. It is the Go stand-in for
// original_source/src/client/shared_object.rs's SharedObject trait — Go
// has no trait objects, so this is a plain interface.
type Dispatchable interface {
	RemoteCall(method string, param *wire.Value) (wire.Value, error)
}

// Dispatcher registers shared objects with the broker and services
// incoming CallObjectRequests for them. Grounded in
// original_source/src/client/shared_object.rs's ObjectDispatcher.
type Dispatcher struct {
	debug bool

	handle *connHandle

	mux  sync.Mutex
	objs map[string]Dispatchable
}

// NewDispatcher dials the broker and returns a Dispatcher ready to
// register objects on.
func NewDispatcher(ctx context.Context, addr string, debug bool) (*Dispatcher, error) {
	addr = config.ResolveAddress(addr)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect to broker at %s: %w", addr, err)
	}

	return &Dispatcher{
		debug:  debug,
		handle: &connHandle{codec: wire.NewCodec(conn)},
		objs:   make(map[string]Dispatchable),
	}, nil
}

// Close closes the underlying socket.
func (d *Dispatcher) Close() error {
	return d.handle.codec.Close()
}

// RegisterObject claims name on the broker and records shared_object as
// the local handler for CallObjectRequests targeting it. Matches
// shared_object.rs's register_object: write RegisterObject, await either
// Success or Error.
func (d *Dispatcher) RegisterObject(name string, sharedObject Dispatchable) error {
	d.mux.Lock()
	d.objs[name] = sharedObject
	d.mux.Unlock()

	req := &wire.RegisterObject{RegObject: name}
	data, err := wire.Encode(req)
	if err != nil {
		return fmt.Errorf("client: encode register: %w", err)
	}

	respData, err := d.handle.call(data)
	if err != nil {
		return wire.NewError(wire.ReplyServerConnectionError)
	}
	if len(respData) == 0 {
		return wire.NewError(wire.ReplyServerConnectionError)
	}

	env, err := wire.Decode(respData)
	if err != nil {
		return fmt.Errorf("client: decode register reply: %w", err)
	}
	switch m := env.(type) {
	case *wire.Success:
		if d.debug {
			log.Printf("client: registered object %q (%s)", name, m.Success)
		}
		return nil
	case *wire.Error:
		return m
	default:
		if d.debug {
			log.Printf("client: unhandled register reply %T", env)
		}
		return nil
	}
}

// Spawn runs the dispatch loop until ctx is cancelled or the broker
// connection fails: read one frame, decode, look up the dispatcher for a
// CallObjectRequest's object, invoke it, and write back a
// CallObjectResponse or Error on the same socket. Matches
// shared_object.rs's spawn() loop shape exactly, including replying
// Error{"Object not found"} for an unknown object and
// Error{"serde parsing error"} for an undecodable frame.
func (d *Dispatcher) Spawn(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
		d.handle.codec.Close()
	}()

	for {
		frame, err := d.handle.read()
		if err != nil {
			select {
			case <-done:
				return nil
			default:
			}
			return fmt.Errorf("client: dispatcher read: %w", err)
		}

		env, err := wire.Decode(frame)
		if err != nil {
			errEnv := wire.NewError(wire.ReplySerdeParsingError)
			if b, encErr := wire.Encode(errEnv); encErr == nil {
				d.handle.write(b)
			}
			continue
		}

		req, ok := env.(*wire.CallObjectRequest)
		if !ok {
			if d.debug {
				log.Printf("client: dispatcher: unhandled message %T", env)
			}
			continue
		}

		d.mux.Lock()
		obj, found := d.objs[req.Object]
		d.mux.Unlock()

		var out wire.Envelope
		if !found {
			out = wire.NewError(wire.ReplyObjectNotFound)
		} else {
			result, callErr := obj.RemoteCall(req.Method, req.Param)
			if callErr != nil {
				out = wire.NewError(callErr.Error())
			} else {
				out = &wire.CallObjectResponse{Response: result}
			}
		}

		b, err := wire.Encode(out)
		if err != nil {
			if d.debug {
				log.Printf("client: dispatcher: encode reply: %v", err)
			}
			continue
		}
		if err := d.handle.write(b); err != nil {
			return fmt.Errorf("client: dispatcher write: %w", err)
		}
	}
}
