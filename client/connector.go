// Package client is the participant-side library for the IPC broker: a
// caller ("Connector"), a provider ("Dispatcher"), and a startup barrier
// ("Waiter"), all built on the same wire codec and chunked framing the
// broker uses. Grounded in original_source/src/client/connector.rs,
// shared_object.rs, and wait_for_objects.rs, restyled with
// cellorg/internal/client/broker.go's naming and mutex-guarded connection
// state conventions.
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

// Connector is the caller façade: it issues remote_call, send_event, and
// listen_for_event over one shared socket, matching
// original_source/src/client/connector.rs's Connector exactly.
type Connector struct {
	addr  string
	debug bool

	handle *connHandle
}

// connHandle is the minimal read/write-locked socket wrapper a Connector
// shares between RemoteCall/SendEvent (foreground callers) and the
// background loop ListenForEvent spawns, the same single-shared-socket
// shape original_source/src/client/connector.rs uses.
type connHandle struct {
	codec *wire.Codec
	mu    sync.Mutex
}

func (h *connHandle) call(data []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.codec.WriteFrame(data); err != nil {
		return nil, err
	}
	return h.codec.ReadFrame()
}

func (h *connHandle) write(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.codec.WriteFrame(data)
}

func (h *connHandle) read() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.codec.ReadFrame()
}

// NewConnector dials the address config.ResolveAddress picks (the
// EnvServerAddress variable when set, else addr, else the default) and
// returns a ready-to-use Connector.
func NewConnector(ctx context.Context, addr string, debug bool) (*Connector, error) {
	addr = config.ResolveAddress(addr)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect to broker at %s: %w", addr, err)
	}

	return &Connector{
		addr:   addr,
		debug:  debug,
		handle: &connHandle{codec: wire.NewCodec(conn)},
	}, nil
}

// Close closes the underlying socket.
func (c *Connector) Close() error {
	return c.handle.codec.Close()
}

// RemoteCall invokes method on the shared object named object, optionally
// carrying param, and returns the provider's response value. Matches
// original_source/src/client/connector.rs's remote_call: writes a
// CallObjectRequest, reads one framed reply, and distinguishes
// CallObjectResponse from Error from "anything else" (invalid response
// data) exactly as the reference implementation does.
func (c *Connector) RemoteCall(object, method string, param *wire.Value) (wire.Value, error) {
	opts := []wire.CallOption(nil)
	if param != nil {
		opts = append(opts, wire.WithParam(*param))
	}
	req := wire.NewCallObjectRequest(object, method, opts...)

	data, err := wire.Encode(req)
	if err != nil {
		return wire.Value{}, fmt.Errorf("client: encode call request: %w", err)
	}

	respData, err := c.handle.call(data)
	if err != nil {
		return wire.Value{}, wire.NewError(wire.ReplyRemoteConnectionError)
	}
	if len(respData) == 0 {
		return wire.Value{}, wire.NewError(wire.ReplyRemoteConnectionError)
	}

	env, err := wire.Decode(respData)
	if err != nil {
		return wire.Value{}, fmt.Errorf("client: decode call response: %w", err)
	}

	switch m := env.(type) {
	case *wire.CallObjectResponse:
		return m.Response, nil
	case *wire.Error:
		return wire.Value{}, m
	default:
		return wire.Value{}, wire.NewError(wire.ReplyInvalidResponseData)
	}
}

// SendEvent publishes result under event, asking the broker to fan it out
// to every current subscriber. It writes the Event and reads the broker's
// acknowledgment, returning the broker's Error if it sent one.
func (c *Connector) SendEvent(event string, result wire.Value) error {
	env := &wire.Event{EventName: event, Result: result}
	data, err := wire.Encode(env)
	if err != nil {
		return fmt.Errorf("client: encode event: %w", err)
	}
	ack, err := c.handle.call(data)
	if err != nil {
		return wire.NewError(wire.ReplyClientConnectionError)
	}
	if reply, derr := wire.Decode(ack); derr == nil {
		if e, ok := reply.(*wire.Error); ok {
			return e
		}
	}
	return nil
}

// EventCallback is invoked once per delivered event with its result value.
// Returning an error stops the listen loop, matching connector.rs's
// listen_for_event callback contract (§4.5, §9 "Callback with
// asynchronous body").
type EventCallback func(wire.Value) error

// ListenForEvent subscribes to event, reads the broker's acknowledgment of
// the subscription, and spawns a background goroutine that reads frames
// off the shared socket and invokes cb with each delivered result. On
// decode failure it logs and continues; on callback failure it logs and
// stops, matching original_source/src/client/connector.rs's
// listen_for_event.
func (c *Connector) ListenForEvent(event string, cb EventCallback) error {
	sub := &wire.SubscribeToEvent{EventName: event}
	data, err := wire.Encode(sub)
	if err != nil {
		return fmt.Errorf("client: encode subscribe: %w", err)
	}
	ack, err := c.handle.call(data)
	if err != nil {
		return wire.NewError(wire.ReplyClientConnectionError)
	}
	if reply, derr := wire.Decode(ack); derr == nil {
		if e, ok := reply.(*wire.Error); ok {
			return e
		}
	}

	go func() {
		for {
			frame, err := c.handle.read()
			if err != nil {
				if c.debug {
					log.Printf("client: event listener for %q: read error: %v", event, err)
				}
				return
			}

			var value wire.Value
			if uerr := value.UnmarshalJSON(frame); uerr != nil {
				if c.debug {
					log.Printf("client: event listener for %q: decode error: %v", event, uerr)
				}
				continue
			}

			if err := cb(value); err != nil {
				if c.debug {
					log.Printf("client: event listener for %q: callback error: %v", event, err)
				}
				return
			}
		}
	}()

	return nil
}
