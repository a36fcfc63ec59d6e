package client

import (
	"context"
	"fmt"
	"net"

	"github.com/LorenzoLeonardo/ipc-server/internal/config"
	"github.com/LorenzoLeonardo/ipc-server/internal/wire"
)

// Waiter is the startup barrier façade: WaitForObjects blocks until every
// named object is registered on the broker. Grounded in
// original_source/src/client/wait_for_objects.rs's wait_for_objects
// function: one TCP connection, a write/read retry loop, returning only
// once the broker's reply list is non-empty.
type Waiter struct {
	addr  string
	debug bool
}

// NewWaiter constructs a Waiter bound to addr (resolved via
// config.ResolveAddress the same way the rest of the client library is).
func NewWaiter(addr string, debug bool) *Waiter {
	return &Waiter{addr: config.ResolveAddress(addr), debug: debug}
}

// WaitForObjects opens one socket and loops write-request/read-reply/
// retry-on-empty until every name in list is registered, or ctx is
// cancelled. Each invocation of this method opens a fresh socket, per
// spec §4.5; the original's single wait_for_objects call reconnects only
// once per call to this function, not once per retry.
func (w *Waiter) WaitForObjects(ctx context.Context, list []string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", w.addr)
	if err != nil {
		return fmt.Errorf("client: connect to broker at %s: %w", w.addr, err)
	}
	defer conn.Close()

	codec := wire.NewCodec(conn)
	req := &wire.ListObjects{List: list}
	data, err := wire.Encode(req)
	if err != nil {
		return fmt.Errorf("client: encode wait-for-objects request: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := codec.WriteFrame(data); err != nil {
			return fmt.Errorf("client: write wait-for-objects request: %w", err)
		}

		frame, err := codec.ReadFrame()
		if err != nil {
			return fmt.Errorf("client: read wait-for-objects reply: %w", err)
		}

		env, err := wire.Decode(frame)
		if err != nil {
			return fmt.Errorf("client: decode wait-for-objects reply: %w", err)
		}

		resp, ok := env.(*wire.ListObjects)
		if !ok {
			return fmt.Errorf("client: unexpected wait-for-objects reply %T", env)
		}
		if len(resp.List) > 0 {
			return nil
		}
		// Empty list: not yet available, retry (spec §8 scenario 3).
	}
}
