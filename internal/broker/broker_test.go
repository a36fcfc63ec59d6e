package broker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/LorenzoLeonardo/ipc-server/internal/wire"
)

// startTestBroker binds to an ephemeral loopback port and serves until the
// test finishes, returning the resolved address.
func startTestBroker(t *testing.T) string {
	t.Helper()
	b := New("127.0.0.1:0", false)
	if err := b.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go b.Serve(ctx)

	return b.Addr().String()
}

func dial(t *testing.T, addr string) *wire.Codec {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })
	return wire.NewCodec(conn)
}

func sendRecv(t *testing.T, c *wire.Codec, env wire.Envelope) wire.Envelope {
	t.Helper()
	data, err := wire.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := c.WriteFrame(data); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame, err := c.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got, err := wire.Decode(frame)
	if err != nil {
		t.Fatalf("decode %q: %v", frame, err)
	}
	return got
}

// TestRegisterThenCall is spec §8 scenario 1.
func TestRegisterThenCall(t *testing.T) {
	addr := startTestBroker(t)

	provider := dial(t, addr)
	got := sendRecv(t, provider, &wire.RegisterObject{RegObject: "mango"})
	success, ok := got.(*wire.Success)
	if !ok || success.Success != wire.ReplyOK {
		t.Fatalf("register reply = %#v, want Success{OK}", got)
	}

	caller := dial(t, addr)

	callData, err := wire.Encode(&wire.CallObjectRequest{Object: "mango", Method: "login"})
	if err != nil {
		t.Fatalf("encode call: %v", err)
	}
	if err := caller.WriteFrame(callData); err != nil {
		t.Fatalf("write call: %v", err)
	}

	// The provider observes exactly this request on its own socket.
	providerFrame, err := provider.ReadFrame()
	if err != nil {
		t.Fatalf("provider read: %v", err)
	}
	providerEnv, err := wire.Decode(providerFrame)
	if err != nil {
		t.Fatalf("provider decode: %v", err)
	}
	req, ok := providerEnv.(*wire.CallObjectRequest)
	if !ok || req.Object != "mango" || req.Method != "login" {
		t.Fatalf("provider observed %#v, want CallObjectRequest{mango,login}", providerEnv)
	}

	respData, err := wire.Encode(&wire.CallObjectResponse{Response: wire.String("hello")})
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	if err := provider.WriteFrame(respData); err != nil {
		t.Fatalf("provider write: %v", err)
	}

	callerFrame, err := caller.ReadFrame()
	if err != nil {
		t.Fatalf("caller read: %v", err)
	}
	callerEnv, err := wire.Decode(callerFrame)
	if err != nil {
		t.Fatalf("caller decode: %v", err)
	}
	resp, ok := callerEnv.(*wire.CallObjectResponse)
	if !ok {
		t.Fatalf("caller got %#v, want CallObjectResponse", callerEnv)
	}
	if s, ok := resp.Response.String(); !ok || s != "hello" {
		t.Errorf("response = %#v, want \"hello\"", resp.Response)
	}
}

// TestCallMissingObject is spec §8 scenario 2.
func TestCallMissingObject(t *testing.T) {
	addr := startTestBroker(t)
	caller := dial(t, addr)

	got := sendRecv(t, caller, &wire.CallObjectRequest{Object: "ghost", Method: "x"})
	errEnv, ok := got.(*wire.Error)
	if !ok {
		t.Fatalf("got %#v, want *Error", got)
	}
	if s, _ := errEnv.Err.String(); s != wire.ReplyObjectNotFound {
		t.Errorf("error = %q, want %q", s, wire.ReplyObjectNotFound)
	}
}

// TestWaitForObjectsBarrier is spec §8 scenario 3.
func TestWaitForObjectsBarrier(t *testing.T) {
	addr := startTestBroker(t)
	waiter := dial(t, addr)

	got := sendRecv(t, waiter, &wire.ListObjects{List: []string{"a", "b"}})
	list, ok := got.(*wire.ListObjects)
	if !ok || len(list.List) != 0 {
		t.Fatalf("empty registry reply = %#v, want empty ListObjects", got)
	}

	providerA := dial(t, addr)
	sendRecv(t, providerA, &wire.RegisterObject{RegObject: "a"})
	providerB := dial(t, addr)
	sendRecv(t, providerB, &wire.RegisterObject{RegObject: "b"})

	got = sendRecv(t, waiter, &wire.ListObjects{List: []string{"a", "b"}})
	list, ok = got.(*wire.ListObjects)
	if !ok || len(list.List) != 2 || list.List[0] != "a" || list.List[1] != "b" {
		t.Fatalf("full registry reply = %#v, want ListObjects{[a b]}", got)
	}
}

// TestEventFanOut is spec §8 scenario 4.
func TestEventFanOut(t *testing.T) {
	addr := startTestBroker(t)

	s1 := dial(t, addr)
	sendRecv(t, s1, &wire.SubscribeToEvent{EventName: "tick"})
	s2 := dial(t, addr)
	sendRecv(t, s2, &wire.SubscribeToEvent{EventName: "tick"})

	publisher := dial(t, addr)
	sendRecv(t, publisher, &wire.Event{EventName: "tick", Result: wire.Int32(42)})

	for _, sub := range []*wire.Codec{s1, s2} {
		frame, err := sub.ReadFrame()
		if err != nil {
			t.Fatalf("subscriber read: %v", err)
		}
		var v wire.Value
		if err := v.UnmarshalJSON(frame); err != nil {
			t.Fatalf("subscriber decode: %v", err)
		}
		n, ok := v.Int32()
		if !ok || n != 42 {
			t.Errorf("subscriber got %#v, want 42", v)
		}
	}
}

// TestProviderCrashMidCall is spec §8 scenario 5.
func TestProviderCrashMidCall(t *testing.T) {
	addr := startTestBroker(t)

	provider, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial provider: %v", err)
	}
	providerCodec := wire.NewCodec(provider)
	sendRecv(t, providerCodec, &wire.RegisterObject{RegObject: "x"})

	caller := dial(t, addr)
	callData, err := wire.Encode(&wire.CallObjectRequest{Object: "x", Method: "m"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := caller.WriteFrame(callData); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Before replying, the provider's connection dies.
	if _, err := providerCodec.ReadFrame(); err != nil {
		t.Fatalf("provider read: %v", err)
	}
	provider.Close()

	frame, err := caller.ReadFrame()
	if err != nil {
		t.Fatalf("caller read: %v", err)
	}
	env, err := wire.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := env.(*wire.Error); !ok {
		t.Fatalf("caller got %#v, want *Error", env)
	}

	// A subsequent call to "x" now reports it missing, since the crash
	// drops the provider's registration.
	var registrationGone bool
	for i := 0; i < 20; i++ {
		got := sendRecv(t, caller, &wire.CallObjectRequest{Object: "x", Method: "m"})
		errEnv, ok := got.(*wire.Error)
		if ok {
			if s, _ := errEnv.Err.String(); s == wire.ReplyObjectNotFound {
				registrationGone = true
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !registrationGone {
		t.Fatalf("expected Object not found after provider crash")
	}
}

// TestDuplicateSubscription is spec §8 scenario 6.
func TestDuplicateSubscription(t *testing.T) {
	addr := startTestBroker(t)

	sub := dial(t, addr)
	sendRecv(t, sub, &wire.SubscribeToEvent{EventName: "tick"})
	sendRecv(t, sub, &wire.SubscribeToEvent{EventName: "tick"})

	publisher := dial(t, addr)
	sendRecv(t, publisher, &wire.Event{EventName: "tick", Result: wire.Bool(true)})

	frame, err := sub.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var v wire.Value
	if err := v.UnmarshalJSON(frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	b, ok := v.Bool()
	if !ok || !b {
		t.Errorf("got %#v, want true", v)
	}

	// No second frame should be queued: set a short read deadline.
	sub.Conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := sub.ReadFrame(); err == nil {
		t.Errorf("expected exactly one broadcast frame, got a second one")
	}
}

// TestRemoveRegisteredOnDisconnect covers the registry half of the §8
// quantified invariant: once a peer disconnects, its registrations are gone.
func TestRemoveRegisteredOnDisconnect(t *testing.T) {
	addr := startTestBroker(t)

	provider, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	providerCodec := wire.NewCodec(provider)
	sendRecv(t, providerCodec, &wire.RegisterObject{RegObject: "y"})
	provider.Close()

	caller := dial(t, addr)
	var gone bool
	for i := 0; i < 20; i++ {
		got := sendRecv(t, caller, &wire.CallObjectRequest{Object: "y", Method: "m"})
		if errEnv, ok := got.(*wire.Error); ok {
			if s, _ := errEnv.Err.String(); s == wire.ReplyObjectNotFound {
				gone = true
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !gone {
		t.Fatalf("expected registration to be removed after disconnect")
	}
}

// TestDecodeFailureKeepsConnectionOpen covers spec §4.2/§7: a malformed
// frame gets a serde-parsing-error reply without closing the connection.
func TestDecodeFailureKeepsConnectionOpen(t *testing.T) {
	addr := startTestBroker(t)
	conn := dial(t, addr)

	if err := conn.WriteFrame([]byte(`{"bogus":1}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame, err := conn.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := wire.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	errEnv, ok := env.(*wire.Error)
	if !ok {
		t.Fatalf("got %#v, want *Error", env)
	}
	if s, _ := errEnv.Err.String(); s != wire.ReplySerdeParsingError {
		t.Errorf("error = %q, want %q", s, wire.ReplySerdeParsingError)
	}

	// Connection stays open: a well-formed request still works.
	got := sendRecv(t, conn, &wire.RegisterObject{RegObject: "still-open"})
	if _, ok := got.(*wire.Success); !ok {
		t.Fatalf("connection appears closed after decode failure: got %#v", got)
	}
}

func TestRegisterRejectsDifferentOwner(t *testing.T) {
	addr := startTestBroker(t)

	first := dial(t, addr)
	sendRecv(t, first, &wire.RegisterObject{RegObject: "shared"})

	second := dial(t, addr)
	got := sendRecv(t, second, &wire.RegisterObject{RegObject: "shared"})
	if _, ok := got.(*wire.Error); !ok {
		t.Fatalf("second register = %#v, want *Error", got)
	}
}
