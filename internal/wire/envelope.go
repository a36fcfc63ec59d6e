package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope is any of the eight recognized wire message shapes.
type Envelope interface {
	envelopeMarker()
}

// RegisterObject is sent by a provider to claim ownership of an object
// name.
type RegisterObject struct {
	RegObject string `json:"reg_object"`
}

// Success carries a literal confirmation string, normally one of the
// StaticReplies constants.
type Success struct {
	Success string `json:"success"`
}

// Error carries a value tree describing a failure. It can appear in
// either direction.
type Error struct {
	Err Value `json:"error"`
}

func (e *Error) Error() string {
	if s, ok := e.Err.String(); ok {
		return s
	}
	b, err := json.Marshal(e.Err)
	if err != nil {
		return "wire: error"
	}
	return string(b)
}

// NewError builds an Error envelope from a plain string, the common case
// for the static reply strings in §6.3 of the protocol this implements.
func NewError(msg string) *Error {
	return &Error{Err: String(msg)}
}

// CallObjectRequest invokes method on object, optionally carrying param.
// It flows both client->broker and broker->provider (the broker forwards
// the same shape to the provider it resolves object to).
type CallObjectRequest struct {
	Object string `json:"object"`
	Method string `json:"method"`
	Param  *Value `json:"param,omitempty"`
}

// CallOption customizes a CallObjectRequest built by NewCallObjectRequest,
// mirroring the builder-style parameter chaining of this protocol's
// reference client.
type CallOption func(*CallObjectRequest)

// WithParam attaches a parameter value tree to a call request.
func WithParam(v Value) CallOption {
	return func(r *CallObjectRequest) { r.Param = &v }
}

func NewCallObjectRequest(object, method string, opts ...CallOption) *CallObjectRequest {
	r := &CallObjectRequest{Object: object, Method: method}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CallObjectResponse carries the result of a successful call.
type CallObjectResponse struct {
	Response Value `json:"response"`
}

// SubscribeToEvent registers the sending peer as a subscriber of event
// name EventName.
type SubscribeToEvent struct {
	EventName string `json:"event_name"`
}

// Event is a published broadcast; the broker strips EventName before
// forwarding the Result to subscribers (see the task manager's
// handleBroadcast).
type Event struct {
	EventName string `json:"event"`
	Result    Value  `json:"result"`
}

// ListObjects is both the WaitForObjects request (carrying the names the
// caller wants to see registered) and its reply (carrying all of those
// names if every one is currently registered, otherwise an empty list).
type ListObjects struct {
	List []string `json:"list"`
}

func (*RegisterObject) envelopeMarker()      {}
func (*Success) envelopeMarker()             {}
func (*Error) envelopeMarker()               {}
func (*CallObjectRequest) envelopeMarker()   {}
func (*CallObjectResponse) envelopeMarker()  {}
func (*SubscribeToEvent) envelopeMarker()    {}
func (*Event) envelopeMarker()               {}
func (*ListObjects) envelopeMarker()         {}

// Encode serializes an envelope to its wire JSON form.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode matches data against the envelope variants in declared order,
// the first structural fit (by required-field presence) wins. Error is
// matched ahead of CallObjectResponse deliberately: an Error whose value
// tree happens to be an object containing a "response" key would
// otherwise be misparsed as a CallObjectResponse.
func Decode(data []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("wire: decode envelope: %w", err)
	}

	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := fields[k]; !ok {
				return false
			}
		}
		return true
	}

	var target Envelope
	switch {
	case has("reg_object"):
		target = &RegisterObject{}
	case has("success"):
		target = &Success{}
	case has("error"):
		target = &Error{}
	case has("object", "method"):
		target = &CallObjectRequest{}
	case has("response"):
		target = &CallObjectResponse{}
	case has("event_name"):
		target = &SubscribeToEvent{}
	case has("event", "result"):
		target = &Event{}
	case has("list"):
		target = &ListObjects{}
	default:
		return nil, fmt.Errorf("wire: no envelope variant matches fields %v", keysOf(fields))
	}

	if err := json.Unmarshal(data, target); err != nil {
		return nil, fmt.Errorf("wire: decode %T: %w", target, err)
	}
	return target, nil
}

func keysOf(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
