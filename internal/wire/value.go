// Package wire implements the IPC broker's untagged-union JSON envelopes,
// the closed value-tree type carried inside them, and the chunked framing
// used to delimit one envelope from the next on a TCP stream.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which variant of the value tree a Value holds.
type Kind int

const (
	KindInt32 Kind = iota
	KindUint32
	KindInt64
	KindUint64
	KindFloat64
	KindBool
	KindString
	KindSequence
	KindMap
)

// Value is the recursive sum type carried by every envelope payload field.
// It has no JSON discriminator: the wire form of a Value is exactly the
// JSON form of whichever Go value it wraps.
type Value struct {
	kind Kind
	i32  int32
	u32  uint32
	i64  int64
	u64  uint64
	f64  float64
	b    bool
	s    string
	seq  []Value
	m    map[string]Value
}

func Int32(v int32) Value     { return Value{kind: KindInt32, i32: v} }
func Uint32(v uint32) Value   { return Value{kind: KindUint32, u32: v} }
func Int64(v int64) Value     { return Value{kind: KindInt64, i64: v} }
func Uint64(v uint64) Value   { return Value{kind: KindUint64, u64: v} }
func Float64(v float64) Value { return Value{kind: KindFloat64, f64: v} }
func Bool(v bool) Value       { return Value{kind: KindBool, b: v} }
func String(v string) Value   { return Value{kind: KindString, s: v} }

func Sequence(v []Value) Value {
	return Value{kind: KindSequence, seq: v}
}

func Map(v map[string]Value) Value {
	return Value{kind: KindMap, m: v}
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

func (v Value) Int32() (int32, bool)   { return v.i32, v.kind == KindInt32 }
func (v Value) Uint32() (uint32, bool) { return v.u32, v.kind == KindUint32 }
func (v Value) Int64() (int64, bool)   { return v.i64, v.kind == KindInt64 }
func (v Value) Uint64() (uint64, bool) { return v.u64, v.kind == KindUint64 }
func (v Value) Float64() (float64, bool) {
	return v.f64, v.kind == KindFloat64
}
func (v Value) Bool() (bool, bool)     { return v.b, v.kind == KindBool }
func (v Value) String() (string, bool) { return v.s, v.kind == KindString }
func (v Value) Sequence() ([]Value, bool) {
	return v.seq, v.kind == KindSequence
}
func (v Value) Map() (map[string]Value, bool) {
	return v.m, v.kind == KindMap
}

// Equal reports deep equality between two value trees, used by the
// round-trip property tests.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindInt32:
		return a.i32 == b.i32
	case KindUint32:
		return a.u32 == b.u32
	case KindInt64:
		return a.i64 == b.i64
	case KindUint64:
		return a.u64 == b.u64
	case KindFloat64:
		return a.f64 == b.f64
	case KindBool:
		return a.b == b.b
	case KindString:
		return a.s == b.s
	case KindSequence:
		if len(a.seq) != len(b.seq) {
			return false
		}
		for i := range a.seq {
			if !Equal(a.seq[i], b.seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt32:
		return json.Marshal(v.i32)
	case KindUint32:
		return json.Marshal(v.u32)
	case KindInt64:
		return json.Marshal(v.i64)
	case KindUint64:
		return json.Marshal(v.u64)
	case KindFloat64:
		return json.Marshal(v.f64)
	case KindBool:
		return json.Marshal(v.b)
	case KindString:
		return json.Marshal(v.s)
	case KindSequence:
		if v.seq == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.seq)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		// Sort keys for stable output; Go map iteration order is random
		// and the wire format carries no key ordering guarantee anyway.
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := json.Marshal(v.m[k])
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("wire: value has no kind set")
	}
}

// UnmarshalJSON decodes data into whichever variant it structurally fits,
// trying narrower numeric variants before wider ones: int32, uint32,
// int64, uint64, float64. This mirrors the order the original untagged
// enum declared its numeric variants in, so a number that fits more than
// one variant resolves the same way this module's predecessor did.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("wire: empty value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		seq := make([]Value, len(raw))
		for i, r := range raw {
			if err := seq[i].UnmarshalJSON(r); err != nil {
				return err
			}
		}
		*v = Sequence(seq)
		return nil
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		m := make(map[string]Value, len(raw))
		for k, r := range raw {
			var e Value
			if err := e.UnmarshalJSON(r); err != nil {
				return err
			}
			m[k] = e
		}
		*v = Map(m)
		return nil
	default:
		return unmarshalNumber(v, string(data))
	}
}

func unmarshalNumber(v *Value, s string) error {
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("wire: invalid number %q: %w", s, err)
		}
		*v = Float64(f)
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		switch {
		case i >= math.MinInt32 && i <= math.MaxInt32:
			*v = Int32(int32(i))
		case i >= 0 && i <= math.MaxUint32:
			*v = Uint32(uint32(i))
		default:
			*v = Int64(i)
		}
		return nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		*v = Uint64(u)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("wire: invalid number %q: %w", s, err)
	}
	*v = Float64(f)
	return nil
}
