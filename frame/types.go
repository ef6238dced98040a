package frame

import "fmt"

// Primitive CQL protocol types, see the native protocol spec §3.
type (
	Byte       = byte
	Short      = uint16
	Int        = int32
	Long       = int64
	StringList = []string
	// Bytes is a [bytes] value: nil means the CQL null, and an empty
	// non-nil slice is distinguished from it by callers that care.
	Bytes = []byte
)

// StreamID identifies one in-flight request/response pair on a Connection.
// 0 is reserved for server-pushed messages outside the request/response
// cycle, -1 is reserved for events.
type StreamID = int16

const (
	EventStreamID StreamID = -1
	// MaxStreams is the number of stream ids available to user requests,
	// 1..=32767; stream 0 is reserved.
	MaxStreams = 32767
)

// NotSet is a placeholder for the protocol v4 "not set" marker; it is
// not a Value and cannot be bound. The bindable marker is UnsetValue(),
// which makes the server leave the column untouched rather than write a
// tombstone.
var NotSet = struct{}{}

// Value is a single bound value in a Query/Execute/Batch request: either
// raw already-serialised bytes, the null marker, or "not set". The core
// driver never interprets the bytes: CQL value (de)serialisation is an
// external collaborator's concern (see spec §1).
type Value struct {
	N     int32
	Bytes []byte
}

// IsNull reports whether this value encodes a CQL NULL ([bytes] length -1).
func (v Value) IsNull() bool { return v.N == -1 }

// IsUnset reports whether this value encodes "not set" ([bytes] length -2).
func (v Value) IsUnset() bool { return v.N == -2 }

// NullValue is the bound value representing CQL NULL.
func NullValue() Value { return Value{N: -1} }

// UnsetValue is the bound value representing "not set" (protocol v4+).
func UnsetValue() Value { return Value{N: -2} }

// BytesValue wraps already-serialised bytes as a bound value.
func BytesValue(b []byte) Value {
	if b == nil {
		return NullValue()
	}
	return Value{N: int32(len(b)), Bytes: b}
}

// AsUUID interprets the raw bytes as a uuid-typed column. This is not a
// general CQL value codec (that remains an external collaborator's
// concern, spec §1): it exists only for the handful of internal
// call-sites that must read a uuid column out of a system table row,
// such as schema_version.
func (v Value) AsUUID() (UUID, error) {
	if v.IsNull() || v.IsUnset() {
		return Nil, fmt.Errorf("frame: value is null or unset, not a uuid")
	}
	if len(v.Bytes) != 16 {
		return Nil, fmt.Errorf("frame: uuid value must be 16 bytes, got %d", len(v.Bytes))
	}
	var u UUID
	copy(u[:], v.Bytes)
	return u, nil
}

// Row is a single result row: one Value per selected column, in
// ResultMetadata.Columns order.
type Row []Value
