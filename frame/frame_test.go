package frame

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Version:  CQLv4 | 0x80,
		Flags:    FlagCompression | FlagTracing,
		StreamID: 1234,
		OpCode:   OpResult,
		Length:   42,
	}

	var buf Buffer
	h.WriteTo(&buf)

	got := ParseHeader(&buf)
	if buf.Error() != nil {
		t.Fatalf("ParseHeader: %v", buf.Error())
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestIsResponseAndProtocolVersion(t *testing.T) {
	resp := CQLv4 | 0x80
	if !IsResponse(resp) {
		t.Fatalf("IsResponse(%#x) = false, want true", resp)
	}
	if ProtocolVersion(resp) != CQLv4 {
		t.Fatalf("ProtocolVersion(%#x) = %#x, want %#x", resp, ProtocolVersion(resp), CQLv4)
	}
	if IsResponse(CQLv4) {
		t.Fatalf("IsResponse(%#x) = true, want false", CQLv4)
	}
}

func TestBufferStickyError(t *testing.T) {
	var buf Buffer
	buf.Write([]byte{0x00, 0x01}) // too short for a Long
	_ = buf.ReadLong()
	if buf.Error() == nil {
		t.Fatal("expected sticky decode error after reading past buffer end")
	}

	// Once failed, further reads are no-ops and the error does not change.
	err := buf.Error()
	_ = buf.ReadByte()
	if buf.Error() != err {
		t.Fatal("sticky error must not be overwritten by a subsequent Read call")
	}
}

func TestValueNullAndUnset(t *testing.T) {
	null := Value{N: -1}
	unset := Value{N: -2}
	present := Value{N: 3, Bytes: []byte("abc")}

	if !null.IsNull() || null.IsUnset() {
		t.Fatalf("null value misclassified: %+v", null)
	}
	if !unset.IsUnset() || unset.IsNull() {
		t.Fatalf("unset value misclassified: %+v", unset)
	}
	if present.IsNull() || present.IsUnset() {
		t.Fatalf("present value misclassified: %+v", present)
	}
}

func TestValueAsUUID(t *testing.T) {
	raw := make([]byte, 16)
	for i := range raw {
		raw[i] = byte(i)
	}
	v := Value{N: 16, Bytes: raw}

	u, err := v.AsUUID()
	if err != nil {
		t.Fatalf("AsUUID: %v", err)
	}
	var want UUID
	copy(want[:], raw)
	if u != want {
		t.Fatalf("AsUUID mismatch")
	}

	if _, err := (Value{N: -1}).AsUUID(); err == nil {
		t.Fatal("expected error decoding a null value as uuid")
	}
	if _, err := (Value{N: 4, Bytes: []byte{1, 2, 3, 4}}).AsUUID(); err == nil {
		t.Fatal("expected error decoding a wrong-length value as uuid")
	}
}
