package frame

import (
	"fmt"
	"io"
	"net"
)

// Buffer is a dual-purpose encode/decode cursor over a byte slice. The
// same type backs both the connWriter's outgoing frame assembly and the
// connReader's incoming frame parsing: callers Reset it, then Write* it,
// Read* it, or (as the connection reader does) fill it with received
// bytes and then Read* them.
//
// Read errors are sticky: once set, every further Read* call is a no-op
// returning the zero value, so a decode pass can be written as a
// straight sequence of reads followed by a single buf.Error() check.
type Buffer struct {
	buf []byte
	pos int
	err error
}

// Reset clears the buffer for reuse, dropping any previous content and
// sticky error.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.pos = 0
	b.err = nil
}

// Bytes returns the buffer's written content.
func (b *Buffer) Bytes() []byte { return b.buf }

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return len(b.buf) - b.pos }

// Error returns the sticky decode error, if any.
func (b *Buffer) Error() error { return b.err }

func (b *Buffer) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Fail records a decode error from an external parser (e.g. an
// unrecognised RESULT kind), following the same sticky-error contract
// as the built-in Read* methods.
func (b *Buffer) Fail(err error) {
	b.fail(err)
}

// Write appends p, implementing io.Writer so *Buffer can be the target
// of io.CopyN when reading frame bodies off the wire.
func (b *Buffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *Buffer) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteByte(1)
	} else {
		b.WriteByte(0)
	}
}

func (b *Buffer) WriteShort(v Short) {
	b.buf = append(b.buf, byte(v>>8), byte(v))
}

func (b *Buffer) WriteInt(v Int) {
	u := uint32(v)
	b.buf = append(b.buf, byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

func (b *Buffer) WriteLong(v Long) {
	u := uint64(v)
	b.buf = append(b.buf,
		byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32),
		byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

// WriteString writes a [string]: u16 length prefix + UTF-8 bytes.
func (b *Buffer) WriteString(s string) {
	b.WriteShort(uint16(len(s)))
	b.buf = append(b.buf, s...)
}

// WriteLongString writes a [long string]: u32 length prefix + UTF-8 bytes.
func (b *Buffer) WriteLongString(s string) {
	b.WriteInt(int32(len(s)))
	b.buf = append(b.buf, s...)
}

// WriteShortBytes writes a [short bytes]: u16 length prefix + raw bytes.
func (b *Buffer) WriteShortBytes(v []byte) {
	b.WriteShort(uint16(len(v)))
	b.buf = append(b.buf, v...)
}

// WriteBytes writes a [bytes]: i32 length prefix (-1 = null) + raw bytes.
func (b *Buffer) WriteBytes(v Bytes) {
	if v == nil {
		b.WriteInt(-1)
		return
	}
	b.WriteInt(int32(len(v)))
	b.buf = append(b.buf, v...)
}

// WriteValue writes a bound [value]: i32 length (-1 null, -2 not set) +
// raw bytes.
func (b *Buffer) WriteValue(v Value) {
	b.WriteInt(v.N)
	if v.N > 0 {
		b.buf = append(b.buf, v.Bytes...)
	}
}

func (b *Buffer) WriteStringList(l StringList) {
	b.WriteShort(uint16(len(l)))
	for _, s := range l {
		b.WriteString(s)
	}
}

func (b *Buffer) WriteStringMap(m map[string]string) {
	b.WriteShort(uint16(len(m)))
	for k, v := range m {
		b.WriteString(k)
		b.WriteString(v)
	}
}

func (b *Buffer) WriteUUID(u UUID) {
	b.buf = append(b.buf, u[:]...)
}

// WriteInet writes an [inet]: u8 octet count + address + i32 port.
func (b *Buffer) WriteInet(ip net.IP, port int) {
	v4 := ip.To4()
	if v4 != nil {
		b.WriteByte(4)
		b.buf = append(b.buf, v4...)
	} else {
		b.WriteByte(16)
		b.buf = append(b.buf, ip.To16()...)
	}
	b.WriteInt(int32(port))
}

func (b *Buffer) WriteConsistency(c Consistency) {
	b.WriteShort(uint16(c))
}

// --- decode side ---

func (b *Buffer) need(n int) bool {
	if b.err != nil {
		return false
	}
	if b.pos+n > len(b.buf) {
		b.fail(fmt.Errorf("frame: need %d bytes, have %d", n, len(b.buf)-b.pos))
		return false
	}
	return true
}

func (b *Buffer) ReadByte() byte {
	if !b.need(1) {
		return 0
	}
	v := b.buf[b.pos]
	b.pos++
	return v
}

func (b *Buffer) ReadBool() bool {
	return b.ReadByte() != 0
}

func (b *Buffer) ReadShort() Short {
	if !b.need(2) {
		return 0
	}
	v := uint16(b.buf[b.pos])<<8 | uint16(b.buf[b.pos+1])
	b.pos += 2
	return v
}

func (b *Buffer) ReadInt() Int {
	if !b.need(4) {
		return 0
	}
	v := uint32(b.buf[b.pos])<<24 | uint32(b.buf[b.pos+1])<<16 |
		uint32(b.buf[b.pos+2])<<8 | uint32(b.buf[b.pos+3])
	b.pos += 4
	return int32(v)
}

func (b *Buffer) ReadLong() Long {
	if !b.need(8) {
		return 0
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b.buf[b.pos+i])
	}
	b.pos += 8
	return int64(v)
}

func (b *Buffer) ReadString() string {
	n := b.ReadShort()
	if !b.need(int(n)) {
		return ""
	}
	s := string(b.buf[b.pos : b.pos+int(n)])
	b.pos += int(n)
	return s
}

func (b *Buffer) ReadLongString() string {
	n := b.ReadInt()
	if n < 0 || !b.need(int(n)) {
		return ""
	}
	s := string(b.buf[b.pos : b.pos+int(n)])
	b.pos += int(n)
	return s
}

func (b *Buffer) ReadShortBytes() []byte {
	n := b.ReadShort()
	if !b.need(int(n)) {
		return nil
	}
	v := make([]byte, n)
	copy(v, b.buf[b.pos:b.pos+int(n)])
	b.pos += int(n)
	return v
}

// ReadBytes reads a [bytes]: nil for null (-1), non-nil empty for (0).
func (b *Buffer) ReadBytes() Bytes {
	n := b.ReadInt()
	if b.err != nil || n < 0 {
		return nil
	}
	if !b.need(int(n)) {
		return nil
	}
	v := make([]byte, n)
	copy(v, b.buf[b.pos:b.pos+int(n)])
	b.pos += int(n)
	return v
}

func (b *Buffer) ReadValue() Value {
	n := b.ReadInt()
	if b.err != nil || n <= 0 {
		return Value{N: n}
	}
	if !b.need(int(n)) {
		return Value{}
	}
	v := make([]byte, n)
	copy(v, b.buf[b.pos:b.pos+int(n)])
	b.pos += int(n)
	return Value{N: n, Bytes: v}
}

func (b *Buffer) ReadStringList() StringList {
	n := b.ReadShort()
	l := make(StringList, n)
	for i := range l {
		l[i] = b.ReadString()
	}
	return l
}

func (b *Buffer) ReadStringMap() map[string]string {
	n := b.ReadShort()
	m := make(map[string]string, n)
	for i := uint16(0); i < n; i++ {
		k := b.ReadString()
		m[k] = b.ReadString()
	}
	return m
}

func (b *Buffer) ReadStringMultiMap() map[string][]string {
	n := b.ReadShort()
	m := make(map[string][]string, n)
	for i := uint16(0); i < n; i++ {
		k := b.ReadString()
		m[k] = b.ReadStringList()
	}
	return m
}

func (b *Buffer) ReadUUID() UUID {
	var u UUID
	if !b.need(16) {
		return u
	}
	copy(u[:], b.buf[b.pos:b.pos+16])
	b.pos += 16
	return u
}

// ReadInet reads an [inet]: u8 octet count + address + i32 port.
func (b *Buffer) ReadInet() (net.IP, int) {
	n := b.ReadByte()
	if !b.need(int(n)) {
		return nil, 0
	}
	ip := make(net.IP, n)
	copy(ip, b.buf[b.pos:b.pos+int(n)])
	b.pos += int(n)
	port := int(b.ReadInt())
	return ip, port
}

func (b *Buffer) ReadConsistency() Consistency {
	return Consistency(b.ReadShort())
}

// Discard skips n bytes, for extension fields the decoder does not
// otherwise interpret (e.g. an unrecognised custom payload entry).
func (b *Buffer) Discard(n int) {
	if !b.need(n) {
		return
	}
	b.pos += n
}

// CopyBuffer writes buf's full content to w, as a single call, used by
// the writer loop to perform one vectored-ish write per coalesced batch.
func CopyBuffer(buf *Buffer, w io.Writer) (int64, error) {
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// BufferWriter adapts buf to io.Writer so io.CopyN can stream bytes off
// a socket straight into it without an intermediate allocation.
func BufferWriter(buf *Buffer) io.Writer { return buf }
