package frame

// OpCode identifies the kind of message carried by a frame body, native
// protocol v4 §2.4.
type OpCode = byte

const (
	OpError        OpCode = 0x00
	OpStartup      OpCode = 0x01
	OpReady        OpCode = 0x02
	OpAuthenticate OpCode = 0x03
	OpOptions      OpCode = 0x05
	OpSupported    OpCode = 0x06
	OpQuery        OpCode = 0x07
	OpResult       OpCode = 0x08
	OpPrepare      OpCode = 0x09
	OpExecute      OpCode = 0x0A
	OpRegister     OpCode = 0x0B
	OpEvent        OpCode = 0x0C
	OpBatch        OpCode = 0x0D
	OpAuthChallenge OpCode = 0x0E
	OpAuthResponse OpCode = 0x0F
	OpAuthSuccess  OpCode = 0x10
)

// Protocol version, native protocol v4 §2.1. The driver sends v4 frames;
// the connection reader does not check the version byte of received
// frames. Protocol versions below 4 are not supported.
type Version = byte

const (
	CQLv4 Version = 0x04
	CQLv5 Version = 0x05

	// directionMask marks a frame as a response (set) vs. a request (clear).
	directionMask Version = 0x80
	versionMask   Version = 0x7F
)

// IsResponse reports whether the version byte of a parsed header marks a
// response frame.
func IsResponse(v Version) bool { return v&directionMask != 0 }

// ProtocolVersion strips the direction bit, yielding the bare version number.
func ProtocolVersion(v Version) Version { return v & versionMask }

// Flags, native protocol v4 §2.2.
type HeaderFlags = byte

const (
	FlagCompression  HeaderFlags = 0x01
	FlagTracing      HeaderFlags = 0x02
	FlagCustomPayload HeaderFlags = 0x04
	FlagWarning      HeaderFlags = 0x08
)

// HeaderSize is the fixed size of a frame header: version, flags,
// stream id (2 bytes), opcode, length (4 bytes).
const HeaderSize = 9

// Header is the 9-byte frame header preceding every frame body.
type Header struct {
	Version  Version
	Flags    HeaderFlags
	StreamID StreamID
	OpCode   OpCode
	Length   uint32
}

// WriteTo encodes h onto buf. Length is a placeholder; callers patch it
// in after the body is written, as the teacher's connWriter.send does.
func (h Header) WriteTo(buf *Buffer) {
	buf.WriteByte(h.Version)
	buf.WriteByte(h.Flags)
	buf.WriteShort(uint16(h.StreamID))
	buf.WriteByte(h.OpCode)
	buf.WriteInt(int32(h.Length))
}

// ParseHeader decodes a Header from the front of buf. A malformed header
// is connection-fatal: callers must treat buf.Error() after this call as
// terminal for the connection, not a per-request failure.
func ParseHeader(buf *Buffer) Header {
	return Header{
		Version:  buf.ReadByte(),
		Flags:    buf.ReadByte(),
		StreamID: int16(buf.ReadShort()),
		OpCode:   buf.ReadByte(),
		Length:   uint32(buf.ReadInt()),
	}
}
