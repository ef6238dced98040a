package response

import (
	"fmt"

	"github.com/scylladb/scylla-go-driver/frame"
)

// Parse decodes a frame body into the response matching op. The codec
// accepts any valid response opcode at any time (spec §4.A); an opcode
// outside this set is recorded as a sticky buffer error rather than a
// panic. The connection reader treats every body parse error, this one
// included, as fatal and declares the connection broken.
func Parse(op frame.OpCode, buf *frame.Buffer) frame.Response {
	switch op {
	case frame.OpError:
		return ParseError(buf)
	case frame.OpReady:
		return ParseReady(buf)
	case frame.OpAuthenticate:
		return ParseAuthenticate(buf)
	case frame.OpAuthChallenge:
		return ParseAuthChallenge(buf)
	case frame.OpAuthSuccess:
		return ParseAuthSuccess(buf)
	case frame.OpSupported:
		return ParseSupported(buf)
	case frame.OpResult:
		return ParseResult(buf)
	case frame.OpEvent:
		return ParseEvent(buf)
	default:
		buf.Fail(fmt.Errorf("response: unexpected opcode %#x", op))
		return nil
	}
}
