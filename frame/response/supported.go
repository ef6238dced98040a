package response

import "github.com/scylladb/scylla-go-driver/frame"

var _ frame.Response = (*Supported)(nil)

// Supported carries the server's advertised STARTUP options (protocol
// versions, compression algorithms, CQL version), native protocol v4
// §4.2.4.
type Supported struct {
	Options map[string][]string
}

func (*Supported) OpCode() frame.OpCode { return frame.OpSupported }

func ParseSupported(buf *frame.Buffer) *Supported {
	return &Supported{Options: buf.ReadStringMultiMap()}
}
