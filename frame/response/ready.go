package response

import "github.com/scylladb/scylla-go-driver/frame"

var _ frame.Response = (*Ready)(nil)

// Ready signals the end of the STARTUP/AUTHENTICATE handshake, native
// protocol v4 §4.2.2.
type Ready struct{}

func (*Ready) OpCode() frame.OpCode { return frame.OpReady }

// ParseReady decodes a READY body, which is empty.
func ParseReady(_ *frame.Buffer) *Ready { return &Ready{} }
