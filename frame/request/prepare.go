package request

import "github.com/scylladb/scylla-go-driver/frame"

var _ frame.Request = (*Prepare)(nil)

// Prepare is the PREPARE request, native protocol v4 §4.1.5.
type Prepare struct {
	Query string
}

func (p *Prepare) WriteTo(buf *frame.Buffer) {
	buf.WriteLongString(p.Query)
}

func (*Prepare) OpCode() frame.OpCode {
	return frame.OpPrepare
}
