package request

import "github.com/scylladb/scylla-go-driver/frame"

var _ frame.Request = (*Execute)(nil)

// Execute is the EXECUTE request: a prepared statement id with bound
// values, native protocol v4 §4.1.6.
type Execute struct {
	ID     []byte
	Params QueryParams
}

func (e *Execute) WriteTo(buf *frame.Buffer) {
	buf.WriteShortBytes(e.ID)
	e.Params.writeTo(buf)
}

func (*Execute) OpCode() frame.OpCode {
	return frame.OpExecute
}
