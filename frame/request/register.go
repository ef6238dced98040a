package request

import "github.com/scylladb/scylla-go-driver/frame"

var _ frame.Request = (*Register)(nil)

// Register subscribes the connection to server-pushed EVENT frames,
// native protocol v4 §4.1.6. Only ever sent on the control connection.
type Register struct {
	EventTypes frame.StringList
}

func (r *Register) WriteTo(buf *frame.Buffer) {
	buf.WriteStringList(r.EventTypes)
}

func (*Register) OpCode() frame.OpCode {
	return frame.OpRegister
}
