package request

import "github.com/scylladb/scylla-go-driver/frame"

var _ frame.Request = (*Query)(nil)

// Query is the QUERY request: an unprepared CQL statement with bound
// values, native protocol v4 §4.1.4.
type Query struct {
	Query  string
	Params QueryParams
}

func (q *Query) WriteTo(buf *frame.Buffer) {
	buf.WriteLongString(q.Query)
	q.Params.writeTo(buf)
}

func (*Query) OpCode() frame.OpCode {
	return frame.OpQuery
}
