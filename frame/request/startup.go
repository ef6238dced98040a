package request

import "github.com/scylladb/scylla-go-driver/frame"

var _ frame.Request = (*Startup)(nil)

// Startup is the STARTUP request, native protocol v4 §4.1.1. It is
// always the first request sent on a new connection, before any
// AUTHENTICATE/READY exchange.
type Startup struct {
	Options frame.StartupOptions
}

func (s *Startup) WriteTo(buf *frame.Buffer) {
	buf.WriteStringMap(s.Options)
}

func (*Startup) OpCode() frame.OpCode {
	return frame.OpStartup
}
