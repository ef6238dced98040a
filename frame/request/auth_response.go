package request

import "github.com/scylladb/scylla-go-driver/frame"

var _ frame.Request = (*AuthResponse)(nil)

// AuthResponse carries the client's answer to an AUTH_CHALLENGE (or the
// initial token for SASL mechanisms that start client-side), native
// protocol v4 §4.1.2.
type AuthResponse struct {
	Token []byte
}

func (a *AuthResponse) WriteTo(buf *frame.Buffer) {
	buf.WriteBytes(a.Token)
}

func (*AuthResponse) OpCode() frame.OpCode {
	return frame.OpAuthResponse
}
