package response

import "github.com/scylladb/scylla-go-driver/frame"

var _ frame.Response = (*Authenticate)(nil)

// Authenticate requests a SASL handshake naming the authenticator class,
// native protocol v4 §4.2.3.
type Authenticate struct {
	Authenticator string
}

func (*Authenticate) OpCode() frame.OpCode { return frame.OpAuthenticate }

func ParseAuthenticate(buf *frame.Buffer) *Authenticate {
	return &Authenticate{Authenticator: buf.ReadString()}
}

var _ frame.Response = (*AuthChallenge)(nil)

// AuthChallenge carries the next SASL challenge token, native protocol
// v4 §4.2.7.
type AuthChallenge struct {
	Token []byte
}

func (*AuthChallenge) OpCode() frame.OpCode { return frame.OpAuthChallenge }

func ParseAuthChallenge(buf *frame.Buffer) *AuthChallenge {
	return &AuthChallenge{Token: buf.ReadBytes()}
}

var _ frame.Response = (*AuthSuccess)(nil)

// AuthSuccess ends the SASL handshake successfully, native protocol v4
// §4.2.8.
type AuthSuccess struct {
	Token []byte
}

func (*AuthSuccess) OpCode() frame.OpCode { return frame.OpAuthSuccess }

func ParseAuthSuccess(buf *frame.Buffer) *AuthSuccess {
	return &AuthSuccess{Token: buf.ReadBytes()}
}
