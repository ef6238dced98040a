package response

import (
	"fmt"

	"github.com/scylladb/scylla-go-driver/frame"
)

// ErrorCode, native protocol v4 §8.
type ErrorCode = int32

const (
	ErrServerError        ErrorCode = 0x0000
	ErrProtocolError      ErrorCode = 0x000A
	ErrAuthenticationError ErrorCode = 0x0100
	ErrUnavailable        ErrorCode = 0x1000
	ErrOverloaded         ErrorCode = 0x1001
	ErrIsBootstrapping    ErrorCode = 0x1002
	ErrTruncateError      ErrorCode = 0x1003
	ErrWriteTimeout       ErrorCode = 0x1100
	ErrReadTimeout        ErrorCode = 0x1200
	ErrReadFailure        ErrorCode = 0x1300
	ErrFunctionFailure    ErrorCode = 0x1400
	ErrWriteFailure       ErrorCode = 0x1500
	ErrSyntaxError        ErrorCode = 0x2000
	ErrUnauthorized       ErrorCode = 0x2100
	ErrInvalid            ErrorCode = 0x2200
	ErrConfigError        ErrorCode = 0x2300
	ErrAlreadyExists      ErrorCode = 0x2400
	ErrUnprepared         ErrorCode = 0x2500
)

// CodedError is a server-reported ERROR frame. It both satisfies Go's
// error interface and carries the typed extra fields some error codes
// add, so the retry policy can switch on them without re-parsing.
type CodedError struct {
	Code    ErrorCode
	Message string

	// Set for ErrUnavailable.
	Consistency       frame.Consistency
	RequiredReplicas  int32
	AliveReplicas     int32
	// Set for ErrWriteTimeout/ErrReadTimeout/ErrWriteFailure/ErrReadFailure.
	Received   int32
	BlockFor   int32
	WriteType  frame.WriteType
	DataPresent bool
	// Set for ErrUnprepared.
	UnknownID []byte
	// Set for ErrAlreadyExists.
	Keyspace string
	Table    string
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("db error %#x: %s", e.Code, e.Message)
}

func (*CodedError) OpCode() frame.OpCode { return frame.OpError }

// ParseError decodes an ERROR frame body, native protocol v4 §4.2.1,
// including the per-code extra fields.
func ParseError(buf *frame.Buffer) *CodedError {
	e := &CodedError{
		Code:    buf.ReadInt(),
		Message: buf.ReadString(),
	}

	switch e.Code {
	case ErrUnavailable:
		e.Consistency = buf.ReadConsistency()
		e.RequiredReplicas = buf.ReadInt()
		e.AliveReplicas = buf.ReadInt()
	case ErrWriteTimeout:
		e.Consistency = buf.ReadConsistency()
		e.Received = buf.ReadInt()
		e.BlockFor = buf.ReadInt()
		e.WriteType = buf.ReadString()
	case ErrReadTimeout:
		e.Consistency = buf.ReadConsistency()
		e.Received = buf.ReadInt()
		e.BlockFor = buf.ReadInt()
		e.DataPresent = buf.ReadBool()
	case ErrReadFailure:
		e.Consistency = buf.ReadConsistency()
		e.Received = buf.ReadInt()
		e.BlockFor = buf.ReadInt()
		buf.Discard(4) // num failures, not tracked
		e.DataPresent = buf.ReadBool()
	case ErrWriteFailure:
		e.Consistency = buf.ReadConsistency()
		e.Received = buf.ReadInt()
		e.BlockFor = buf.ReadInt()
		buf.Discard(4) // num failures, not tracked
		e.WriteType = buf.ReadString()
	case ErrFunctionFailure:
		buf.ReadString() // keyspace
		buf.ReadString() // function
		buf.ReadStringList() // arg types
	case ErrAlreadyExists:
		e.Keyspace = buf.ReadString()
		e.Table = buf.ReadString()
	case ErrUnprepared:
		e.UnknownID = buf.ReadShortBytes()
	}

	return e
}
