package transport

import (
	"fmt"
	"time"

	"github.com/scylladb/scylla-go-driver/frame"
	"github.com/scylladb/scylla-go-driver/frame/response"
)

// BrokenReason names why a Connection transitioned to Broken; it is
// carried in BrokenConnection.Reason (spec §4.B, §7).
type BrokenReason = string

const (
	ReasonIOError                BrokenReason = "io_error"
	ReasonKeepaliveTimeout        BrokenReason = "keepalive_timeout"
	ReasonTooManyOrphanedStreams BrokenReason = "too_many_orphaned_stream_ids"
	ReasonSetupFailed            BrokenReason = "setup_failed"
	ReasonClosed                 BrokenReason = "closed"
)

// sharedErr wraps a cause so a single underlying failure (e.g. one
// socket read error) can be copied by value and handed to many waiting
// callers without re-allocating or racing on the original error value
// (spec §7: "all errors are cloneable values").
type sharedErr struct {
	cause error
}

func (e *sharedErr) Error() string { return e.cause.Error() }
func (e *sharedErr) Unwrap() error { return e.cause }

func shareErr(err error) error {
	if err == nil {
		return nil
	}
	return &sharedErr{cause: err}
}

// ConnectTimeout describes a failed TCP dial. OpenConn prefixes every
// dial error with its message, whether the dial exceeded connect_timeout
// or failed for another reason.
type ConnectTimeout struct {
	Addr string
}

func (e *ConnectTimeout) Error() string {
	return fmt.Sprintf("connect timeout dialing %s", e.Addr)
}

// IoError wraps a socket read/write failure.
type IoError struct {
	Err error
}

func (e *IoError) Error() string { return fmt.Sprintf("io error: %v", e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// NoSourcePortForShard is returned when the pool exhausted the shard
// port range without landing a connection on the desired shard.
type NoSourcePortForShard struct {
	Shard int
}

func (e *NoSourcePortForShard) Error() string {
	return fmt.Sprintf("no free local port maps to shard %d", e.Shard)
}

// TranslationError describes a failed address translation. This package
// has no address translator, so nothing in it returns this error.
type TranslationError struct {
	Addr string
	Err  error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translating address %s: %v", e.Addr, e.Err)
}
func (e *TranslationError) Unwrap() error { return e.Err }

// BrokenConnection reports that a Connection reached its terminal
// Broken state. Broken connections are replaced, never revived.
type BrokenConnection struct {
	Addr   string
	Reason BrokenReason
}

func (e *BrokenConnection) Error() string {
	return fmt.Sprintf("connection to %s broken: %s", e.Addr, e.Reason)
}

// ConnectionSetupRequestError reports a failure during the
// OPTIONS/STARTUP/AUTHENTICATE/REGISTER handshake.
type ConnectionSetupRequestError struct {
	Kind  string // the request that failed, e.g. "STARTUP"
	Phase string // e.g. "auth", "register"
	Err   error
}

func (e *ConnectionSetupRequestError) Error() string {
	return fmt.Sprintf("connection setup failed at %s (%s): %v", e.Kind, e.Phase, e.Err)
}
func (e *ConnectionSetupRequestError) Unwrap() error { return e.Err }

// RequestAttemptError wraps the distinct ways a single attempt of a
// request can fail without the connection itself being declared broken.
type RequestAttemptError struct {
	// Db is set when the server answered with an ERROR frame.
	Db *response.CodedError
	// Kind names a transport-level attempt failure when Db is nil:
	// "stream_exhausted" (ErrUnableToAllocStreamId) or
	// "unexpected_response" (a reply that is neither the expected
	// result nor an ERROR frame).
	Kind string
	Err  error
}

func (e *RequestAttemptError) Error() string {
	if e.Db != nil {
		return e.Db.Error()
	}
	return fmt.Sprintf("request attempt failed (%s): %v", e.Kind, e.Err)
}
func (e *RequestAttemptError) Unwrap() error {
	if e.Db != nil {
		return e.Db
	}
	return e.Err
}

func dbAttemptError(res frame.Response) error {
	if ce, ok := res.(*response.CodedError); ok {
		return &RequestAttemptError{Db: ce}
	}
	return &RequestAttemptError{Kind: "unexpected_response", Err: fmt.Errorf("unexpected response %T", res)}
}

var (
	ErrUnableToAllocStreamId = &RequestAttemptError{Kind: "stream_exhausted", Err: fmt.Errorf("unable to allocate stream id: connection saturated")}
)

// RepreparedIdChangedError is fatal for the affected prepared statement:
// the server returned a different id for the same statement text on
// reprepare.
type RepreparedIdChangedError struct {
	Statement string
	Old, New  []byte
}

func (e *RepreparedIdChangedError) Error() string {
	return fmt.Sprintf("reprepared id for %q changed from %x to %x", e.Statement, e.Old, e.New)
}

// NonfinishedPagingStateError reports a non-empty paging state on a
// request declared unpaged. This module has no unpaged query path, and
// nothing in it returns this error.
type NonfinishedPagingStateError struct{}

func (e *NonfinishedPagingStateError) Error() string {
	return "server returned a non-empty paging state for an unpaged request"
}

// RequestTimeout is surfaced when the client deadline elapses before any
// attempt succeeds (spec §4.H item 6), distinct from a bare ctx.Err()
// caused by the caller's own cancellation.
type RequestTimeout struct {
	Elapsed time.Duration
}

func (e *RequestTimeout) Error() string { return fmt.Sprintf("request timed out after %v", e.Elapsed) }

// BadQuery reports a caller mistake: a malformed statement that never
// reaches the network. Never retried.
type BadQuery struct {
	Reason string
}

func (e *BadQuery) Error() string { return fmt.Sprintf("bad query: %s", e.Reason) }

// PreparedStatementIdsMismatch is returned by prepare() when not every
// open connection agreed on the same prepared id; the statement is not
// cached in that case.
type PreparedStatementIdsMismatch struct {
	Statement string
}

func (e *PreparedStatementIdsMismatch) Error() string {
	return fmt.Sprintf("prepared statement ids for %q differ across connections", e.Statement)
}

// --- metadata errors: leave the previous ClusterState snapshot intact ---

type PeersMetadataError struct {
	Reason string // "empty_peers" | "empty_token_lists"
}

func (e *PeersMetadataError) Error() string { return fmt.Sprintf("peers metadata error: %s", e.Reason) }

var (
	ErrEmptyPeers      = &PeersMetadataError{Reason: "empty_peers"}
	ErrEmptyTokenLists = &PeersMetadataError{Reason: "empty_token_lists"}
)

type KeyspaceStrategyError struct {
	Keyspace string
	Reason   string
}

func (e *KeyspaceStrategyError) Error() string {
	return fmt.Sprintf("keyspace %s: invalid replication strategy: %s", e.Keyspace, e.Reason)
}

type UdtMetadataError struct {
	Reason string // "invalid_cql_type" | "circular_type_dependency"
	Detail string
}

func (e *UdtMetadataError) Error() string { return fmt.Sprintf("udt metadata error: %s: %s", e.Reason, e.Detail) }

func CircularTypeDependencyError(cycle string) error {
	return &UdtMetadataError{Reason: "circular_type_dependency", Detail: cycle}
}

type TablesMetadataError struct {
	Table  string
	Reason string
}

func (e *TablesMetadataError) Error() string {
	return fmt.Sprintf("table %s metadata error: %s", e.Table, e.Reason)
}

// --- USE KEYSPACE ---

// BadKeyspaceNameReason, spec §6/§8 property 7.
type BadKeyspaceNameReason = string

const (
	KeyspaceNameEmpty            BadKeyspaceNameReason = "empty"
	KeyspaceNameTooLong          BadKeyspaceNameReason = "too_long"
	KeyspaceNameIllegalCharacter BadKeyspaceNameReason = "illegal_character"
)

type BadKeyspaceName struct {
	Name    string
	Reason  BadKeyspaceNameReason
	Length  int  // set when Reason == too_long
	Char    rune // set when Reason == illegal_character
}

func (e *BadKeyspaceName) Error() string {
	switch e.Reason {
	case KeyspaceNameEmpty:
		return "keyspace name must not be empty"
	case KeyspaceNameTooLong:
		return fmt.Sprintf("keyspace name %q is %d characters, max is 48", e.Name, e.Length)
	case KeyspaceNameIllegalCharacter:
		return fmt.Sprintf("keyspace name %q contains illegal character %q", e.Name, e.Char)
	default:
		return fmt.Sprintf("invalid keyspace name %q", e.Name)
	}
}

type UseKeyspaceError struct {
	BadName  *BadKeyspaceName
	Mismatch bool
	Want     string
	Got      string
}

func (e *UseKeyspaceError) Error() string {
	if e.BadName != nil {
		return e.BadName.Error()
	}
	return fmt.Sprintf("server applied keyspace %q, expected %q", e.Got, e.Want)
}

// ValidateKeyspaceName checks spec §8 property 7: non-empty, <=48 chars,
// [A-Za-z0-9_] only. Performed entirely client-side, no network call.
func ValidateKeyspaceName(name string) error {
	if len(name) == 0 {
		return &UseKeyspaceError{BadName: &BadKeyspaceName{Name: name, Reason: KeyspaceNameEmpty}}
	}
	if len(name) > 48 {
		return &UseKeyspaceError{BadName: &BadKeyspaceName{Name: name, Reason: KeyspaceNameTooLong, Length: len(name)}}
	}
	for _, c := range name {
		if !isKeyspaceChar(c) {
			return &UseKeyspaceError{BadName: &BadKeyspaceName{Name: name, Reason: KeyspaceNameIllegalCharacter, Char: c}}
		}
	}
	return nil
}

func isKeyspaceChar(c rune) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}
