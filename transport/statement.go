package transport

import (
	"github.com/scylladb/scylla-go-driver/frame"
)

// Statement is a single CQL statement ready to send: either unprepared
// text or a prepared id, with bound values and per-statement execution
// options (spec §3 PreparedStatement, §4.H executor inputs).
type Statement struct {
	Content string
	ID      []byte // non-nil when prepared
	ResultMetadataID []byte

	Values []frame.Value
	// PkIndexes are positions within Values that make up the partition
	// key, in column order, set only for prepared statements.
	PkIndexes []uint16
	PkCnt     int

	Consistency       frame.Consistency
	SerialConsistency frame.Consistency
	PageSize          int32
	Idempotent        bool
	Compression       bool
	NoSkipMetadata    bool

	// Metadata describes the result's columns; for a prepared SELECT it
	// comes from the PREPARE response and lets query.go skip
	// re-fetching metadata on every EXECUTE.
	Metadata *frame.ResultMetadata
}

// Clone makes a deep-enough copy for concurrent use by one in-flight
// request: Values is copied since Bind mutates it in place.
func (s Statement) Clone() Statement {
	v := s
	v.Values = make([]frame.Value, len(s.Values))
	copy(v.Values, s.Values)
	v.PkIndexes = append([]uint16(nil), s.PkIndexes...)
	return v
}

// QueryResult is the outcome of one Query/Execute round-trip: a page of
// rows plus enough metadata to fetch the next page.
type QueryResult struct {
	Rows         []frame.Row
	Metadata     frame.ResultMetadata
	PagingState  []byte
	HasMorePages bool
}
