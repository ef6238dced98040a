package response

import (
	"fmt"

	"github.com/scylladb/scylla-go-driver/frame"
)

// ResultKind, native protocol v4 §4.2.5.
type ResultKind = int32

const (
	VoidKind         ResultKind = 0x0001
	RowsKind         ResultKind = 0x0002
	SetKeyspaceKind  ResultKind = 0x0003
	PreparedKind     ResultKind = 0x0004
	SchemaChangeKind ResultKind = 0x0005
)

// Result is implemented by every RESULT body kind; callers type-switch
// on the concrete type (Void, Rows, SetKeyspace, Prepared, SchemaChange).
type Result interface {
	frame.Response
	Kind() ResultKind
}

type resultBase struct{}

func (resultBase) OpCode() frame.OpCode { return frame.OpResult }

var _ Result = (*Void)(nil)

type Void struct{ resultBase }

func (*Void) Kind() ResultKind { return VoidKind }

var _ Result = (*Rows)(nil)

// Rows is a RESULT of kind ROWS: the page of data returned by a
// SELECT (or by paged EXECUTE). Metadata.PagingState, if non-nil, must be
// echoed back on the next request to fetch the following page.
type Rows struct {
	resultBase
	Metadata    frame.ResultMetadata
	Rows        []frame.Row
	HasMorePages bool
}

func (*Rows) Kind() ResultKind { return RowsKind }

func parseRows(buf *frame.Buffer) *Rows {
	m := frame.ParseResultMetadata(buf, false)
	n := buf.ReadInt()
	rows := make([]frame.Row, n)
	for i := range rows {
		row := make(frame.Row, m.ColumnsCount)
		for j := range row {
			row[j] = buf.ReadValue()
		}
		rows[i] = row
	}
	return &Rows{
		Metadata:     m,
		Rows:         rows,
		HasMorePages: m.Flags&frame.HasMorePages != 0,
	}
}

var _ Result = (*SetKeyspace)(nil)

type SetKeyspace struct {
	resultBase
	Keyspace string
}

func (*SetKeyspace) Kind() ResultKind { return SetKeyspaceKind }

var _ Result = (*Prepared)(nil)

// Prepared is the response to PREPARE: an opaque statement id plus
// metadata describing bound-value positions (including which ones are
// partition-key components) and the eventual result's columns.
type Prepared struct {
	resultBase
	ID               []byte
	ResultMetadataID []byte // empty unless the server is protocol v5+
	Metadata         frame.ResultMetadata
	ResultMetadata   frame.ResultMetadata
}

func (*Prepared) Kind() ResultKind { return PreparedKind }

func parsePrepared(buf *frame.Buffer) *Prepared {
	id := buf.ReadShortBytes()
	meta := frame.ParseResultMetadata(buf, true)
	resultMeta := frame.ParseResultMetadata(buf, false)
	return &Prepared{ID: id, Metadata: meta, ResultMetadata: resultMeta}
}

var _ Result = (*SchemaChange)(nil)

// SchemaChange both a RESULT body (synchronous DDL response) and an
// EVENT body (async SCHEMA_CHANGE notification) share this shape,
// native protocol v4 §4.2.5.3/§4.2.6.
type SchemaChange struct {
	resultBase
	ChangeType string // CREATED, UPDATED, DROPPED
	Target     string // KEYSPACE, TABLE, TYPE, FUNCTION, AGGREGATE
	Keyspace   string
	Name       string   // table/type/function/aggregate name, if Target != KEYSPACE
	Arguments  []string // function/aggregate argument types
}

func (*SchemaChange) Kind() ResultKind { return SchemaChangeKind }

func parseSchemaChange(buf *frame.Buffer) *SchemaChange {
	sc := &SchemaChange{
		ChangeType: buf.ReadString(),
		Target:     buf.ReadString(),
		Keyspace:   buf.ReadString(),
	}
	switch sc.Target {
	case "TABLE", "TYPE":
		sc.Name = buf.ReadString()
	case "FUNCTION", "AGGREGATE":
		sc.Name = buf.ReadString()
		sc.Arguments = buf.ReadStringList()
	}
	return sc
}

// ParseResult decodes a RESULT frame body, dispatching on its kind.
func ParseResult(buf *frame.Buffer) Result {
	switch kind := buf.ReadInt(); kind {
	case VoidKind:
		return &Void{}
	case RowsKind:
		return parseRows(buf)
	case SetKeyspaceKind:
		return &SetKeyspace{Keyspace: buf.ReadString()}
	case PreparedKind:
		return parsePrepared(buf)
	case SchemaChangeKind:
		return parseSchemaChange(buf)
	default:
		buf.Fail(fmt.Errorf("response: unknown result kind %#x", kind))
		return &Void{}
	}
}
