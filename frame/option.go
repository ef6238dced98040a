package frame

// OptionID is a CQL type id as carried in a result's column spec or a
// PREPARE response, native protocol v4 §4.2.5.2. The driver only needs
// enough of the type system to describe metadata; interpreting the
// bytes of a value is left to an external collaborator (spec §1).
type OptionID = Short

const (
	CustomID    OptionID = 0x0000
	ASCIIID     OptionID = 0x0001
	BigintID    OptionID = 0x0002
	BlobID      OptionID = 0x0003
	BooleanID   OptionID = 0x0004
	CounterID   OptionID = 0x0005
	DecimalID   OptionID = 0x0006
	DoubleID    OptionID = 0x0007
	FloatID     OptionID = 0x0008
	IntID       OptionID = 0x0009
	TimestampID OptionID = 0x000B
	UUIDID      OptionID = 0x000C
	VarcharID   OptionID = 0x000D
	VarintID    OptionID = 0x000E
	TimeUUIDID  OptionID = 0x000F
	InetID      OptionID = 0x0010
	DateID      OptionID = 0x0011
	TimeID      OptionID = 0x0012
	SmallintID  OptionID = 0x0013
	TinyintID   OptionID = 0x0014
	DurationID  OptionID = 0x0015
	ListID      OptionID = 0x0020
	MapID       OptionID = 0x0021
	SetID       OptionID = 0x0022
	UDTID       OptionID = 0x0030
	TupleID     OptionID = 0x0031
)

// Option describes a CQL type structurally: an id plus whatever nested
// shape that id requires (collection element types, UDT field list,
// tuple element list). It never carries or interprets a value's bytes.
type Option struct {
	ID OptionID

	// Set for ListID/SetID.
	List *ListOption
	// Set for MapID.
	Map *MapOption
	// Set for UDTID.
	UDT *UDTOption
	// Set for TupleID.
	Tuple *TupleOption
	// Set for CustomID.
	CustomName string
}

type ListOption struct {
	Element Option
}

type MapOption struct {
	Key   Option
	Value Option
}

type UDTOption struct {
	Keyspace string
	Name     string
	Fields   []UDTField
}

type UDTField struct {
	Name string
	Type Option
}

type TupleOption struct {
	Elements []Option
}

// ParseOption decodes one [option] structure, native protocol v4 §4.2.5.2.
func ParseOption(buf *Buffer) Option {
	id := buf.ReadShort()
	o := Option{ID: id}
	switch id {
	case CustomID:
		o.CustomName = buf.ReadString()
	case ListID, SetID:
		elem := ParseOption(buf)
		o.List = &ListOption{Element: elem}
	case MapID:
		key := ParseOption(buf)
		val := ParseOption(buf)
		o.Map = &MapOption{Key: key, Value: val}
	case UDTID:
		ks := buf.ReadString()
		name := buf.ReadString()
		n := buf.ReadShort()
		fields := make([]UDTField, n)
		for i := range fields {
			fields[i] = UDTField{Name: buf.ReadString(), Type: ParseOption(buf)}
		}
		o.UDT = &UDTOption{Keyspace: ks, Name: name, Fields: fields}
	case TupleID:
		n := buf.ReadShort()
		elems := make([]Option, n)
		for i := range elems {
			elems[i] = ParseOption(buf)
		}
		o.Tuple = &TupleOption{Elements: elems}
	}
	return o
}

// ColumnSpec describes one column in a result or prepared statement's
// metadata, native protocol v4 §4.2.5.2.
type ColumnSpec struct {
	Keyspace string
	Table    string
	Name     string
	Type     Option
}

// ResultMetadataFlags, native protocol v4 §4.2.5.2.
const (
	GlobalTablesSpec uint32 = 0x0001
	HasMorePages     uint32 = 0x0002
	NoMetadata       uint32 = 0x0004
)

// ResultMetadata describes the shape of a RESULT/ROWS or PREPARED
// response's columns.
type ResultMetadata struct {
	Flags        uint32
	ColumnsCount int32
	PagingState  Bytes
	PKIndexes    []uint16 // PREPARE response only
	Columns      []ColumnSpec
}

// ParseResultMetadata decodes the metadata block shared by ROWS and
// PREPARED result kinds.
func ParseResultMetadata(buf *Buffer, withPKIndexes bool) ResultMetadata {
	var m ResultMetadata
	m.Flags = uint32(buf.ReadInt())
	m.ColumnsCount = buf.ReadInt()

	if withPKIndexes {
		n := buf.ReadInt()
		m.PKIndexes = make([]uint16, n)
		for i := range m.PKIndexes {
			m.PKIndexes[i] = buf.ReadShort()
		}
	}

	if m.Flags&HasMorePages != 0 {
		m.PagingState = buf.ReadBytes()
	}

	if m.Flags&NoMetadata != 0 {
		return m
	}

	var globalKeyspace, globalTable string
	if m.Flags&GlobalTablesSpec != 0 {
		globalKeyspace = buf.ReadString()
		globalTable = buf.ReadString()
	}

	m.Columns = make([]ColumnSpec, m.ColumnsCount)
	for i := range m.Columns {
		cs := ColumnSpec{Keyspace: globalKeyspace, Table: globalTable}
		if m.Flags&GlobalTablesSpec == 0 {
			cs.Keyspace = buf.ReadString()
			cs.Table = buf.ReadString()
		}
		cs.Name = buf.ReadString()
		cs.Type = ParseOption(buf)
		m.Columns[i] = cs
	}
	return m
}
