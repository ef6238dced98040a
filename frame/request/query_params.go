package request

import "github.com/scylladb/scylla-go-driver/frame"

// Query flags, native protocol v4 §4.1.4.
const (
	flagValues             byte = 0x01
	flagSkipMetadata       byte = 0x02
	flagPageSize           byte = 0x04
	flagWithPagingState    byte = 0x08
	flagWithSerialConsist  byte = 0x10
	flagWithDefaultTimestamp byte = 0x20
	flagWithNamesForValues byte = 0x40
)

// QueryParams is the [query_parameters] structure shared by QUERY and
// EXECUTE, native protocol v4 §4.1.4.
type QueryParams struct {
	Consistency       frame.Consistency
	Values            []frame.Value
	Names             []string // paired with Values when set; rarely used
	SkipMetadata      bool
	PageSize          int32
	PagingState       frame.Bytes
	SerialConsistency frame.Consistency
	HasSerialConsist  bool
	Timestamp         int64
	HasTimestamp      bool
}

func (p *QueryParams) writeTo(buf *frame.Buffer) {
	buf.WriteConsistency(p.Consistency)

	var flags byte
	if len(p.Values) > 0 {
		flags |= flagValues
		if len(p.Names) == len(p.Values) {
			flags |= flagWithNamesForValues
		}
	}
	if p.SkipMetadata {
		flags |= flagSkipMetadata
	}
	if p.PageSize > 0 {
		flags |= flagPageSize
	}
	if p.PagingState != nil {
		flags |= flagWithPagingState
	}
	if p.HasSerialConsist {
		flags |= flagWithSerialConsist
	}
	if p.HasTimestamp {
		flags |= flagWithDefaultTimestamp
	}
	buf.WriteByte(flags)

	if len(p.Values) > 0 {
		buf.WriteShort(uint16(len(p.Values)))
		for i, v := range p.Values {
			if flags&flagWithNamesForValues != 0 {
				buf.WriteString(p.Names[i])
			}
			buf.WriteValue(v)
		}
	}
	if p.PageSize > 0 {
		buf.WriteInt(p.PageSize)
	}
	if p.PagingState != nil {
		buf.WriteBytes(p.PagingState)
	}
	if p.HasSerialConsist {
		buf.WriteConsistency(p.SerialConsistency)
	}
	if p.HasTimestamp {
		buf.WriteLong(p.Timestamp)
	}
}
