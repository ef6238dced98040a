package request

import "github.com/scylladb/scylla-go-driver/frame"

var _ frame.Request = (*Batch)(nil)

// BatchType, native protocol v4 §4.1.7.
type BatchType = byte

const (
	BatchLogged   BatchType = 0x00
	BatchUnlogged BatchType = 0x01
	BatchCounter  BatchType = 0x02
)

const (
	batchKindQuery    byte = 0
	batchKindPrepared byte = 1
)

// MaxBatchChildren is the protocol's [short]-sized child count limit.
// Per spec, a Batch exceeding it is validated at send time, not at
// construction, so repeated Append calls never fail early.
const MaxBatchChildren = 65535

// BatchChild is one statement within a BATCH: either raw CQL text or a
// prepared statement id, plus its bound values.
type BatchChild struct {
	ID     []byte // nil => Query is CQL text
	Query  string
	Values []frame.Value
}

// Batch is the BATCH request, native protocol v4 §4.1.7.
type Batch struct {
	Type              BatchType
	Children          []BatchChild
	Consistency       frame.Consistency
	SerialConsistency frame.Consistency
	HasSerialConsist  bool
	Timestamp         int64
	HasTimestamp      bool
}

func (b *Batch) WriteTo(buf *frame.Buffer) {
	buf.WriteByte(b.Type)
	buf.WriteShort(uint16(len(b.Children)))
	for _, c := range b.Children {
		if c.ID != nil {
			buf.WriteByte(batchKindPrepared)
			buf.WriteShortBytes(c.ID)
		} else {
			buf.WriteByte(batchKindQuery)
			buf.WriteLongString(c.Query)
		}
		buf.WriteShort(uint16(len(c.Values)))
		for _, v := range c.Values {
			buf.WriteValue(v)
		}
	}
	buf.WriteConsistency(b.Consistency)

	var flags byte
	if b.HasSerialConsist {
		flags |= flagWithSerialConsist
	}
	if b.HasTimestamp {
		flags |= flagWithDefaultTimestamp
	}
	buf.WriteByte(flags)
	if b.HasSerialConsist {
		buf.WriteConsistency(b.SerialConsistency)
	}
	if b.HasTimestamp {
		buf.WriteLong(b.Timestamp)
	}
}

func (*Batch) OpCode() frame.OpCode {
	return frame.OpBatch
}
