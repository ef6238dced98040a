package response

import (
	"net"

	"github.com/scylladb/scylla-go-driver/frame"
)

var _ frame.Response = (*Event)(nil)

// EventType, native protocol v4 §4.2.6.
type EventType = string

const (
	TopologyChange EventType = "TOPOLOGY_CHANGE"
	StatusChange   EventType = "STATUS_CHANGE"
	SchemaChangeEv EventType = "SCHEMA_CHANGE"
)

// Event is a server-pushed notification, delivered on stream -1 to a
// connection that REGISTERed for it (spec §4.B).
type Event struct {
	Type EventType

	// Set for TOPOLOGY_CHANGE/STATUS_CHANGE.
	Change  string // NEW_NODE, REMOVED_NODE, MOVED_NODE, UP, DOWN
	Address net.IP
	Port    int

	// Set for SCHEMA_CHANGE.
	Schema *SchemaChange
}

func (*Event) OpCode() frame.OpCode { return frame.OpEvent }

// ParseEvent decodes an EVENT frame body.
func ParseEvent(buf *frame.Buffer) *Event {
	e := &Event{Type: buf.ReadString()}
	switch e.Type {
	case TopologyChange, StatusChange:
		e.Change = buf.ReadString()
		e.Address, e.Port = buf.ReadInet()
	case SchemaChangeEv:
		e.Schema = parseSchemaChange(buf)
	}
	return e
}
