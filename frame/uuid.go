package frame

import "github.com/google/uuid"

// UUID is a 128-bit identifier: Node.host_id, schema_version, and
// tracing session/event ids are all UUIDs on the wire. Parsing/formatting
// is delegated to github.com/google/uuid rather than hand-rolled, the
// way the rest of the retrieval pack reaches for it.
type UUID [16]byte

// Nil is the zero UUID, used as a not-yet-known host_id/schema_version.
var Nil UUID

func (u UUID) String() string {
	return uuid.UUID(u).String()
}

func (u UUID) IsNil() bool {
	return u == Nil
}

// ParseUUID parses the canonical string form (e.g. from system tables).
func ParseUUID(s string) (UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Nil, err
	}
	return UUID(id), nil
}

// NewRandomUUID generates a version-4 UUID, used for client-generated
// tracing ids and test fixtures.
func NewRandomUUID() UUID {
	return UUID(uuid.New())
}
