package frame

// Consistency is the CQL consistency level, native protocol v4 §4.
type Consistency = uint16

const (
	ANY         Consistency = 0x0000
	ONE         Consistency = 0x0001
	TWO         Consistency = 0x0002
	THREE       Consistency = 0x0003
	QUORUM      Consistency = 0x0004
	ALL         Consistency = 0x0005
	LOCALQUORUM Consistency = 0x0006
	EACHQUORUM  Consistency = 0x0007
	SERIAL      Consistency = 0x0008
	LOCALSERIAL Consistency = 0x0009
	LOCALONE    Consistency = 0x000A
)

// WriteType, part of WRITE_TIMEOUT/WRITE_FAILURE error bodies.
type WriteType = string

const (
	WriteTypeSimple        WriteType = "SIMPLE"
	WriteTypeBatch         WriteType = "BATCH"
	WriteTypeUnloggedBatch WriteType = "UNLOGGED_BATCH"
	WriteTypeCounter       WriteType = "COUNTER"
	WriteTypeBatchLog      WriteType = "BATCH_LOG"
	WriteTypeCAS           WriteType = "CAS"
	WriteTypeView          WriteType = "VIEW"
	WriteTypeCDC           WriteType = "CDC"
)
