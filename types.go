package shaledb

// ValueType is the low byte of the packed (sequence,kind) trailer of an
// internal key. Deletion sorts after Value at equal (user_key, sequence)
// because the trailer compares descending.
type ValueType uint8

const (
	TypeDeletion ValueType = iota
	TypeValue
)

type CompressionType uint8

const (
	NoCompression CompressionType = iota
	SnappyCompression
)
