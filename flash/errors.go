package flash

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned when an access falls outside a partition or
	// device boundary.
	ErrOutOfRange = errors.New("flash access out of range")

	// ErrUnalignedOffset is returned when an erase offset is not aligned to
	// the device sector size.
	ErrUnalignedOffset = errors.New("offset not sector-aligned")

	// ErrPartitionNotFound is returned by Table.Find when no partition with
	// the requested name has been registered.
	ErrPartitionNotFound = errors.New("partition not found")

	// ErrPartitionExists is returned by Table.Register when a partition with
	// the same name has already been registered.
	ErrPartitionExists = errors.New("partition already registered")
)

// RangeError provides structured information about an out-of-range access.
// It supports errors.Is with ErrOutOfRange.
type RangeError struct {
	Partition string
	Op        string
	Offset    int64
	Length    int64
	Limit     int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("flash %s %s: range [%d, %d) exceeds limit %d",
		e.Op, e.Partition, e.Offset, e.Offset+e.Length, e.Limit)
}

// Is enables errors.Is() compatibility with ErrOutOfRange.
func (e *RangeError) Is(target error) bool {
	return target == ErrOutOfRange
}

// NewRangeError creates a new RangeError for the given access.
func NewRangeError(partition, op string, offset, length, limit int64) *RangeError {
	return &RangeError{
		Partition: partition,
		Op:        op,
		Offset:    offset,
		Length:    length,
		Limit:     limit,
	}
}
