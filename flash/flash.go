// Package flash provides the partition-level flash abstraction the patch
// engine runs against: a Device exposes sector-erase semantics, and a
// Partition is a named, bounds-checked window onto one.
package flash

import (
	"fmt"
)

// Device is a single flash device with NOR-style erase semantics. Writes
// must target previously-erased locations; only Erase can return a range to
// the erased (0xFF) state, and it always operates on whole sectors.
type Device interface {
	// SectorSize returns the erase-block size in bytes.
	SectorSize() int64
	// Size returns the total device size in bytes.
	Size() int64
	// ReadAt reads len(p) bytes starting at off. No alignment requirement.
	ReadAt(p []byte, off int64) (int, error)
	// WriteAt writes len(p) bytes starting at off. The caller guarantees
	// the target range is in the erased state. No alignment requirement.
	WriteAt(p []byte, off int64) (int, error)
	// Erase returns to the erased state every sector overlapping
	// [off, off+length).
	Erase(off, length int64) error
}

// Partition is a named region of a flash device. All offsets passed to its
// methods are relative to the partition start.
type Partition struct {
	name   string
	dev    Device
	offset int64
	length int64
}

// NewPartition defines a partition over dev. The partition offset must be
// sector-aligned and the region must lie within the device.
func NewPartition(name string, dev Device, offset, length int64) (*Partition, error) {
	if name == "" {
		return nil, fmt.Errorf("partition name cannot be empty")
	}
	if dev == nil {
		return nil, fmt.Errorf("partition %q: device cannot be nil", name)
	}
	if offset < 0 || length <= 0 || offset+length > dev.Size() {
		return nil, NewRangeError(name, "define", offset, length, dev.Size())
	}
	if offset%dev.SectorSize() != 0 {
		return nil, fmt.Errorf("partition %q: offset %d is not aligned to sector size %d: %w",
			name, offset, dev.SectorSize(), ErrUnalignedOffset)
	}
	return &Partition{name: name, dev: dev, offset: offset, length: length}, nil
}

// Name returns the partition name.
func (p *Partition) Name() string { return p.name }

// Length returns the partition length in bytes.
func (p *Partition) Length() int64 { return p.length }

// SectorSize returns the erase-block size of the backing device.
func (p *Partition) SectorSize() int64 { return p.dev.SectorSize() }

// Device returns the backing device.
func (p *Partition) Device() Device { return p.dev }

// Read fills buf from the partition starting at off.
func (p *Partition) Read(off int64, buf []byte) error {
	if err := p.checkRange("read", off, int64(len(buf))); err != nil {
		return err
	}
	if _, err := p.dev.ReadAt(buf, p.offset+off); err != nil {
		return fmt.Errorf("flash read %s@%d: %w", p.name, off, err)
	}
	return nil
}

// Write writes data to the partition starting at off. The target range must
// be in the erased state.
func (p *Partition) Write(off int64, data []byte) error {
	if err := p.checkRange("write", off, int64(len(data))); err != nil {
		return err
	}
	if _, err := p.dev.WriteAt(data, p.offset+off); err != nil {
		return fmt.Errorf("flash write %s@%d: %w", p.name, off, err)
	}
	return nil
}

// Erase erases the sectors covering [off, off+length). The offset must be
// sector-aligned; the length may be unaligned and is extended to the next
// sector boundary, clamped to the partition end.
func (p *Partition) Erase(off, length int64) error {
	if err := p.checkRange("erase", off, length); err != nil {
		return err
	}
	if off%p.dev.SectorSize() != 0 {
		return fmt.Errorf("flash erase %s@%d: %w", p.name, off, ErrUnalignedOffset)
	}
	covered := AlignUp(length, p.dev.SectorSize())
	if off+covered > p.length {
		covered = p.length - off
	}
	if err := p.dev.Erase(p.offset+off, covered); err != nil {
		return fmt.Errorf("flash erase %s@%d+%d: %w", p.name, off, covered, err)
	}
	return nil
}

func (p *Partition) checkRange(op string, off, length int64) error {
	if off < 0 || length < 0 || off+length > p.length {
		return NewRangeError(p.name, op, off, length, p.length)
	}
	return nil
}

// AlignUp rounds val up to the next multiple of to. to must be positive.
func AlignUp(val, to int64) int64 {
	return (val + to - 1) / to * to
}
