package flash

import "fmt"

// ErasedByte is the value every cell of a NOR flash holds after an erase.
const ErasedByte = 0xFF

// MemDevice is a RAM-backed Device. It starts fully erased and does not
// police the write-to-erased-only rule; use flashtest.Device when that rule
// (and its violations) should be observable.
type MemDevice struct {
	buf    []byte
	sector int64
}

// NewMemDevice creates a fully-erased memory device of the given size.
// size must be a positive multiple of sectorSize.
func NewMemDevice(size, sectorSize int64) (*MemDevice, error) {
	if sectorSize <= 0 || size <= 0 || size%sectorSize != 0 {
		return nil, fmt.Errorf("memdev: size %d is not a positive multiple of sector size %d", size, sectorSize)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = ErasedByte
	}
	return &MemDevice{buf: buf, sector: sectorSize}, nil
}

// SectorSize returns the erase-block size in bytes.
func (d *MemDevice) SectorSize() int64 { return d.sector }

// Size returns the device size in bytes.
func (d *MemDevice) Size() int64 { return int64(len(d.buf)) }

// ReadAt implements Device.
func (d *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > d.Size() {
		return 0, NewRangeError("memdev", "read", off, int64(len(p)), d.Size())
	}
	return copy(p, d.buf[off:]), nil
}

// WriteAt implements Device.
func (d *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > d.Size() {
		return 0, NewRangeError("memdev", "write", off, int64(len(p)), d.Size())
	}
	return copy(d.buf[off:], p), nil
}

// Erase implements Device. Every sector overlapping [off, off+length) is
// filled with ErasedByte.
func (d *MemDevice) Erase(off, length int64) error {
	if off < 0 || length < 0 || off+length > d.Size() {
		return NewRangeError("memdev", "erase", off, length, d.Size())
	}
	start := off / d.sector * d.sector
	end := AlignUp(off+length, d.sector)
	if end > d.Size() {
		end = d.Size()
	}
	for i := start; i < end; i++ {
		d.buf[i] = ErasedByte
	}
	return nil
}

// Bytes returns the backing store. The caller must not hold the slice
// across device operations it wants to observe separately.
func (d *MemDevice) Bytes() []byte { return d.buf }
