// Package flashtest provides a simulated NOR flash device for exercising
// the patch engine. The device models the erased state per byte, records
// rule violations (writes to non-erased cells, reads of mutated old-image
// bytes) instead of failing the operation, and supports call-counted fault
// injection for error-path tests.
package flashtest

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/embedfw/nanopatch/flash"
)

// ErrInjected is the error returned by an operation armed with FailOn.
var ErrInjected = errors.New("injected flash fault")

// Op identifies a device operation for fault injection and call counting.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpErase
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpErase:
		return "erase"
	default:
		return "unknown"
	}
}

// Device is a simulated NOR flash. It implements flash.Device.
type Device struct {
	buf    []byte
	erased []bool
	sector int64

	// mutated marks bytes whose cell changed since MarkOriginal. Reading a
	// mutated byte is recorded as a violation: the engine must never read
	// back a region of the old image it has already started rewriting.
	mutated  []bool
	tracking bool

	calls      map[Op]int
	failOn     map[Op]int
	violations *multierror.Error
}

// NewDevice creates a fully-erased simulated device. size must be a
// positive multiple of sectorSize; anything else is a test-setup bug and
// panics.
func NewDevice(size, sectorSize int64) *Device {
	if sectorSize <= 0 || size <= 0 || size%sectorSize != 0 {
		panic(fmt.Sprintf("flashtest: size %d not a positive multiple of sector size %d", size, sectorSize))
	}
	d := &Device{
		buf:    make([]byte, size),
		erased: make([]bool, size),
		sector: sectorSize,
		calls:  make(map[Op]int),
		failOn: make(map[Op]int),
	}
	for i := range d.buf {
		d.buf[i] = flash.ErasedByte
		d.erased[i] = true
	}
	return d
}

// Preload stores data directly into the cell array, bypassing the NOR write
// rule, the way a factory image ends up in flash. Cells holding 0xFF remain
// erased.
func (d *Device) Preload(off int64, data []byte) {
	if off < 0 || off+int64(len(data)) > d.Size() {
		panic("flashtest: preload out of range")
	}
	copy(d.buf[off:], data)
	for i, b := range data {
		d.erased[off+int64(i)] = b == flash.ErasedByte
	}
}

// MarkOriginal snapshots the current contents as "the original old image"
// and starts violation tracking: from now on, any read of a byte whose cell
// has since been erased or rewritten is recorded.
func (d *Device) MarkOriginal() {
	d.mutated = make([]bool, len(d.buf))
	d.tracking = true
}

// FailOn arms the nth (1-based) call of op to fail with ErrInjected.
func (d *Device) FailOn(op Op, call int) {
	d.failOn[op] = call
}

// Calls returns how many times op has been invoked.
func (d *Device) Calls(op Op) int { return d.calls[op] }

// Violations returns every recorded rule violation, or nil if none.
func (d *Device) Violations() error { return d.violations.ErrorOrNil() }

// Bytes returns the cell array for direct inspection.
func (d *Device) Bytes() []byte { return d.buf }

// SectorSize implements flash.Device.
func (d *Device) SectorSize() int64 { return d.sector }

// Size implements flash.Device.
func (d *Device) Size() int64 { return int64(len(d.buf)) }

func (d *Device) countAndMaybeFail(op Op) error {
	d.calls[op]++
	if n, ok := d.failOn[op]; ok && d.calls[op] == n {
		return fmt.Errorf("%s call %d: %w", op, n, ErrInjected)
	}
	return nil
}

func (d *Device) violate(format string, args ...any) {
	d.violations = multierror.Append(d.violations, fmt.Errorf(format, args...))
}

// ReadAt implements flash.Device.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if err := d.countAndMaybeFail(OpRead); err != nil {
		return 0, err
	}
	if off < 0 || off+int64(len(p)) > d.Size() {
		return 0, flash.NewRangeError("flashtest", "read", off, int64(len(p)), d.Size())
	}
	if d.tracking {
		for i := off; i < off+int64(len(p)); i++ {
			if d.mutated[i] {
				d.violate("read of mutated byte %d (range [%d, %d))", i, off, off+int64(len(p)))
				break
			}
		}
	}
	return copy(p, d.buf[off:]), nil
}

// WriteAt implements flash.Device. Writing a cell that is not erased is
// recorded as a violation; the write still lands so tests can inspect the
// resulting image.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if err := d.countAndMaybeFail(OpWrite); err != nil {
		return 0, err
	}
	if off < 0 || off+int64(len(p)) > d.Size() {
		return 0, flash.NewRangeError("flashtest", "write", off, int64(len(p)), d.Size())
	}
	for i, b := range p {
		pos := off + int64(i)
		if !d.erased[pos] {
			d.violate("write to non-erased byte %d", pos)
		}
		d.buf[pos] = b
		d.erased[pos] = false
		if d.tracking {
			d.mutated[pos] = true
		}
	}
	return len(p), nil
}

// Erase implements flash.Device. Every sector overlapping [off, off+length)
// is returned to the erased state.
func (d *Device) Erase(off, length int64) error {
	if err := d.countAndMaybeFail(OpErase); err != nil {
		return err
	}
	if off < 0 || length < 0 || off+length > d.Size() {
		return flash.NewRangeError("flashtest", "erase", off, length, d.Size())
	}
	start := off / d.sector * d.sector
	end := flash.AlignUp(off+length, d.sector)
	if end > d.Size() {
		end = d.Size()
	}
	for i := start; i < end; i++ {
		d.buf[i] = flash.ErasedByte
		d.erased[i] = true
		if d.tracking {
			d.mutated[i] = true
		}
	}
	return nil
}
