// Package boot holds the hand-off contract between the bootloader and the
// application image: reading the vector-table head of a Cortex-M style
// image and sanity-checking it against the platform's memory map before
// control is transferred. The transfer itself (interrupt masking,
// peripheral and NVIC reset, stack-pointer relocation, the jump) is CPU
// specific and lives behind the Jumper interface.
package boot

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/embedfw/nanopatch/flash"
)

var (
	// ErrInvalidVectorTable is returned when the image's initial stack
	// pointer or reset vector lies outside the platform's plausible
	// regions. Booting such an image would fault immediately.
	ErrInvalidVectorTable = errors.New("no legitimate application")
)

// VectorTable is the head of a Cortex-M vector table: the initial main
// stack pointer at the image base and the reset handler address at base+4,
// both little-endian.
type VectorTable struct {
	StackPointer uint32
	ResetHandler uint32
}

// Region is a half-open address range [Start, End).
type Region struct {
	Start uint32
	End   uint32
}

// Contains reports whether addr lies within the region.
func (r Region) Contains(addr uint32) bool {
	return addr >= r.Start && addr < r.End
}

// Platform describes where a plausible application may put its code and
// its stack.
type Platform struct {
	// Flash is where the reset handler must point.
	Flash Region
	// RAM is where the initial stack pointer must point.
	RAM Region
}

// STM32 covers the common STM32/AT32 memory map: code in the 0x08xxxxxx
// flash window, stacks in the first MiB of the 0x20xxxxxx SRAM window.
var STM32 = Platform{
	Flash: Region{Start: 0x0800_0000, End: 0x0900_0000},
	RAM:   Region{Start: 0x2000_0000, End: 0x2010_0000},
}

// ReadVectorTable reads the vector-table head from the start of the
// application partition.
func ReadVectorTable(app *flash.Partition) (VectorTable, error) {
	var head [8]byte
	if err := app.Read(0, head[:]); err != nil {
		return VectorTable{}, fmt.Errorf("reading vector table: %w", err)
	}
	return VectorTable{
		StackPointer: binary.LittleEndian.Uint32(head[0:4]),
		ResetHandler: binary.LittleEndian.Uint32(head[4:8]),
	}, nil
}

// Validate checks the vector table against the platform memory map. The
// reset handler keeps its Thumb bit, which is ignored for the range check.
func (vt VectorTable) Validate(p Platform) error {
	if !p.RAM.Contains(vt.StackPointer) {
		return fmt.Errorf("stack pointer 0x%08X outside RAM [0x%08X, 0x%08X): %w",
			vt.StackPointer, p.RAM.Start, p.RAM.End, ErrInvalidVectorTable)
	}
	if !p.Flash.Contains(vt.ResetHandler &^ 1) {
		return fmt.Errorf("reset vector 0x%08X outside flash [0x%08X, 0x%08X): %w",
			vt.ResetHandler, p.Flash.Start, p.Flash.End, ErrInvalidVectorTable)
	}
	return nil
}

// Jumper transfers control to a validated application: disable interrupts,
// reset peripheral clocks and NVIC state, set the main stack pointer and
// jump to the reset handler. Implementations are platform code and do not
// return on success.
type Jumper interface {
	Jump(vt VectorTable) error
}
