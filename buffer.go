package nanopatch

import (
	"fmt"

	"github.com/embedfw/nanopatch/flash"
)

// commitBuffer is the bounded side-buffer that decouples new-image writes
// from the ongoing read of the old image. Append queues bytes until the
// buffer is full; Drain moves the queued bytes onto the old partition at a
// caller-chosen offset and resets the fill. The control logic around it is
// identical for both strategies; only the storage medium differs.
type commitBuffer interface {
	Capacity() int64
	Fill() int64
	// Append queues p. The caller guarantees len(p) <= Capacity()-Fill().
	Append(p []byte) error
	// Drain copies the Fill() queued bytes to dst at off and resets the
	// fill. The caller has already erased the destination range.
	Drain(dst *flash.Partition, off int64) error
	// Close releases any resources held by the buffer.
	Close() error
}

// flashSwapBuffer stages pending bytes in a dedicated swap partition.
// Appends are ordinary flash writes, so the region is erased before first
// use and re-erased after every drain.
type flashSwapBuffer struct {
	part     *flash.Partition
	base     int64
	capacity int64
	fill     int64
	scratch  []byte
	logger   Logger
}

func newFlashSwapBuffer(part *flash.Partition, base int64, scratchSize int, logger Logger) (*flashSwapBuffer, error) {
	b := &flashSwapBuffer{
		part:     part,
		base:     base,
		capacity: part.Length() - base,
		scratch:  make([]byte, scratchSize),
		logger:   logger,
	}
	logger.Info("erasing swap area before use", "partition", part.Name(), "size", b.capacity)
	if err := part.Erase(base, b.capacity); err != nil {
		return nil, fmt.Errorf("erasing swap area: %w", err)
	}
	return b, nil
}

func (b *flashSwapBuffer) Capacity() int64 { return b.capacity }
func (b *flashSwapBuffer) Fill() int64     { return b.fill }

func (b *flashSwapBuffer) Append(p []byte) error {
	if err := b.part.Write(b.base+b.fill, p); err != nil {
		return err
	}
	b.fill += int64(len(p))
	return nil
}

// Drain performs a chunked flash-to-flash copy through the RAM scratch
// buffer, then erases the swap region for the next round.
func (b *flashSwapBuffer) Drain(dst *flash.Partition, off int64) error {
	var copied int64
	for copied < b.fill {
		chunk := b.scratch
		if remaining := b.fill - copied; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}
		if err := b.part.Read(b.base+copied, chunk); err != nil {
			return fmt.Errorf("swap copy read: %w", err)
		}
		if err := dst.Write(off+copied, chunk); err != nil {
			return fmt.Errorf("swap copy write: %w", err)
		}
		copied += int64(len(chunk))
	}

	b.logger.Debug("erasing swap area for next round", "partition", b.part.Name())
	if err := b.part.Erase(b.base, b.capacity); err != nil {
		return fmt.Errorf("re-erasing swap area: %w", err)
	}
	b.fill = 0
	return nil
}

func (b *flashSwapBuffer) Close() error { return nil }

// ramBuffer stages pending bytes in RAM. Appends are memory copies and a
// drain is a single partition write; nothing needs clearing between rounds.
type ramBuffer struct {
	buf  []byte
	fill int64
}

func newRAMBuffer(size int64) *ramBuffer {
	return &ramBuffer{buf: make([]byte, size)}
}

func (b *ramBuffer) Capacity() int64 { return int64(len(b.buf)) }
func (b *ramBuffer) Fill() int64     { return b.fill }

func (b *ramBuffer) Append(p []byte) error {
	copy(b.buf[b.fill:], p)
	b.fill += int64(len(p))
	return nil
}

func (b *ramBuffer) Drain(dst *flash.Partition, off int64) error {
	if err := dst.Write(off, b.buf[:b.fill]); err != nil {
		return fmt.Errorf("RAM buffer write: %w", err)
	}
	b.fill = 0
	return nil
}

func (b *ramBuffer) Close() error {
	b.buf = nil
	return nil
}
