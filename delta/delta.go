// Package delta implements the binary delta format consumed by the patch
// engine, and the streaming decoder that applies it.
//
// A payload is laid out as:
//
//	+-------+----------+----------+==============+
//	| NPD1  | old size | new size | instructions |
//	+-------+----------+----------+==============+
//
// Sizes are unsigned varints (7 bits per byte, MSB as continuation). Each
// instruction starts with a command byte:
//
// If the top bit is unset (and the byte non-zero), the low 7 bits are a
// literal length; that many bytes follow in the payload and are appended to
// the new image:
//
//	+----------+============+
//	| 0xxxxxxx |    data    |
//	+----------+============+
//
// If the top bit is set, data is copied from the old image. Bits 0-3 select
// which little-endian offset bytes follow, bits 4-6 which size bytes; a
// decoded size of zero means 0x10000:
//
//	+----------+---------+---------+---------+---------+-------+-------+-------+
//	| 1xxxxxxx | offset1 | offset2 | offset3 | offset4 | size1 | size2 | size3 |
//	+----------+---------+---------+---------+---------+-------+-------+-------+
//
// A command byte of 0x00 is reserved and rejected.
//
// Payloads produced by Diff reference the old image forward-only: every
// copy sources at or beyond the output position that consumes it. That
// property is what makes them safe to apply in place, where the region of
// the old image behind the write frontier is being destroyed as the patch
// proceeds.
package delta

import (
	"errors"
	"fmt"
	"io"
)

// Magic identifies a delta payload.
var Magic = [4]byte{'N', 'P', 'D', '1'}

var (
	// ErrCorruptPatch is returned when the payload is not a valid delta.
	ErrCorruptPatch = errors.New("corrupt delta payload")
)

// CorruptPatchError provides structured information about an invalid
// payload. It supports errors.Is with ErrCorruptPatch.
type CorruptPatchError struct {
	Reason string
}

func (e *CorruptPatchError) Error() string {
	return fmt.Sprintf("corrupt delta payload: %s", e.Reason)
}

// Is enables errors.Is() compatibility with ErrCorruptPatch.
func (e *CorruptPatchError) Is(target error) bool {
	return target == ErrCorruptPatch
}

// NewCorruptPatchError creates a CorruptPatchError with the given reason.
func NewCorruptPatchError(format string, args ...any) *CorruptPatchError {
	return &CorruptPatchError{Reason: fmt.Sprintf(format, args...)}
}

// Listener supplies the decoder's three I/O callbacks. The decoder owns the
// call schedule: ReadPatch is strictly sequential, ReadOld is random access
// into the old image, WriteNew is a strictly sequential sink whose total
// equals the new-image length.
type Listener interface {
	// ReadPatch reads the next patch-payload bytes into p, io.Reader style.
	// It returns io.EOF once the payload is exhausted.
	ReadPatch(p []byte) (int, error)

	// ReadOld fills p from the old image starting at absolute byte address
	// addr, with 0 <= addr <= addr+len(p) <= old image length.
	ReadOld(addr int64, p []byte) error

	// WriteNew appends p to the new image.
	WriteNew(p []byte) error
}

// Option configures Apply.
type Option func(*config) error

type config struct {
	patchBufSize int
	copyBufSize  int
}

// WithPatchBufferSize sets the read-ahead buffer used on the patch stream.
// The default is 4096 bytes.
func WithPatchBufferSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("patch buffer size must be positive, got %d", n)
		}
		c.patchBufSize = n
		return nil
	}
}

// WithCopyBufferSize sets the scratch buffer used to move copy-instruction
// data from the old image to the sink. The default is 4096 bytes.
func WithCopyBufferSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("copy buffer size must be positive, got %d", n)
		}
		c.copyBufSize = n
		return nil
	}
}

// Apply decodes one delta payload through l, streaming the new image to
// l.WriteNew. It returns once exactly the new-image length announced in the
// header has been produced.
func Apply(l Listener, opts ...Option) error {
	cfg := config{patchBufSize: 4096, copyBufSize: 4096}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return err
		}
	}

	pr := newPatchReader(l, cfg.patchBufSize)

	var magic [4]byte
	if err := pr.readFull(magic[:]); err != nil {
		return eofIsUnexpected(err)
	}
	if magic != Magic {
		return NewCorruptPatchError("bad magic %q", magic[:])
	}

	oldSize, err := pr.readUvarint()
	if err != nil {
		return eofIsUnexpected(err)
	}
	newSize, err := pr.readUvarint()
	if err != nil {
		return eofIsUnexpected(err)
	}

	copyBuf := make([]byte, cfg.copyBufSize)

	var written uint64
	for written < newSize {
		cmd, err := pr.readByte()
		if err != nil {
			return eofIsUnexpected(err)
		}

		switch {
		case cmd&0x80 != 0:
			offset, size, err := pr.readCopyArgs(cmd)
			if err != nil {
				return eofIsUnexpected(err)
			}
			if offset+size < offset || offset+size > oldSize {
				return NewCorruptPatchError("copy [%d, %d) exceeds old size %d", offset, offset+size, oldSize)
			}
			if written+size > newSize {
				return NewCorruptPatchError("copy overflows new size %d", newSize)
			}
			for size > 0 {
				n := uint64(len(copyBuf))
				if size < n {
					n = size
				}
				if err := l.ReadOld(int64(offset), copyBuf[:n]); err != nil {
					return fmt.Errorf("reading old image at %d: %w", offset, err)
				}
				if err := l.WriteNew(copyBuf[:n]); err != nil {
					return fmt.Errorf("writing new image: %w", err)
				}
				offset += n
				size -= n
				written += n
			}

		case cmd != 0:
			remaining := uint64(cmd)
			if written+remaining > newSize {
				return NewCorruptPatchError("literal overflows new size %d", newSize)
			}
			for remaining > 0 {
				n := uint64(len(copyBuf))
				if remaining < n {
					n = remaining
				}
				if err := pr.readFull(copyBuf[:n]); err != nil {
					return eofIsUnexpected(err)
				}
				if err := l.WriteNew(copyBuf[:n]); err != nil {
					return fmt.Errorf("writing new image: %w", err)
				}
				remaining -= n
				written += n
			}

		default:
			return NewCorruptPatchError("reserved command 0x00")
		}
	}

	return nil
}

// eofIsUnexpected converts io.EOF into io.ErrUnexpectedEOF. A clean EOF in
// the middle of a header or instruction means the payload was truncated.
func eofIsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// patchReader buffers the sequential patch stream on top of a Listener.
type patchReader struct {
	l   Listener
	buf []byte
	r   int
	w   int
	err error
}

func newPatchReader(l Listener, size int) *patchReader {
	return &patchReader{l: l, buf: make([]byte, size)}
}

func (pr *patchReader) fill() {
	if pr.err != nil || pr.r < pr.w {
		return
	}
	pr.r, pr.w = 0, 0
	for {
		n, err := pr.l.ReadPatch(pr.buf)
		if n > 0 {
			pr.w = n
			return
		}
		if err != nil {
			pr.err = err
			return
		}
	}
}

func (pr *patchReader) readByte() (byte, error) {
	pr.fill()
	if pr.r >= pr.w {
		return 0, pr.err
	}
	b := pr.buf[pr.r]
	pr.r++
	return b, nil
}

func (pr *patchReader) readFull(p []byte) error {
	for len(p) > 0 {
		pr.fill()
		if pr.r >= pr.w {
			return pr.err
		}
		n := copy(p, pr.buf[pr.r:pr.w])
		pr.r += n
		p = p[n:]
	}
	return nil
}

func (pr *patchReader) readUvarint() (uint64, error) {
	var val, shift uint64
	for {
		b, err := pr.readByte()
		if err != nil {
			return 0, err
		}
		val |= (uint64(b) & 0x7f) << shift
		if b&0x80 == 0 {
			return val, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, NewCorruptPatchError("varint overflow")
		}
	}
}

// readCopyArgs decodes the offset and size operands of a copy command.
func (pr *patchReader) readCopyArgs(cmd byte) (offset, size uint64, err error) {
	for i := 0; i < 4; i++ {
		if cmd&(1<<i) != 0 {
			b, err := pr.readByte()
			if err != nil {
				return 0, 0, err
			}
			offset |= uint64(b) << (8 * i)
		}
	}
	for i := 0; i < 3; i++ {
		if cmd&(1<<(4+i)) != 0 {
			b, err := pr.readByte()
			if err != nil {
				return 0, 0, err
			}
			size |= uint64(b) << (8 * i)
		}
	}
	if size == 0 { // documented exception
		size = 0x10000
	}
	return offset, size, nil
}
