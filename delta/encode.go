package delta

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Encoder tuning. Matches are only taken as copies when they are at least
// minMatch bytes long; shorter runs are emitted as literals.
const (
	indexBlockSize = 16
	minMatch       = 16
	maxChainLen    = 16
	maxCopySize    = 0xFFFFFF
	maxLiteral     = 0x7F
)

// maxImageSize bounds both images: copy offsets are encoded in 4 bytes.
const maxImageSize = 1 << 32

// Diff encodes new as a delta against old. The produced payload only ever
// copies from old at offsets at or beyond the output position consuming
// them, so it can be applied in place.
func Diff(old, new []byte) ([]byte, error) {
	if int64(len(old)) >= maxImageSize || int64(len(new)) >= maxImageSize {
		return nil, fmt.Errorf("image too large for delta encoding (max %d bytes)", int64(maxImageSize))
	}

	var out bytes.Buffer
	out.Write(Magic[:])
	writeUvarint(&out, uint64(len(old)))
	writeUvarint(&out, uint64(len(new)))

	// Index non-overlapping old blocks by content. Match extension takes
	// care of alignment in between.
	index := make(map[string][]int, len(old)/indexBlockSize+1)
	for i := 0; i+indexBlockSize <= len(old); i += indexBlockSize {
		key := string(old[i : i+indexBlockSize])
		index[key] = append(index[key], i)
	}

	var literal []byte
	flushLiteral := func() {
		for len(literal) > 0 {
			n := len(literal)
			if n > maxLiteral {
				n = maxLiteral
			}
			out.WriteByte(byte(n))
			out.Write(literal[:n])
			literal = literal[n:]
		}
	}

	pos := 0
	for pos < len(new) {
		off, matchLen := findMatch(index, old, new, pos)
		if matchLen < minMatch {
			literal = append(literal, new[pos])
			pos++
			continue
		}
		flushLiteral()
		pos += matchLen
		for matchLen > 0 {
			n := matchLen
			if n > maxCopySize {
				n = maxCopySize
			}
			writeCopy(&out, uint64(off), uint64(n))
			off += n
			matchLen -= n
		}
	}
	flushLiteral()

	return out.Bytes(), nil
}

// findMatch looks for the longest old-image match for new[pos:] whose
// source offset is >= pos, the forward-reference constraint required for
// in-place application.
func findMatch(index map[string][]int, old, new []byte, pos int) (off, length int) {
	if pos+indexBlockSize > len(new) {
		return 0, 0
	}
	key := string(new[pos : pos+indexBlockSize])
	best := 0
	bestOff := 0
	examined := 0
	for _, candidate := range index[key] {
		if candidate < pos {
			continue
		}
		n := matchLen(old[candidate:], new[pos:])
		if n > best {
			best = n
			bestOff = candidate
		}
		// Highly repetitive images put thousands of candidates behind one
		// key; a short chain keeps encoding linear.
		if examined++; examined >= maxChainLen {
			break
		}
	}
	return bestOff, best
}

func matchLen(a, b []byte) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func writeUvarint(out *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	out.Write(tmp[:n])
}

// writeCopy emits a copy command for [off, off+size) of the old image.
func writeCopy(out *bytes.Buffer, off, size uint64) {
	var cmd byte = 0x80
	var operands []byte
	for i := 0; i < 4; i++ {
		if b := byte(off >> (8 * i)); b != 0 {
			cmd |= 1 << i
			operands = append(operands, b)
		}
	}
	for i := 0; i < 3; i++ {
		if b := byte(size >> (8 * i)); b != 0 {
			cmd |= 1 << (4 + i)
			operands = append(operands, b)
		}
	}
	// size is never zero here (matches are at least minMatch bytes), so at
	// least one size byte is always emitted; the decoder's "no size bytes
	// means 0x10000" rule is never relied on.
	out.WriteByte(cmd)
	out.Write(operands)
}

// Sizes reads a payload header and returns the old- and new-image lengths
// it announces. r is read through a buffered reader, so bytes beyond the
// header may be consumed from it as well.
func Sizes(r io.Reader) (oldSize, newSize int64, err error) {
	br := bufio.NewReader(r)
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return 0, 0, eofIsUnexpected(err)
	}
	if magic != Magic {
		return 0, 0, NewCorruptPatchError("bad magic %q", magic[:])
	}
	o, err := binary.ReadUvarint(br)
	if err != nil {
		return 0, 0, eofIsUnexpected(err)
	}
	n, err := binary.ReadUvarint(br)
	if err != nil {
		return 0, 0, eofIsUnexpected(err)
	}
	return int64(o), int64(n), nil
}
