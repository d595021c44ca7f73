package nanopatch

import (
	"io"

	"github.com/embedfw/nanopatch/flash"
)

// windowReader streams a patch window from its partition. The read position
// only ever moves forward; reads past the end of the window report io.EOF.
type windowReader struct {
	part   *flash.Partition
	base   int64
	length int64
	pos    int64
}

func newWindowReader(w PatchWindow) *windowReader {
	return &windowReader{part: w.Part, base: w.Offset, length: w.Length}
}

// Read implements io.Reader over the window.
func (r *windowReader) Read(p []byte) (int, error) {
	remaining := r.length - r.pos
	if remaining == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := r.part.Read(r.base+r.pos, p); err != nil {
		return 0, err
	}
	r.pos += int64(len(p))
	return len(p), nil
}

// ReadPatch implements delta.Listener by streaming the (possibly
// decompressed) patch payload.
func (s *session) ReadPatch(p []byte) (int, error) {
	return s.patchStream.Read(p)
}

// ReadOld implements delta.Listener as a pass-through read of the old
// partition. The decoder only ever asks for addresses in the unmodified
// suffix [committed, length): in-place deltas reference the old image
// forward-only, so a position is never read again once the corresponding
// new bytes have been committed over it.
func (s *session) ReadOld(addr int64, p []byte) error {
	return s.old.Read(addr, p)
}
