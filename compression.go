package nanopatch

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
	"github.com/ulikunitz/xz"
)

// Compression identifies how a patch window is stored in flash. Delta
// payloads compress well, and on narrow transports the patch partition is
// usually written compressed; the engine decompresses while streaming.
type Compression int

const (
	// CompressionNone means the window holds the raw delta payload.
	CompressionNone Compression = iota
	// CompressionZstd means the window is a zstandard frame.
	CompressionZstd
	// CompressionLZ4 means the window is an lz4 frame.
	CompressionLZ4
	// CompressionXZ means the window is an xz stream.
	CompressionXZ
)

func (c Compression) valid() bool {
	return c >= CompressionNone && c <= CompressionXZ
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionXZ:
		return "xz"
	default:
		return fmt.Sprintf("compression(%d)", int(c))
	}
}

// ParseCompression maps a codec name to its Compression value.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "xz":
		return CompressionXZ, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression %q", name)
	}
}

// NewReader wraps r so that reads return the decompressed payload. The
// returned closer releases decoder state and must be called when the
// stream is no longer needed.
func (c Compression) NewReader(r io.Reader) (io.Reader, func(), error) {
	switch c {
	case CompressionNone:
		return r, func() {}, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, fmt.Errorf("zstd reader: %w", err)
		}
		return dec, dec.Close, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	case CompressionXZ:
		dec, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("xz reader: %w", err)
		}
		return dec, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown compression %d", c)
	}
}

// NewWriter wraps w so that writes are stored compressed. Used by host-side
// tooling when producing patch windows.
func (c Compression) NewWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionXZ:
		enc, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("xz writer: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
