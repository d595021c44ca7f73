package nanopatch

import (
	"errors"
	"fmt"

	"github.com/embedfw/nanopatch/delta"
	"github.com/embedfw/nanopatch/flash"
)

// DefaultCopyBufferSize is the RAM scratch buffer used when draining a
// flash swap buffer onto the old partition.
const DefaultCopyBufferSize = 4096

// decoderBufferSize is handed to the default decoder for both its patch
// read-ahead and its copy scratch buffer.
const decoderBufferSize = 4096

// Option is a function that configures a patch session.
type Option func(*config) error

// ProgressFunc receives quantised progress updates as the new image is
// buffered, in whole percent.
type ProgressFunc func(percent int)

type config struct {
	logger   Logger
	progress ProgressFunc
	decoder  Decoder

	compression Compression
	copyBufSize int

	// Buffer strategy. Exactly one of useSwap/useRAM must be set.
	useSwap    bool
	swapPart   *flash.Partition
	swapOffset int64
	useRAM     bool
	ramSize    int64
}

func defaultConfig() config {
	return config{
		logger:      &noopLogger{},
		compression: CompressionNone,
		copyBufSize: DefaultCopyBufferSize,
	}
}

// WithFlashSwap selects the flash-swap buffer strategy: pending new bytes
// are staged in swap starting at offset, and the usable capacity is the
// remainder of the partition. The capacity must be a whole multiple of the
// old partition's sector size.
func WithFlashSwap(swap *flash.Partition, offset int64) Option {
	return func(c *config) error {
		if swap == nil {
			return ErrSwapPartitionMissing
		}
		if offset < 0 || offset >= swap.Length() {
			return fmt.Errorf("swap offset %d outside partition %q: %w",
				offset, swap.Name(), flash.ErrOutOfRange)
		}
		c.useSwap = true
		c.swapPart = swap
		c.swapOffset = offset
		return nil
	}
}

// WithFlashSwapFromTable selects the flash-swap strategy with the swap
// partition resolved by name from a partition table, the way a bootloader
// configuration names its swap area.
func WithFlashSwapFromTable(table *flash.Table, name string, offset int64) Option {
	return func(c *config) error {
		if table == nil {
			return ErrSwapPartitionMissing
		}
		swap, err := table.Find(name)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSwapPartitionMissing, err)
		}
		return WithFlashSwap(swap, offset)(c)
	}
}

// WithRAMBuffer selects the RAM buffer strategy with the given capacity in
// bytes. The capacity must be a whole multiple of the old partition's
// sector size.
func WithRAMBuffer(size int64) Option {
	return func(c *config) error {
		if size <= 0 {
			return fmt.Errorf("RAM buffer size must be positive, got %d", size)
		}
		c.useRAM = true
		c.ramSize = size
		return nil
	}
}

// WithCopyBufferSize sets the RAM scratch buffer used for the chunked
// flash-to-flash copy when draining a swap partition. It has no effect on
// the RAM buffer strategy.
func WithCopyBufferSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("copy buffer size must be positive, got %d", n)
		}
		c.copyBufSize = n
		return nil
	}
}

// WithCompression declares how the patch window is compressed. The stream
// reader decompresses transparently before the decoder sees any bytes.
func WithCompression(compression Compression) Option {
	return func(c *config) error {
		if !compression.valid() {
			return fmt.Errorf("unknown compression %d", compression)
		}
		c.compression = compression
		return nil
	}
}

// WithProgress registers a callback for quantised progress updates.
func WithProgress(fn ProgressFunc) Option {
	return func(c *config) error {
		if fn == nil {
			return errors.New("progress callback cannot be nil")
		}
		c.progress = fn
		return nil
	}
}

// WithDecoder replaces the built-in delta decoder. The decoder is invoked
// once per session with the session as its listener.
func WithDecoder(d Decoder) Option {
	return func(c *config) error {
		if d == nil {
			return errors.New("decoder cannot be nil")
		}
		c.decoder = d
		return nil
	}
}

// Decoder consumes a patch payload and the old image through the listener
// callbacks, producing the new image as a sequential stream.
type Decoder interface {
	Apply(l delta.Listener) error
}

// defaultDecoder runs the delta package's streaming decoder.
type defaultDecoder struct{}

func (defaultDecoder) Apply(l delta.Listener) error {
	return delta.Apply(l,
		delta.WithPatchBufferSize(decoderBufferSize),
		delta.WithCopyBufferSize(decoderBufferSize),
	)
}
