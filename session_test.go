package nanopatch_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedfw/nanopatch"
	"github.com/embedfw/nanopatch/delta"
	"github.com/embedfw/nanopatch/flash"
	"github.com/embedfw/nanopatch/flash/flashtest"
)

const sectorSize = 4096

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// testImage produces deterministic incompressible-ish content.
func testImage(seed uint32, size int) []byte {
	out := make([]byte, size)
	state := seed*2 + 1
	for i := range out {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		out[i] = byte(state)
	}
	return out
}

func compressPayload(payload []byte, c nanopatch.Compression) []byte {
	var buf bytes.Buffer
	w := must(c.NewWriter(&buf))
	if _, err := w.Write(payload); err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// fixture wires an old partition preloaded with oldImage, a download
// partition holding the (optionally compressed) delta to newImage, and a
// spare swap device, all on tracked simulated flash.
type fixture struct {
	oldDev   *flashtest.Device
	patchDev *flashtest.Device
	swapDev  *flashtest.Device

	old   *flash.Partition
	patch *flash.Partition
	swap  *flash.Partition

	window nanopatch.PatchWindow
	newLen int64
}

func newFixture(oldImage, newImage []byte, compression nanopatch.Compression) *fixture {
	payload := compressPayload(must(delta.Diff(oldImage, newImage)), compression)

	f := &fixture{newLen: int64(len(newImage))}

	f.oldDev = flashtest.NewDevice(flash.AlignUp(int64(len(oldImage)), sectorSize), sectorSize)
	f.oldDev.Preload(0, oldImage)
	f.oldDev.MarkOriginal()
	f.old = must(flash.NewPartition("app", f.oldDev, 0, f.oldDev.Size()))

	f.patchDev = flashtest.NewDevice(flash.AlignUp(int64(len(payload)), sectorSize), sectorSize)
	f.patchDev.Preload(0, payload)
	f.patch = must(flash.NewPartition("download", f.patchDev, 0, f.patchDev.Size()))
	f.window = nanopatch.PatchWindow{Part: f.patch, Offset: 0, Length: int64(len(payload))}

	f.swapDev = flashtest.NewDevice(16*sectorSize, sectorSize)
	f.swap = must(flash.NewPartition("swap", f.swapDev, 0, f.swapDev.Size()))

	return f
}

func TestApplyConfigErrors(t *testing.T) {
	old := testImage(1, 8*sectorSize)
	f := newFixture(old, old, nanopatch.CompressionNone)
	ctx := context.Background()

	t.Run("no strategy", func(t *testing.T) {
		err := nanopatch.Apply(ctx, f.old, f.window, f.newLen)
		assert.ErrorIs(t, err, nanopatch.ErrNoBufferStrategy)
	})

	t.Run("both strategies", func(t *testing.T) {
		err := nanopatch.Apply(ctx, f.old, f.window, f.newLen,
			nanopatch.WithRAMBuffer(2*sectorSize),
			nanopatch.WithFlashSwap(f.swap, 0),
		)
		assert.ErrorIs(t, err, nanopatch.ErrNoBufferStrategy)
	})

	t.Run("swap partition nil", func(t *testing.T) {
		err := nanopatch.Apply(ctx, f.old, f.window, f.newLen,
			nanopatch.WithFlashSwap(nil, 0))
		assert.ErrorIs(t, err, nanopatch.ErrSwapPartitionMissing)
	})

	t.Run("swap partition not in table", func(t *testing.T) {
		err := nanopatch.Apply(ctx, f.old, f.window, f.newLen,
			nanopatch.WithFlashSwapFromTable(flash.NewTable(), "swap", 0))
		assert.ErrorIs(t, err, nanopatch.ErrSwapPartitionMissing)
	})

	t.Run("buffer smaller than a sector", func(t *testing.T) {
		err := nanopatch.Apply(ctx, f.old, f.window, f.newLen,
			nanopatch.WithRAMBuffer(sectorSize-1))
		assert.ErrorIs(t, err, nanopatch.ErrInvalidBufferSize)
	})

	t.Run("buffer not a sector multiple", func(t *testing.T) {
		err := nanopatch.Apply(ctx, f.old, f.window, f.newLen,
			nanopatch.WithRAMBuffer(sectorSize+100))
		assert.ErrorIs(t, err, nanopatch.ErrInvalidBufferSize)
	})

	t.Run("new image larger than partition", func(t *testing.T) {
		err := nanopatch.Apply(ctx, f.old, f.window, f.old.Length()+1,
			nanopatch.WithRAMBuffer(2*sectorSize))
		assert.ErrorIs(t, err, flash.ErrOutOfRange)
	})

	t.Run("patch window out of range", func(t *testing.T) {
		window := nanopatch.PatchWindow{Part: f.patch, Offset: 0, Length: f.patch.Length() + 1}
		err := nanopatch.Apply(ctx, f.old, window, f.newLen,
			nanopatch.WithRAMBuffer(2*sectorSize))
		assert.ErrorIs(t, err, flash.ErrOutOfRange)
	})
}

func TestApplyPatchReadFailure(t *testing.T) {
	// Disjoint images produce a literal-heavy payload large enough that
	// the decoder needs several reads; the third one is made to fail.
	old := testImage(2, 8*sectorSize)
	new := testImage(3, 8*sectorSize)
	f := newFixture(old, new, nanopatch.CompressionNone)
	f.patchDev.FailOn(flashtest.OpRead, 3)

	err := nanopatch.Apply(context.Background(), f.old, f.window, f.newLen,
		nanopatch.WithRAMBuffer(2*sectorSize))
	require.Error(t, err)
	assert.ErrorIs(t, err, nanopatch.ErrDecoderFailed)
	assert.ErrorIs(t, err, flashtest.ErrInjected)
	assert.NoError(t, f.oldDev.Violations(), "no invariant may break before the failure point")
}

func TestApplyWriteFailureMidCommit(t *testing.T) {
	old := testImage(4, 8*sectorSize)
	new := testImage(5, 8*sectorSize)
	f := newFixture(old, new, nanopatch.CompressionNone)
	f.oldDev.FailOn(flashtest.OpWrite, 1)

	err := nanopatch.Apply(context.Background(), f.old, f.window, f.newLen,
		nanopatch.WithRAMBuffer(2*sectorSize))
	require.Error(t, err)
	assert.ErrorIs(t, err, flashtest.ErrInjected)
	assert.NoError(t, f.oldDev.Violations())
}

func TestApplyEraseFailure(t *testing.T) {
	old := testImage(6, 8*sectorSize)
	new := testImage(7, 8*sectorSize)
	f := newFixture(old, new, nanopatch.CompressionNone)
	f.oldDev.FailOn(flashtest.OpErase, 1)

	err := nanopatch.Apply(context.Background(), f.old, f.window, f.newLen,
		nanopatch.WithRAMBuffer(2*sectorSize))
	require.Error(t, err)
	assert.ErrorIs(t, err, flashtest.ErrInjected)
}

func TestApplyLengthMismatch(t *testing.T) {
	// The update header claims a longer image than the patch produces.
	old := testImage(8, 8*sectorSize)
	new := testImage(9, 4*sectorSize)
	f := newFixture(old, new, nanopatch.CompressionNone)

	err := nanopatch.Apply(context.Background(), f.old, f.window, f.newLen+100,
		nanopatch.WithRAMBuffer(2*sectorSize))
	require.Error(t, err)
	assert.ErrorIs(t, err, nanopatch.ErrLengthMismatch)

	var mismatch *nanopatch.LengthMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, f.newLen, mismatch.Committed)
	assert.Equal(t, f.newLen+100, mismatch.Expected)
}

type failingDecoder struct{ err error }

func (d failingDecoder) Apply(delta.Listener) error { return d.err }

func TestApplyDecoderFailure(t *testing.T) {
	old := testImage(10, 8*sectorSize)
	f := newFixture(old, old, nanopatch.CompressionNone)

	cause := errors.New("hpatch: bad cover")
	err := nanopatch.Apply(context.Background(), f.old, f.window, f.newLen,
		nanopatch.WithRAMBuffer(2*sectorSize),
		nanopatch.WithDecoder(failingDecoder{err: cause}))
	require.Error(t, err)
	assert.ErrorIs(t, err, nanopatch.ErrDecoderFailed)
	assert.ErrorIs(t, err, cause)
}

func TestApplyCompressedWindow(t *testing.T) {
	old := testImage(11, 16*sectorSize)
	new := append([]byte(nil), old...)
	copy(new[2000:], []byte("compressed delta update"))

	for _, c := range []nanopatch.Compression{nanopatch.CompressionZstd, nanopatch.CompressionLZ4, nanopatch.CompressionXZ} {
		t.Run(c.String(), func(t *testing.T) {
			f := newFixture(old, new, c)
			err := nanopatch.Apply(context.Background(), f.old, f.window, f.newLen,
				nanopatch.WithRAMBuffer(2*sectorSize),
				nanopatch.WithCompression(c))
			require.NoError(t, err)
			assert.Equal(t, new, f.oldDev.Bytes()[:len(new)])
			assert.NoError(t, f.oldDev.Violations())
		})
	}
}
