package flashtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedfw/nanopatch/flash"
)

func TestDeviceWriteRules(t *testing.T) {
	t.Run("write to erased cells is clean", func(t *testing.T) {
		dev := NewDevice(8192, 4096)
		_, err := dev.WriteAt([]byte{1, 2, 3}, 0)
		require.NoError(t, err)
		assert.NoError(t, dev.Violations())
	})

	t.Run("write to programmed cell is recorded", func(t *testing.T) {
		dev := NewDevice(8192, 4096)
		_, err := dev.WriteAt([]byte{1}, 0)
		require.NoError(t, err)
		_, err = dev.WriteAt([]byte{2}, 0)
		require.NoError(t, err)
		assert.Error(t, dev.Violations())
	})

	t.Run("erase makes cells writable again", func(t *testing.T) {
		dev := NewDevice(8192, 4096)
		_, err := dev.WriteAt([]byte{1}, 0)
		require.NoError(t, err)
		require.NoError(t, dev.Erase(0, 4096))
		_, err = dev.WriteAt([]byte{2}, 0)
		require.NoError(t, err)
		assert.NoError(t, dev.Violations())
	})
}

func TestDeviceMutationTracking(t *testing.T) {
	dev := NewDevice(8192, 4096)
	image := make([]byte, 8192)
	for i := range image {
		image[i] = 0xA5
	}
	dev.Preload(0, image)
	dev.MarkOriginal()

	buf := make([]byte, 16)
	_, err := dev.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.NoError(t, dev.Violations(), "reading untouched bytes is fine")

	require.NoError(t, dev.Erase(0, 4096))
	_, err = dev.ReadAt(buf, 100)
	require.NoError(t, err)
	assert.Error(t, dev.Violations(), "reading a mutated byte must be recorded")

	_, err = dev.ReadAt(buf, 4096)
	require.NoError(t, err)
}

func TestDeviceFaultInjection(t *testing.T) {
	dev := NewDevice(8192, 4096)

	dev.FailOn(OpRead, 3)
	buf := make([]byte, 4)
	for i := 0; i < 2; i++ {
		_, err := dev.ReadAt(buf, 0)
		require.NoError(t, err)
	}
	_, err := dev.ReadAt(buf, 0)
	require.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 3, dev.Calls(OpRead))

	// Later calls succeed again.
	_, err = dev.ReadAt(buf, 0)
	require.NoError(t, err)

	dev.FailOn(OpErase, 1)
	require.ErrorIs(t, dev.Erase(0, 4096), ErrInjected)
}

func TestDevicePreload(t *testing.T) {
	dev := NewDevice(8192, 4096)
	dev.Preload(0, []byte{0x00, flash.ErasedByte, 0x7F})

	// Preloaded non-0xFF cells are programmed; writing them again records
	// a violation, while the 0xFF cell stays writable.
	_, err := dev.WriteAt([]byte{1}, 1)
	require.NoError(t, err)
	assert.NoError(t, dev.Violations())

	_, err = dev.WriteAt([]byte{1}, 0)
	require.NoError(t, err)
	assert.Error(t, dev.Violations())
}
