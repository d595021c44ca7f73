package flash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemDevice(t *testing.T) {
	t.Run("starts erased", func(t *testing.T) {
		dev, err := NewMemDevice(8192, 4096)
		require.NoError(t, err)
		for _, b := range dev.Bytes() {
			require.EqualValues(t, ErasedByte, b)
		}
	})

	t.Run("invalid geometry", func(t *testing.T) {
		_, err := NewMemDevice(1000, 4096)
		assert.Error(t, err)
		_, err = NewMemDevice(0, 4096)
		assert.Error(t, err)
	})

	t.Run("erase rounds to covering sectors", func(t *testing.T) {
		dev, err := NewMemDevice(3*4096, 4096)
		require.NoError(t, err)
		data := make([]byte, 3*4096)
		_, err = dev.WriteAt(data, 0)
		require.NoError(t, err)

		require.NoError(t, dev.Erase(4000, 200)) // straddles the first sector boundary
		bytes := dev.Bytes()
		for i := 0; i < 8192; i++ {
			assert.EqualValues(t, ErasedByte, bytes[i])
		}
		for i := 8192; i < 3*4096; i++ {
			assert.EqualValues(t, 0, bytes[i])
		}
	})
}

func TestFileDevice(t *testing.T) {
	newImageFile := func(t *testing.T, size int) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "image.bin")
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i)
		}
		require.NoError(t, os.WriteFile(path, data, 0o644))
		return path
	}

	t.Run("read write erase", func(t *testing.T) {
		path := newImageFile(t, 8192)
		dev, err := OpenFileDevice(path, 4096)
		require.NoError(t, err)
		defer dev.Close()

		assert.Equal(t, int64(8192), dev.Size())

		got := make([]byte, 4)
		_, err = dev.ReadAt(got, 256)
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 1, 2, 3}, got)

		_, err = dev.WriteAt([]byte{0xAA}, 100)
		require.NoError(t, err)

		require.NoError(t, dev.Erase(4096, 1))
		sector := make([]byte, 4096)
		_, err = dev.ReadAt(sector, 4096)
		require.NoError(t, err)
		for _, b := range sector {
			require.EqualValues(t, ErasedByte, b)
		}
	})

	t.Run("size not sector multiple", func(t *testing.T) {
		path := newImageFile(t, 5000)
		_, err := OpenFileDevice(path, 4096)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := OpenFileDevice(filepath.Join(t.TempDir(), "nope.bin"), 4096)
		assert.Error(t, err)
	})
}
