package nanopatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, bufCapacity, newLen int64) *session {
	t.Helper()
	return &session{
		logger:      &noopLogger{},
		old:         testPartition(t, "app", 32*4096),
		newTotalLen: newLen,
		buf:         newRAMBuffer(bufCapacity),
		progress:    newProgressTracker(),
	}
}

func TestWriteNewBuffersUntilFull(t *testing.T) {
	s := newTestSession(t, 8192, 32*1024)

	require.NoError(t, s.WriteNew(make([]byte, 5000)))
	assert.Equal(t, int64(5000), s.buf.Fill())
	assert.Zero(t, s.committed, "nothing commits while the buffer has room")
	assert.Equal(t, int64(5000), s.newWritePos)

	// 5000 + 4000 overflows the 8192 buffer: 3192 bytes top it up, a
	// commit drains it, the remaining 808 bytes stay queued.
	require.NoError(t, s.WriteNew(make([]byte, 4000)))
	assert.Equal(t, int64(8192), s.committed)
	assert.Equal(t, int64(808), s.buf.Fill())
	assert.Equal(t, int64(9000), s.newWritePos)
}

func TestWriteNewLargerThanBuffer(t *testing.T) {
	s := newTestSession(t, 8192, 64*1024)

	// One write several times the buffer capacity must loop through
	// multiple fill/commit cycles.
	require.NoError(t, s.WriteNew(make([]byte, 20000)))
	assert.Equal(t, int64(16384), s.committed)
	assert.Equal(t, int64(20000-16384), s.buf.Fill())
	assert.Equal(t, int64(20000), s.newWritePos)
}

func TestWriteNewExactFit(t *testing.T) {
	s := newTestSession(t, 8192, 16384)

	require.NoError(t, s.WriteNew(make([]byte, 8192)))
	assert.Equal(t, int64(8192), s.buf.Fill())
	assert.Zero(t, s.committed, "an exactly-full buffer waits for the next write or the final flush")

	require.NoError(t, s.WriteNew(make([]byte, 8192)))
	assert.Equal(t, int64(8192), s.committed)
	assert.Equal(t, int64(8192), s.buf.Fill())
}

func TestCommitEmptyBufferIsNoop(t *testing.T) {
	s := newTestSession(t, 8192, 8192)
	require.NoError(t, s.commit())
	assert.Zero(t, s.committed)
}

func TestCommitWritesAtCommittedOffset(t *testing.T) {
	s := newTestSession(t, 4096, 12288)

	first := make([]byte, 4096)
	for i := range first {
		first[i] = 0x11
	}
	second := make([]byte, 4096)
	for i := range second {
		second[i] = 0x22
	}

	require.NoError(t, s.WriteNew(first))
	require.NoError(t, s.WriteNew(second)) // forces the first commit
	require.NoError(t, s.commit())         // flush the second block

	got := make([]byte, 8192)
	require.NoError(t, s.old.Read(0, got))
	assert.Equal(t, first, got[:4096])
	assert.Equal(t, second, got[4096:])
	assert.Equal(t, int64(8192), s.committed)
}
