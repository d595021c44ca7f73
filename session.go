package nanopatch

import (
	"context"
	"fmt"
	"io"

	"github.com/embedfw/nanopatch/flash"
)

// PatchWindow is the contiguous byte range inside a partition that holds
// the raw delta payload, after any container-header stripping performed by
// the update orchestrator.
type PatchWindow struct {
	Part   *flash.Partition
	Offset int64
	Length int64
}

// session carries all in-flight state of one patch run. It is created by
// Apply, implements delta.Listener for the decoder, and dissolves when
// Apply returns.
type session struct {
	logger      Logger
	old         *flash.Partition
	patchStream io.Reader

	newTotalLen int64
	newWritePos int64
	committed   int64

	buf        commitBuffer
	progress   progressTracker
	progressFn ProgressFunc
}

// Apply performs an in-place differential update: the delta payload in
// patch is decoded against the current contents of old, and the resulting
// new image of newLen bytes replaces them on the same partition. Pending
// bytes are staged in the configured commit buffer so that no byte of the
// old image is destroyed before the decoder has advanced past it.
//
// On success the first newLen bytes of old hold the new image and the
// remaining sectors are erased. On failure the partition may be left
// partially rewritten; recovering from that state is the caller's
// responsibility.
//
// The context carries an optional logger (WithContextLogger); the session
// itself runs to completion or failure and has no mid-session cancellation
// point.
func Apply(ctx context.Context, old *flash.Partition, patch PatchWindow, newLen int64, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return err
		}
	}
	if logger := getContextLogger(ctx); logger != nil {
		cfg.logger = logger
	}

	if err := validateArgs(old, patch, newLen); err != nil {
		return err
	}

	s := &session{
		logger:      cfg.logger,
		old:         old,
		newTotalLen: newLen,
		progress:    newProgressTracker(),
		progressFn:  cfg.progress,
	}

	buf, err := cfg.newCommitBuffer(old)
	if err != nil {
		return err
	}
	s.buf = buf
	defer s.buf.Close()

	stream, closeStream, err := cfg.compression.NewReader(newWindowReader(patch))
	if err != nil {
		return err
	}
	defer closeStream()
	s.patchStream = stream

	decoder := cfg.decoder
	if decoder == nil {
		decoder = defaultDecoder{}
	}
	if err := decoder.Apply(s); err != nil {
		s.logger.Error("update failed", "error", err)
		return NewDecoderError(err)
	}

	// Final flush of whatever is still queued.
	if err := s.commit(); err != nil {
		s.logger.Error("final commit failed", "error", err)
		return err
	}

	s.tailErase()

	if s.committed != s.newTotalLen {
		err := NewLengthMismatchError(s.committed, s.newTotalLen)
		s.logger.Error("update finished with wrong length",
			"committed", s.committed, "expected", s.newTotalLen)
		return err
	}

	s.logger.Info("update successful", "bytes", s.committed)
	return nil
}

// tailErase erases the sectors of the old partition beyond the new image
// when the image shrank. A failure here leaves stale data behind the image
// but the patch itself has landed, so it only warrants a warning.
func (s *session) tailErase() {
	if s.newTotalLen >= s.old.Length() {
		return
	}
	start := flash.AlignUp(s.newTotalLen, s.old.SectorSize())
	if start >= s.old.Length() {
		return
	}
	s.logger.Info("new image is smaller than partition, erasing tail",
		"from", start, "size", s.old.Length()-start)
	if err := s.old.Erase(start, s.old.Length()-start); err != nil {
		s.logger.Warn("tail erase failed, patch itself is complete", "error", err)
	}
}

func validateArgs(old *flash.Partition, patch PatchWindow, newLen int64) error {
	if old == nil {
		return fmt.Errorf("old partition cannot be nil")
	}
	if patch.Part == nil {
		return fmt.Errorf("patch partition cannot be nil")
	}
	if patch.Offset < 0 || patch.Length <= 0 || patch.Offset+patch.Length > patch.Part.Length() {
		return flash.NewRangeError(patch.Part.Name(), "patch window", patch.Offset, patch.Length, patch.Part.Length())
	}
	if newLen <= 0 || newLen > old.Length() {
		return fmt.Errorf("new image length %d does not fit partition %q of %d bytes: %w",
			newLen, old.Name(), old.Length(), flash.ErrOutOfRange)
	}
	return nil
}

// newCommitBuffer builds the configured buffer strategy. The capacity must
// be a whole number of the old partition's sectors so that every commit
// erases whole sectors starting at a sector-aligned committed length.
func (c *config) newCommitBuffer(old *flash.Partition) (commitBuffer, error) {
	switch {
	case c.useSwap && c.useRAM:
		return nil, fmt.Errorf("%w: both flash-swap and RAM buffer selected", ErrNoBufferStrategy)
	case c.useSwap:
		capacity := c.swapPart.Length() - c.swapOffset
		if err := checkBufferCapacity(capacity, old.SectorSize()); err != nil {
			return nil, err
		}
		c.logger.Info("using flash swap strategy",
			"partition", c.swapPart.Name(), "capacity", capacity)
		return newFlashSwapBuffer(c.swapPart, c.swapOffset, c.copyBufSize, c.logger)
	case c.useRAM:
		if err := checkBufferCapacity(c.ramSize, old.SectorSize()); err != nil {
			return nil, err
		}
		c.logger.Info("using RAM buffer strategy", "capacity", c.ramSize)
		return newRAMBuffer(c.ramSize), nil
	default:
		return nil, ErrNoBufferStrategy
	}
}

func checkBufferCapacity(capacity, sectorSize int64) error {
	if capacity < sectorSize || capacity%sectorSize != 0 {
		return NewBufferSizeError(capacity, sectorSize)
	}
	return nil
}
