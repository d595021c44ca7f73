package nanopatch

import (
	"fmt"
)

// WriteNew implements delta.Listener. New-image bytes fill the commit
// buffer; whenever the buffer runs out of space the queued bytes are
// committed onto the old partition and buffering continues. A single call
// may carry more data than the buffer holds, so the fill/commit cycle
// loops.
func (s *session) WriteNew(p []byte) error {
	size := int64(len(p))

	for len(p) > 0 {
		free := s.buf.Capacity() - s.buf.Fill()
		if free < int64(len(p)) {
			if free > 0 {
				if err := s.buf.Append(p[:free]); err != nil {
					return err
				}
				p = p[free:]
			}
			if err := s.commit(); err != nil {
				return err
			}
		} else {
			if err := s.buf.Append(p); err != nil {
				return err
			}
			p = nil
		}
	}

	s.newWritePos += size
	s.reportProgress()
	return nil
}

// commit drains the buffered bytes onto the old partition: erase the
// target range, copy the buffer over it, advance the committed length.
// The committed length stays sector-aligned at every commit except the
// final flush, where the erase covers whole sectors anyway and the slack
// is owned by the tail erase.
func (s *session) commit() error {
	fill := s.buf.Fill()
	if fill == 0 {
		return nil
	}

	s.logger.Info("committing buffered bytes",
		"bytes", fill, "partition", s.old.Name(), "offset", s.committed)

	if err := s.old.Erase(s.committed, fill); err != nil {
		return fmt.Errorf("erasing %s at %d: %w", s.old.Name(), s.committed, err)
	}
	if err := s.buf.Drain(s.old, s.committed); err != nil {
		return err
	}

	s.committed += fill
	s.logger.Info("commit successful", "committed", s.committed)
	return nil
}

func (s *session) reportProgress() {
	percent, crossed := s.progress.bucket(s.newWritePos, s.newTotalLen)
	if !crossed {
		return
	}
	s.logger.Info(fmt.Sprintf("Buffering... %3d%%", percent))
	if s.progressFn != nil {
		s.progressFn(percent)
	}
}
