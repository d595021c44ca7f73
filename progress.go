package nanopatch

// progressTracker quantises buffering progress to 5%-aligned buckets so a
// large decode emits at most 21 progress lines. The last reported bucket
// starts at -1 so that 0% is emitted.
type progressTracker struct {
	last int
}

func newProgressTracker() progressTracker {
	return progressTracker{last: -1}
}

// bucket returns the percent to report and whether it should be reported:
// only when the whole-number percent is itself a multiple of 5 that has not
// been reported yet. A step that jumps over a multiple of 5 without landing
// on one reports nothing.
func (t *progressTracker) bucket(written, total int64) (int, bool) {
	if total <= 0 {
		return 0, false
	}
	percent := int(written * 100 / total)
	if percent != t.last && percent%5 == 0 {
		t.last = percent
		return percent, true
	}
	return 0, false
}
