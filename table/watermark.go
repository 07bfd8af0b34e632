package table

// watermark tracks high- and low-water crossings of a table's record count.
// A level of zero disables its notifications.
type watermark struct {
	highLevel int64
	lowLevel  int64

	highExceeded bool
	lowExceeded  bool
	// midRange is set once the count rises above the low-water level, and
	// arms the next downward crossing.
	midRange bool
}

// onInsert updates state for a post-insert |count|, returning true if the
// high-water event should be raised.
func (w *watermark) onInsert(count int64) (high bool) {
	if w.highLevel > 0 && count >= w.highLevel && !w.highExceeded {
		w.highExceeded = true
		high = true
	}
	if count > w.lowLevel {
		w.midRange = true
		w.lowExceeded = false
	}
	return high
}

// onRemove updates state for a post-remove |count|, returning true if the
// low-water event should be raised.
func (w *watermark) onRemove(count int64) (low bool) {
	if count < w.highLevel {
		w.highExceeded = false
	}
	if w.lowLevel > 0 && count <= w.lowLevel && w.midRange {
		w.lowExceeded = true
		w.midRange = false
		low = true
	}
	return low
}

// reset the watermark following a truncation. An empty table is at or below
// any low-water level.
func (w *watermark) reset() {
	w.highExceeded = false
	w.lowExceeded = true
	w.midRange = false
}

// init the watermark for a table opened with |count| records. No events are
// raised for levels which are already crossed.
func (w *watermark) init(count int64) {
	w.highExceeded = w.highLevel > 0 && count >= w.highLevel
	w.midRange = count > w.lowLevel
	w.lowExceeded = !w.midRange
}
