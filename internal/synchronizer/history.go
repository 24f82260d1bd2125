package synchronizer

import "github.com/mosiko1234/cfa/console/internal/model"

// DefaultHistorySize is the number of samples kept for charting
const DefaultHistorySize = 60

// History is a bounded FIFO of chart samples. Timestamps never decrease; a sample older
// than the newest one is clamped to the newest timestamp. History is not safe for
// concurrent use; the synchronizer guards it with its state lock.
type History struct {
	samples  []model.HistorySample
	capacity int
}

// NewHistory creates an empty history holding at most capacity samples
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		samples:  make([]model.HistorySample, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a sample, evicting the oldest when full
func (h *History) Append(s model.HistorySample) {
	if n := len(h.samples); n > 0 && s.TS < h.samples[n-1].TS {
		s.TS = h.samples[n-1].TS
	}

	if len(h.samples) == h.capacity {
		copy(h.samples, h.samples[1:])
		h.samples[len(h.samples)-1] = s
		return
	}
	h.samples = append(h.samples, s)
}

// Len returns the number of samples held
func (h *History) Len() int {
	return len(h.samples)
}

// Capacity returns the maximum number of samples
func (h *History) Capacity() int {
	return h.capacity
}

// Samples returns a copy of the samples, oldest first
func (h *History) Samples() []model.HistorySample {
	out := make([]model.HistorySample, len(h.samples))
	copy(out, h.samples)
	return out
}

// Reset drops all samples
func (h *History) Reset() {
	h.samples = h.samples[:0]
}
