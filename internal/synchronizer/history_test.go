package synchronizer

import (
	"testing"

	"github.com/mosiko1234/cfa/console/internal/model"
)

func TestHistoryClampsTimestamps(t *testing.T) {
	h := NewHistory(3)
	h.Append(model.HistorySample{TS: 100, GCS: 1})
	h.Append(model.HistorySample{TS: 50, GCS: 2})

	samples := h.Samples()
	if samples[1].TS != 100 {
		t.Errorf("expected out-of-order timestamp clamped to 100, got %d", samples[1].TS)
	}
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Append(model.HistorySample{TS: int64(i), GCS: float64(i)})
	}

	if h.Len() != 3 {
		t.Fatalf("expected 3 samples, got %d", h.Len())
	}
	samples := h.Samples()
	for i, want := range []float64{3, 4, 5} {
		if samples[i].GCS != want {
			t.Errorf("index %d: expected gcs %v, got %v", i, want, samples[i].GCS)
		}
	}

	h.Reset()
	if h.Len() != 0 || h.Capacity() != 3 {
		t.Errorf("expected empty history with capacity 3, got len %d cap %d", h.Len(), h.Capacity())
	}
}

func TestHistoryDefaultCapacity(t *testing.T) {
	if NewHistory(0).Capacity() != DefaultHistorySize {
		t.Errorf("expected default capacity %d", DefaultHistorySize)
	}
}
