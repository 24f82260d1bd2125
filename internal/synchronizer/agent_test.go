package synchronizer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mosiko1234/cfa/console/internal/model"
	"github.com/mosiko1234/cfa/console/internal/telemetry"
)

func newAgentSynchronizer(t *testing.T, handler http.Handler) *Synchronizer {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := telemetry.NewClient(telemetry.Config{
		AgentURL: server.URL + "/api",
		AIURL:    server.URL,
		Timeout:  time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return newTestSynchronizer(client, enrolledAuth())
}

func TestEmptyAgentBodiesFallBack(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/api/anomalies", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/api/prediction", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`null`))
	})
	s := newAgentSynchronizer(t, mux)

	if err := s.PollPrimary(context.Background()); err != nil {
		t.Fatalf("PollPrimary failed: %v", err)
	}

	state := s.Snapshot()
	if !state.Status.IsMock {
		t.Error("expected synthesized snapshot")
	}
	if state.Online.StatusService {
		t.Error("expected statusService offline")
	}
	if state.Status.GCS < 60 || state.Status.GCS > 90 {
		t.Errorf("expected mock gcs in [60,90], got %v", state.Status.GCS)
	}
	if len(state.History) != 1 || state.History[0].GCS != state.Status.GCS {
		t.Errorf("expected one synthesized history sample, got %+v", state.History)
	}
}

func TestReportedZeroReadingsAreForwarded(t *testing.T) {
	tests := []struct {
		name        string
		status      model.StatusSnapshot
		wantRSSI    float64
		wantLatency float64
	}{
		{"zero readings", model.StatusSnapshot{GCS: 70, WifiRssi: model.Reading(0), LatencyMs: model.Reading(0)}, 0, 0},
		{"missing readings", model.StatusSnapshot{GCS: 70}, defaultRSSI, defaultLatencyMs},
		{"mock snapshot", model.StatusSnapshot{GCS: 70, WifiRssi: model.Reading(-40), IsMock: true}, defaultRSSI, defaultLatencyMs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := AnalyzeRequest(tt.status)
			if req.RSSI != tt.wantRSSI || req.LatencyMs != tt.wantLatency {
				t.Errorf("got rssi=%v latency=%v, want %v/%v", req.RSSI, req.LatencyMs, tt.wantRSSI, tt.wantLatency)
			}
		})
	}
}
