package mocks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/mosiko1234/cfa/console/internal/model"
	"github.com/mosiko1234/cfa/console/internal/signature"
)

// FakeServices emulates the local agent (under /api) and the AI service on one
// httptest server. Enrollment verifies the DCS; data routes require the issued key.
type FakeServices struct {
	Server *httptest.Server

	mu          sync.Mutex
	keys        map[string]bool
	issued      int
	enrollments []model.EnrollRequest
	weights     []model.Weights
	analyzed    []model.AnalyzeRequest
	status      model.StatusSnapshot
	insight     model.AIInsight
	raw         string
	agentDown   bool
	aiDown      bool
}

// NewFakeServices starts the fake services; call Close when done
func NewFakeServices() *FakeServices {
	f := &FakeServices{
		keys: make(map[string]bool),
		status: model.StatusSnapshot{
			GCS: 72.3, WifiCSI: 80, BtCSI: 60, NetCSI: 70, SysCSI: 90,
			WifiRssi: model.Reading(-58), BtDeviceCount: 4, LatencyMs: model.Reading(12), Bayesian: 0.8,
			Weights: model.DefaultWeights(), DeviceID: "agent-host",
		},
		insight: model.AIInsight{
			GCS:      71.0,
			Weights:  &model.Weights{Wifi: 0.3, Bt: 0.2, Net: 0.3, Sys: 0.2},
			Insight:  "Field stable",
			AISource: "fake",
		},
		raw: "--- WiFi Interfaces ---\nState : connected",
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", f.handleHealth).Methods("GET")
	api.HandleFunc("/enroll", f.handleEnroll).Methods("POST")
	api.Handle("/status", f.authorized(f.handleStatus)).Methods("GET")
	api.Handle("/anomalies", f.authorized(f.handleAnomalies)).Methods("GET")
	api.Handle("/prediction", f.authorized(f.handlePrediction)).Methods("GET")
	api.Handle("/raw-telemetry", f.authorized(f.handleRaw)).Methods("GET")
	api.Handle("/metrics", f.authorized(f.handleMetrics)).Methods("GET")
	api.Handle("/weights", f.authorized(f.handleWeights)).Methods("POST")
	r.HandleFunc("/health", f.handleAIHealth).Methods("GET")
	r.HandleFunc("/analyze", f.handleAnalyze).Methods("POST")
	r.HandleFunc("/analyze/meeting", f.handleAnalyzeMeeting).Methods("POST")

	f.Server = httptest.NewServer(r)
	return f
}

// AgentURL is the agent base URL
func (f *FakeServices) AgentURL() string { return f.Server.URL + "/api" }

// AIURL is the AI service base URL
func (f *FakeServices) AIURL() string { return f.Server.URL }

// Close stops the server
func (f *FakeServices) Close() { f.Server.Close() }

// SetAgentDown makes every agent route answer 503
func (f *FakeServices) SetAgentDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agentDown = down
}

// SetAIDown makes the AI service answer 503
func (f *FakeServices) SetAIDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aiDown = down
}

// RevokeAll invalidates every issued key
func (f *FakeServices) RevokeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = make(map[string]bool)
}

// Enrollments returns the enrollment requests received so far
func (f *FakeServices) Enrollments() []model.EnrollRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.EnrollRequest(nil), f.enrollments...)
}

// Weights returns the weight pushes received so far
func (f *FakeServices) Weights() []model.Weights {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Weights(nil), f.weights...)
}

// Analyzed returns the analyze requests received so far
func (f *FakeServices) Analyzed() []model.AnalyzeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AnalyzeRequest(nil), f.analyzed...)
}

func (f *FakeServices) down() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agentDown
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// authorized rejects requests without a currently valid bearer key
func (f *FakeServices) authorized(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.down() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		f.mu.Lock()
		ok := f.keys[key]
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			return
		}
		next(w, r)
	})
}

func (f *FakeServices) handleHealth(w http.ResponseWriter, r *http.Request) {
	if f.down() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, model.HealthResponse{Status: "ok", Agent: "CFA", Version: "1.0"})
}

func (f *FakeServices) handleEnroll(w http.ResponseWriter, r *http.Request) {
	if f.down() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	var req model.EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
		return
	}

	f.mu.Lock()
	f.enrollments = append(f.enrollments, req)
	f.mu.Unlock()

	if !signature.Verify(req.DCS, req.Fingerprint, req.Entropy, time.UnixMilli(req.Timestamp)) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid device signature"})
		return
	}

	f.mu.Lock()
	f.issued++
	key := fmt.Sprintf("cfa_key_%d", f.issued)
	f.keys[key] = true
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, model.EnrollResponse{
		Status:    "enrolled",
		APIKey:    key,
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour).UnixMilli(),
	})
}

func (f *FakeServices) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	status := f.status
	f.mu.Unlock()
	status.Timestamp = time.Now().UnixMilli()
	writeJSON(w, http.StatusOK, status)
}

func (f *FakeServices) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []model.AnomalyEvent{{
		Timestamp: time.Now().UnixMilli(),
		Type:      model.AnomalyType("SPIKE"),
		Component: "wifi",
		ZScore:    3.1,
		Value:     42,
		Severity:  model.Severity("HIGH"),
		Message:   "wifi spike",
	}})
}

func (f *FakeServices) handlePrediction(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.Prediction{NextCSI: 70, Trend: model.Trend("STABLE"), DecayLambda: 0.01, TimeToThreshold: 120})
}

func (f *FakeServices) handleRaw(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	raw := f.raw
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, model.RawTelemetry{Raw: raw})
}

func (f *FakeServices) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []map[string]interface{}{{"ts": time.Now().UnixMilli(), "gcs": 72.3}})
}

func (f *FakeServices) handleWeights(w http.ResponseWriter, r *http.Request) {
	var weights model.Weights
	if err := json.NewDecoder(r.Body).Decode(&weights); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.weights = append(f.weights, weights)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (f *FakeServices) handleAIHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{Status: "ok", Service: "cfa-ai"})
}

func (f *FakeServices) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	down := f.aiDown
	insight := f.insight
	f.mu.Unlock()
	if down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var req model.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.analyzed = append(f.analyzed, req)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, insight)
}

// handleAnalyzeMeeting is ready once five analyze requests have been seen
func (f *FakeServices) handleAnalyzeMeeting(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	down := f.aiDown
	samples := len(f.analyzed)
	f.mu.Unlock()
	if down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var req model.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if samples < 5 {
		writeJSON(w, http.StatusOK, model.MeetingAssessment{
			Verdict: "Insufficient data. Please wait for signal stabilization.",
			Details: "Collecting environmental telemetry...",
		})
		return
	}
	writeJSON(w, http.StatusOK, model.MeetingAssessment{
		Ready:   true,
		Score:   88.0,
		Verdict: "OPTIMAL: Safe for 4K video and screen sharing.",
		Details: "Signal is extremely stable with negligible jitter.",
		Metrics: &model.MeetingMetrics{Stability: 0.97, Jitter: 0.02, Latency: req.LatencyMs, PacketLoss: req.PacketLossRatio},
	})
}
