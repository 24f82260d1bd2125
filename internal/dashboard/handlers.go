package dashboard

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mosiko1234/cfa/console/internal/enrollment"
	"github.com/mosiko1234/cfa/console/internal/errors"
	"github.com/mosiko1234/cfa/console/internal/report"
	"github.com/mosiko1234/cfa/console/internal/synchronizer"
)

// HealthResponse represents console health
type HealthResponse struct {
	Status         string    `json:"status"`
	Uptime         string    `json:"uptime"`
	Enrolled       bool      `json:"enrolled"`
	Synchronizing  bool      `json:"synchronizing"`
	StatusService  bool      `json:"statusService"`
	AIService      bool      `json:"aiService"`
	HistorySamples int       `json:"historySamples"`
	Clients        int       `json:"clients"`
	Timestamp      time.Time `json:"timestamp"`
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.state.Snapshot())
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.state.Snapshot().Status)
}

func (s *Server) handleGetAnomalies(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.state.Snapshot().Anomalies)
}

func (s *Server) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.state.Snapshot().Prediction)
}

func (s *Server) handleGetInsight(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.state.Snapshot().Insight)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.state.Snapshot().History)
}

func (s *Server) handleGetOnline(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.state.Snapshot().Online)
}

// handleGetHealth returns console health. It always answers 200; the body carries
// the details.
func (s *Server) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	st := s.state.Snapshot()
	resp := HealthResponse{
		Status:         "ok",
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		Synchronizing:  st.Running,
		StatusService:  st.Online.StatusService,
		AIService:      st.Online.AIService,
		HistorySamples: len(st.History),
		Clients:        s.hub.ClientCount(),
		Timestamp:      time.Now(),
	}
	if s.opts.Enrollment != nil {
		resp.Enrolled = s.opts.Enrollment.Enrolled()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) enrollment(w http.ResponseWriter) (EnrollmentController, bool) {
	if s.opts.Enrollment == nil {
		respondError(w, http.StatusNotImplemented, "enrollment is not available")
		return nil, false
	}
	return s.opts.Enrollment, true
}

func (s *Server) handleGetEnrollment(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.enrollment(w)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, ctrl.EnrollmentSnapshot())
}

// handleStartEnrollment begins an attempt; progress is reported via GET /enrollment
// and the WebSocket
func (s *Server) handleStartEnrollment(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.enrollment(w)
	if !ok {
		return
	}

	if err := ctrl.StartEnrollment(s.requestContext()); err != nil {
		if errors.Is(err, enrollment.ErrInvalidTransition) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, ctrl.EnrollmentSnapshot())
}

func (s *Server) handleRetryEnrollment(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.enrollment(w)
	if !ok {
		return
	}

	if err := ctrl.RetryEnrollment(); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	snap := ctrl.EnrollmentSnapshot()
	s.BroadcastEnrollment(snap)
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.enrollment(w)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, ctrl.ProbeAgent(r.Context()))
}

// handleRotate deletes the stored credential. Synchronization stops and the next
// enrollment starts from idle.
func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.enrollment(w)
	if !ok {
		return
	}

	if err := ctrl.RotateCredential(r.Context()); err != nil {
		s.logger.ErrorWithContext(err, "credential rotation failed")
		respondError(w, http.StatusInternalServerError, "failed to rotate credential")
		return
	}
	snap := ctrl.EnrollmentSnapshot()
	s.BroadcastEnrollment(snap)
	respondJSON(w, http.StatusOK, snap)
}

// handleGetReport renders a diagnostic report as a text download, or as JSON with
// ?format=json
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reports == nil {
		respondError(w, http.StatusNotImplemented, "reports are not available")
		return
	}

	kind, err := report.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	rep, err := s.opts.Reports.Generate(r.Context(), kind, s.state.Snapshot().History)
	if err != nil {
		s.logger.ErrorWithContext(err, "report generation failed")
		respondError(w, http.StatusInternalServerError, "failed to generate report")
		return
	}

	if r.URL.Query().Get("format") == "json" {
		respondJSON(w, http.StatusOK, rep)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+rep.Filename()+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(rep.Render())); err != nil {
		s.logger.Debug("Failed to write report: %v", err)
	}
}

// upstreamError maps an agent or AI service failure onto a gateway status
func upstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsAuthExpired(err):
		respondError(w, http.StatusBadGateway, "agent rejected the credential; enroll again")
	case errors.IsTimeout(err):
		respondError(w, http.StatusGatewayTimeout, err.Error())
	default:
		respondError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleAgentMetrics(w http.ResponseWriter, r *http.Request) {
	if s.opts.Agent == nil {
		respondError(w, http.StatusNotImplemented, "agent passthrough is not available")
		return
	}
	records, err := s.opts.Agent.Metrics(r.Context())
	if err != nil {
		upstreamError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleAgentRaw(w http.ResponseWriter, r *http.Request) {
	if s.opts.Agent == nil {
		respondError(w, http.StatusNotImplemented, "agent passthrough is not available")
		return
	}
	raw, err := s.opts.Agent.RawTelemetry(r.Context())
	if err != nil {
		upstreamError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, raw)
}

// handleMeetingScan asks the AI service for a meeting verdict using the readings of the
// latest status snapshot. A not-ready assessment is still a 200.
func (s *Server) handleMeetingScan(w http.ResponseWriter, r *http.Request) {
	if s.opts.Meeting == nil {
		respondError(w, http.StatusNotImplemented, "meeting analysis is not available")
		return
	}

	req := synchronizer.AnalyzeRequest(s.state.Snapshot().Status)
	assessment, err := s.opts.Meeting.AnalyzeMeeting(r.Context(), req)
	if err != nil {
		s.logger.Debug("Meeting analysis failed: %v", err)
		upstreamError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, assessment)
}

// handleWebSocket upgrades to a WebSocket; the first message is the current state
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.serveWS(w, r, &Message{Type: "state", Payload: s.state.Snapshot()})
}
