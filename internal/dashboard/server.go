// Package dashboard serves the console's local state API.
//
// The Server exposes the synchronized telemetry state, the enrollment protocol and the
// diagnostic reports over HTTP so a local UI (or curl) can drive the console. State
// changes are also pushed over a WebSocket.
//
// API Endpoints:
//
//	GET  /api/v1/state                → Full synchronizer snapshot
//	GET  /api/v1/status               → Latest status snapshot (real or mock)
//	GET  /api/v1/anomalies            → Latest anomaly list
//	GET  /api/v1/prediction           → Latest forecast
//	GET  /api/v1/insight              → Latest AI insight
//	GET  /api/v1/history              → Rolling history (oldest first)
//	GET  /api/v1/online               → Service availability flags
//	GET  /api/v1/health               → Console health
//	GET  /api/v1/enrollment           → Enrollment protocol state and last probe
//	POST /api/v1/enrollment/start     → Begin an enrollment attempt
//	POST /api/v1/enrollment/retry     → Return a failed attempt to idle
//	POST /api/v1/enrollment/probe     → Check agent liveness
//	POST /api/v1/credential/rotate    → Delete the stored credential
//	GET  /api/v1/reports/{kind}       → WiFi or Bluetooth diagnostic report
//	GET  /api/v1/agent/metrics        → Agent metric records, passed through
//	GET  /api/v1/agent/raw-telemetry  → Agent raw diagnostics, passed through
//	POST /api/v1/meeting/scan         → Meeting stability verdict from the AI service
//	GET  /metrics                     → Prometheus metrics
//	GET  /ws                          → WebSocket state push
//
// Security:
//   - Rate limiting: configurable requests per minute per client IP
//   - CORS enabled for a UI served from another local origin
//   - No authentication; the server binds to loopback by default
package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/mosiko1234/cfa/console/internal/enrollment"
	"github.com/mosiko1234/cfa/console/internal/errors"
	"github.com/mosiko1234/cfa/console/internal/logger"
	"github.com/mosiko1234/cfa/console/internal/model"
	"github.com/mosiko1234/cfa/console/internal/report"
	"github.com/mosiko1234/cfa/console/internal/synchronizer"
)

// StateSource publishes synchronizer state; *synchronizer.Synchronizer implements it
type StateSource interface {
	Snapshot() synchronizer.State
	Subscribe(fn func(synchronizer.State))
}

// EnrollmentController drives enrollment on behalf of the API. StartEnrollment must
// return enrollment.ErrInvalidTransition synchronously when an attempt cannot begin and
// otherwise run the attempt in the background.
type EnrollmentController interface {
	EnrollmentSnapshot() enrollment.Snapshot
	StartEnrollment(ctx context.Context) error
	RetryEnrollment() error
	ProbeAgent(ctx context.Context) enrollment.ProbeResult
	RotateCredential(ctx context.Context) error
	Enrolled() bool
}

// ReportSource builds diagnostic reports; *report.Generator implements it
type ReportSource interface {
	Generate(ctx context.Context, kind report.Kind, history []model.HistorySample) (*report.Report, error)
}

// AgentSource exposes agent reads that are not part of the synchronized state;
// *telemetry.Client implements it
type AgentSource interface {
	Metrics(ctx context.Context) ([]json.RawMessage, error)
	RawTelemetry(ctx context.Context) (*model.RawTelemetry, error)
}

// MeetingAnalyzer scores meeting readiness; *telemetry.Client implements it
type MeetingAnalyzer interface {
	AnalyzeMeeting(ctx context.Context, req model.AnalyzeRequest) (*model.MeetingAssessment, error)
}

// Recorder receives per-request measurements; *metrics.Metrics implements it
type Recorder interface {
	HTTPRequest(method, route string, status int, elapsed time.Duration)
}

// Options wires the server's collaborators. Only State is required.
type Options struct {
	Host               string
	Port               int
	RateLimitPerMinute int
	Enrollment         EnrollmentController
	Reports            ReportSource
	Agent              AgentSource
	Meeting            MeetingAnalyzer
	Recorder           Recorder
	// MetricsHandler is mounted on /metrics when set
	MetricsHandler http.Handler
}

// Server provides the local HTTP API and WebSocket push
type Server struct {
	state       StateSource
	opts        Options
	router      *mux.Router
	server      *http.Server
	hub         *Hub
	rateLimiter *rateLimiterMiddleware
	startTime   time.Time
	logger      *logger.Logger

	mu      sync.Mutex
	baseCtx context.Context
	started bool
}

// rateLimiterMiddleware implements per-IP rate limiting
type rateLimiterMiddleware struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     int // requests per minute
}

// NewServer creates a new dashboard server
func NewServer(state StateSource, opts Options) *Server {
	if opts.RateLimitPerMinute <= 0 {
		opts.RateLimitPerMinute = 600
	}

	s := &Server{
		state:  state,
		opts:   opts,
		router: mux.NewRouter(),
		hub:    NewHub(),
		rateLimiter: &rateLimiterMiddleware{
			limiters: make(map[string]*rate.Limiter),
			rate:     opts.RateLimitPerMinute,
		},
		startTime: time.Now(),
		logger:    logger.NewComponentLogger("Dashboard"),
		baseCtx:   context.Background(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	state.Subscribe(func(st synchronizer.State) {
		s.hub.Broadcast(&Message{Type: "state", Payload: st})
	})

	return s
}

// setupRoutes configures all API routes and middleware
func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.rateLimiter.middleware)
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/anomalies", s.handleGetAnomalies).Methods("GET")
	api.HandleFunc("/prediction", s.handleGetPrediction).Methods("GET")
	api.HandleFunc("/insight", s.handleGetInsight).Methods("GET")
	api.HandleFunc("/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/online", s.handleGetOnline).Methods("GET")
	api.HandleFunc("/health", s.handleGetHealth).Methods("GET")

	api.HandleFunc("/enrollment", s.handleGetEnrollment).Methods("GET")
	api.HandleFunc("/enrollment/start", s.handleStartEnrollment).Methods("POST", "OPTIONS")
	api.HandleFunc("/enrollment/retry", s.handleRetryEnrollment).Methods("POST", "OPTIONS")
	api.HandleFunc("/enrollment/probe", s.handleProbe).Methods("POST", "OPTIONS")
	api.HandleFunc("/credential/rotate", s.handleRotate).Methods("POST", "OPTIONS")

	api.HandleFunc("/reports/{kind}", s.handleGetReport).Methods("GET")
	api.HandleFunc("/agent/metrics", s.handleAgentMetrics).Methods("GET")
	api.HandleFunc("/agent/raw-telemetry", s.handleAgentRaw).Methods("GET")
	api.HandleFunc("/meeting/scan", s.handleMeetingScan).Methods("POST", "OPTIONS")

	if s.opts.MetricsHandler != nil {
		s.router.Handle("/metrics", s.opts.MetricsHandler).Methods("GET")
	}
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// corsMiddleware adds CORS headers for a UI on another local origin
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status; it keeps Hijack available for /ws
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// loggingMiddleware logs and measures all HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if s.opts.Recorder != nil {
			s.opts.Recorder.HTTPRequest(r.Method, route, rec.status, elapsed)
		}
		s.logger.Debug("%s %s - %d %v", r.Method, r.URL.Path, rec.status, elapsed)
	})
}

// middleware implements rate limiting per IP address
func (rl *rateLimiterMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}

		rl.mu.Lock()
		limiter, exists := rl.limiters[ip]
		if !exists {
			// Rate per minute converted to per second
			limiter = rate.NewLimiter(rate.Limit(float64(rl.rate)/60.0), rl.rate)
			rl.limiters[ip] = limiter
		}
		rl.mu.Unlock()

		if !limiter.Allow() {
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// BroadcastEnrollment pushes an enrollment snapshot to WebSocket clients
func (s *Server) BroadcastEnrollment(snap enrollment.Snapshot) {
	s.hub.Broadcast(&Message{Type: "enrollment", Payload: snap})
}

// Start begins serving HTTP requests and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("dashboard server already started")
	}
	s.started = true
	s.baseCtx = ctx
	s.mu.Unlock()

	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.NewComponentError(s.Name(), "listen", err)
	}

	s.logger.Info("Starting server on %s", listener.Addr())
	go s.hub.Run()

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	return s.Stop()
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Info("Shutting down server...")
	s.hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown dashboard server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}

// Name returns the component name
func (s *Server) Name() string {
	return "Dashboard"
}

// requestContext is the context background work started by a request runs under
func (s *Server) requestContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Dashboard: Failed to encode JSON response: %v", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
