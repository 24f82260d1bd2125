// Package telemetry is the request layer in front of the CFA agent and the AI service.
//
// Every operation runs under its own deadline and reports failures as a
// *errors.ServiceError. The client never retries; the synchronizer's next tick is the
// retry policy.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mosiko1234/cfa/console/internal/errors"
	"github.com/mosiko1234/cfa/console/internal/logger"
	"github.com/mosiko1234/cfa/console/internal/model"
)

// Service names used in errors and logs
const (
	ServiceAgent = "agent"
	ServiceAI    = "ai"
)

// DefaultTimeout bounds every call
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a response is read
const maxBodyBytes = 4 << 20

var (
	errEmptyBody = errors.New("empty response body")
	errNullBody  = errors.New("null response body")
)

// Credentials supplies the bearer credential for authenticated calls
type Credentials interface {
	Credential() string
}

// Config holds configuration for creating a Client
type Config struct {
	// AgentURL is the base URL of the agent API, e.g. http://127.0.0.1:8765/api
	AgentURL string
	// AIURL is the base URL of the AI service
	AIURL string
	// Timeout is the per-call deadline; DefaultTimeout when zero
	Timeout time.Duration
	// HTTPClient is used for all requests. If nil, a client without its own timeout is used.
	HTTPClient *http.Client
}

// Client talks to the agent and AI services
type Client struct {
	agentURL    string
	aiURL       string
	timeout     time.Duration
	httpClient  *http.Client
	credentials Credentials
	logger      *logger.Logger
}

// NewClient creates a telemetry client. creds may be nil when only unauthenticated calls
// will be made.
func NewClient(cfg Config, creds Credentials) (*Client, error) {
	agentURL, err := normalizeBase(cfg.AgentURL)
	if err != nil {
		return nil, fmt.Errorf("invalid agent URL: %w", err)
	}
	aiURL, err := normalizeBase(cfg.AIURL)
	if err != nil {
		return nil, fmt.Errorf("invalid AI URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		agentURL:    agentURL,
		aiURL:       aiURL,
		timeout:     timeout,
		httpClient:  httpClient,
		credentials: creds,
		logger:      logger.NewComponentLogger("Telemetry"),
	}, nil
}

func normalizeBase(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return strings.TrimRight(raw, "/"), nil
}

// AgentURL returns the agent base URL
func (c *Client) AgentURL() string { return c.agentURL }

// AIURL returns the AI service base URL
func (c *Client) AIURL() string { return c.aiURL }

// Health checks agent liveness. Unauthenticated.
func (c *Client) Health(ctx context.Context) (*model.HealthResponse, error) {
	var out model.HealthResponse
	if err := c.do(ctx, ServiceAgent, "health", http.MethodGet, c.agentURL+"/health", false, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AIHealth checks AI service liveness. Unauthenticated.
func (c *Client) AIHealth(ctx context.Context) (*model.HealthResponse, error) {
	var out model.HealthResponse
	if err := c.do(ctx, ServiceAI, "health", http.MethodGet, c.aiURL+"/health", false, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Enroll submits a signed enrollment request. This is the only agent call sent without
// a credential.
func (c *Client) Enroll(ctx context.Context, req model.EnrollRequest) (*model.EnrollResponse, error) {
	var out model.EnrollResponse
	if err := c.do(ctx, ServiceAgent, "enroll", http.MethodPost, c.agentURL+"/enroll", false, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the live score snapshot
func (c *Client) Status(ctx context.Context) (*model.StatusSnapshot, error) {
	var out model.StatusSnapshot
	if err := c.do(ctx, ServiceAgent, "status", http.MethodGet, c.agentURL+"/status", true, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Anomalies fetches recent anomaly events
func (c *Client) Anomalies(ctx context.Context) ([]model.AnomalyEvent, error) {
	var out []model.AnomalyEvent
	if err := c.do(ctx, ServiceAgent, "anomalies", http.MethodGet, c.agentURL+"/anomalies", true, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.AnomalyEvent{}
	}
	return out, nil
}

// Prediction fetches the CSI forecast
func (c *Client) Prediction(ctx context.Context) (*model.Prediction, error) {
	var out model.Prediction
	if err := c.do(ctx, ServiceAgent, "prediction", http.MethodGet, c.agentURL+"/prediction", true, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RawTelemetry fetches the agent's raw OS diagnostic text
func (c *Client) RawTelemetry(ctx context.Context) (*model.RawTelemetry, error) {
	var out model.RawTelemetry
	if err := c.do(ctx, ServiceAgent, "raw-telemetry", http.MethodGet, c.agentURL+"/raw-telemetry", true, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metrics fetches the agent's recent stored metric records, newest last
func (c *Client) Metrics(ctx context.Context) ([]json.RawMessage, error) {
	var out []json.RawMessage
	if err := c.do(ctx, ServiceAgent, "metrics", http.MethodGet, c.agentURL+"/metrics", true, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PostWeights pushes adaptive weights to the agent. The agent acknowledges with a
// small status object that is not interpreted.
func (c *Client) PostWeights(ctx context.Context, w model.Weights) error {
	return c.do(ctx, ServiceAgent, "weights", http.MethodPost, c.agentURL+"/weights", true, w, nil)
}

// Analyze sends derived scalar features to the AI service
func (c *Client) Analyze(ctx context.Context, req model.AnalyzeRequest) (*model.AIInsight, error) {
	var out model.AIInsight
	if err := c.do(ctx, ServiceAI, "analyze", http.MethodPost, c.aiURL+"/analyze", false, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeMeeting asks the AI service for a meeting stability verdict. The service scores
// its own recent history; req only supplies latency and packet loss.
func (c *Client) AnalyzeMeeting(ctx context.Context, req model.AnalyzeRequest) (*model.MeetingAssessment, error) {
	var out model.MeetingAssessment
	if err := c.do(ctx, ServiceAI, "analyze-meeting", http.MethodPost, c.aiURL+"/analyze/meeting", false, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one request under the per-call deadline and decodes a 2xx body into out
func (c *Client) do(ctx context.Context, service, op, method, target string, authenticated bool, body, out interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode %s request", op)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(callCtx, method, target, reader)
	if err != nil {
		return errors.NewUnreachableError(service, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		if token := c.credential(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(callCtx, service, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return classifyTransportError(callCtx, service, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("%s %s returned HTTP %d", service, op, resp.StatusCode)
		return errors.NewHTTPError(service, op, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.NewDecodeError(service, op, errEmptyBody)
	}
	if bytes.Equal(trimmed, []byte("null")) {
		return errors.NewDecodeError(service, op, errNullBody)
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return errors.NewDecodeError(service, op, err)
	}
	return nil
}

func (c *Client) credential() string {
	if c.credentials == nil {
		return ""
	}
	return c.credentials.Credential()
}

func classifyTransportError(ctx context.Context, service, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeoutError(service, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.NewTimeoutError(service, op, err)
	}
	return errors.NewUnreachableError(service, op, err)
}
