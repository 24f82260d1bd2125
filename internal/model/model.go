// Package model defines the telemetry and enrollment records exchanged with the CFA agent
// and the AI microservice, plus the derived records the console publishes.
//
// JSON field names follow the wire format of the two services. Timestamps on the wire are
// integer Unix milliseconds.
package model

import "time"

// AnomalyType enumerates the detectors reported by the agent
type AnomalyType string

const (
	AnomalyZScore      AnomalyType = "Z_SCORE"
	AnomalyOscillation AnomalyType = "OSCILLATION"
	AnomalySpike       AnomalyType = "SPIKE"
)

// Severity of an anomaly event
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Trend of the CSI forecast
type Trend string

const (
	TrendImproving Trend = "IMPROVING"
	TrendDegrading Trend = "DEGRADING"
	TrendStable    Trend = "STABLE"
)

// Weights are the adaptive per-subsystem weights used to aggregate CSI into GCS
type Weights struct {
	Wifi float64 `json:"wifi"`
	Bt   float64 `json:"bt"`
	Net  float64 `json:"net"`
	Sys  float64 `json:"sys"`
}

// DefaultWeights returns the agent's factory weights
func DefaultWeights() Weights {
	return Weights{Wifi: 0.30, Bt: 0.15, Net: 0.35, Sys: 0.20}
}

// StatusSnapshot is one reading of the agent's live scores. It is replaced wholesale on
// every primary tick.
type StatusSnapshot struct {
	GCS     float64 `json:"gcs"`
	WifiCSI float64 `json:"wifiCSI"`
	BtCSI   float64 `json:"btCSI"`
	NetCSI  float64 `json:"netCSI"`
	SysCSI  float64 `json:"sysCSI"`
	// WifiRssi and LatencyMs are nil when the agent did not report them
	WifiRssi      *float64 `json:"wifiRssi,omitempty"`
	BtDeviceCount int      `json:"btDeviceCount"`
	LatencyMs     *float64 `json:"latencyMs,omitempty"`
	CPUPercent    float64  `json:"cpuPercent,omitempty"`
	MemPercent    float64  `json:"memPercent,omitempty"`
	Bayesian      float64  `json:"bayesian"`
	Weights       Weights  `json:"weights"`
	DeviceID      string   `json:"deviceId"`
	Timestamp     int64    `json:"timestamp"`
	IsMock        bool     `json:"isMock"`
}

// Reading returns a pointer to v for optional snapshot fields
func Reading(v float64) *float64 {
	return &v
}

// AnomalyEvent is one detector hit reported by the agent
type AnomalyEvent struct {
	Timestamp int64       `json:"timestamp"`
	Type      AnomalyType `json:"type"`
	Component string      `json:"component"`
	ZScore    float64     `json:"zScore"`
	Value     float64     `json:"value"`
	Severity  Severity    `json:"severity"`
	Message   string      `json:"message"`
}

// Prediction is the agent's short-term CSI forecast
type Prediction struct {
	NextCSI         float64 `json:"nextCSI"`
	Trend           Trend   `json:"trend"`
	DecayLambda     float64 `json:"decayLambda"`
	TimeToThreshold float64 `json:"timeToThreshold"`
}

// DefaultPrediction is the prediction shown before the first successful poll
func DefaultPrediction() Prediction {
	return Prediction{NextCSI: 65, Trend: TrendStable, DecayLambda: 0, TimeToThreshold: 9999}
}

// CSIBreakdown holds the per-subsystem scores computed by the AI service
type CSIBreakdown struct {
	Wifi float64 `json:"wifi"`
	Bt   float64 `json:"bt"`
	Net  float64 `json:"net"`
	Sys  float64 `json:"sys"`
}

// AnomalySignal holds the AI service's anomaly statistics
type AnomalySignal struct {
	ZScore    float64 `json:"z_score"`
	DCTEnergy float64 `json:"dct_energy"`
	Bayesian  float64 `json:"bayesian"`
}

// AIInsight is the response of the AI analysis endpoint
type AIInsight struct {
	GCS          float64       `json:"gcs"`
	CSI          CSIBreakdown  `json:"csi"`
	Weights      *Weights      `json:"weights,omitempty"`
	Forecast     Prediction    `json:"forecast"`
	Anomaly      AnomalySignal `json:"anomaly"`
	Insight      string        `json:"insight"`
	RiskFactor   string        `json:"risk_factor"`
	AIConfidence float64       `json:"ai_confidence"`
	AISource     string        `json:"ai_source"`
}

// AnalyzeRequest carries only derived scalar features to the AI service, never identity
type AnalyzeRequest struct {
	RSSI            float64 `json:"rssi"`
	LatencyMs       float64 `json:"latency_ms"`
	PacketLossRatio float64 `json:"packet_loss_ratio"`
	CPUPct          float64 `json:"cpu_pct"`
	MemPct          float64 `json:"mem_pct"`
	BtCount         int     `json:"bt_count"`
}

// MeetingAssessment is the AI service's pre-flight verdict on meeting-grade stability.
// Ready is false until the service has collected enough samples; Metrics is then absent.
type MeetingAssessment struct {
	Ready   bool            `json:"ready"`
	Score   float64         `json:"score"`
	Verdict string          `json:"verdict"`
	Details string          `json:"details"`
	Metrics *MeetingMetrics `json:"metrics,omitempty"`
}

// MeetingMetrics are the inputs behind a meeting score
type MeetingMetrics struct {
	Stability  float64 `json:"stability"`
	Jitter     float64 `json:"jitter"`
	Latency    float64 `json:"latency"`
	PacketLoss float64 `json:"packet_loss"`
}

// RawTelemetry is the agent's raw OS diagnostic text
type RawTelemetry struct {
	Raw string `json:"raw"`
}

// HistorySample is one point of the rolling chart history
type HistorySample struct {
	TS            int64   `json:"ts"`
	GCS           float64 `json:"gcs"`
	WifiCSI       float64 `json:"wifiCSI"`
	BtCSI         float64 `json:"btCSI"`
	NetCSI        float64 `json:"netCSI"`
	SysCSI        float64 `json:"sysCSI"`
	BtDeviceCount int     `json:"btDeviceCount"`
}

// SampleFrom derives a history sample from a snapshot at the given time
func SampleFrom(s StatusSnapshot, at time.Time) HistorySample {
	return HistorySample{
		TS:            at.UnixMilli(),
		GCS:           s.GCS,
		WifiCSI:       s.WifiCSI,
		BtCSI:         s.BtCSI,
		NetCSI:        s.NetCSI,
		SysCSI:        s.SysCSI,
		BtDeviceCount: s.BtDeviceCount,
	}
}

// OnlineFlags records the outcome of the latest poll of each service
type OnlineFlags struct {
	StatusService bool `json:"statusService"`
	AIService     bool `json:"aiService"`
}

// HealthResponse is returned by the services' liveness endpoints
type HealthResponse struct {
	Status  string `json:"status"`
	Agent   string `json:"agent,omitempty"`
	Service string `json:"service,omitempty"`
	Version string `json:"version,omitempty"`
}

// DeviceIdentity is created once per enrollment and never modified
type DeviceIdentity struct {
	FingerprintHash    string    `json:"fingerprintHash"`
	EntropyCoefficient float64   `json:"entropyCoefficient"`
	EnrolledAt         time.Time `json:"enrolledAt"`
}

// EnrollRequest is the body of the enrollment call
type EnrollRequest struct {
	DeviceID    string  `json:"deviceId"`
	DCS         string  `json:"dcs"`
	Fingerprint string  `json:"fingerprint"`
	Entropy     float64 `json:"entropy"`
	Timestamp   int64   `json:"timestamp"`
	Meta        string  `json:"meta"`
}

// EnrollResponse is the agent's answer to a valid enrollment
type EnrollResponse struct {
	Status    string `json:"status"`
	APIKey    string `json:"apiKey"`
	ExpiresAt int64  `json:"expiresAt"`
}

// EnrollMeta is the non-sensitive environment summary sent with enrollment
type EnrollMeta struct {
	UserAgent  string `json:"userAgent"`
	Resolution string `json:"resolution"`
	Cores      int    `json:"cores"`
}
