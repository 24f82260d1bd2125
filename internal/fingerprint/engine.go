// Package fingerprint derives the device identity used during enrollment.
//
// ComputeFingerprint hashes a fixed set of host attributes together with the bytes of an
// off-screen raster probe. The result is stable across runs on the same host, so a
// device that loses its credential re-enrolls under the same identity.
//
// ComputeEntropyCoefficient measures timer jitter over a handful of randomized sleeps.
// It is intentionally noisy and only guaranteed to be positive and small.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/mosiko1234/cfa/console/internal/logger"
)

// ErrProbeUnavailable is returned when no raster probe can be rendered
var ErrProbeUnavailable = errors.New("rendering probe unavailable")

// MinEntropySamples is the smallest sample count accepted by the engine
const MinEntropySamples = 5

// minCoefficient keeps the coefficient strictly positive on perfectly quiet timers
const minCoefficient = 1e-6

// Options tunes entropy sampling
type Options struct {
	Samples   int
	MaxJitter time.Duration
}

// DefaultOptions returns five samples with up to 20ms of jitter each
func DefaultOptions() Options {
	return Options{Samples: MinEntropySamples, MaxJitter: 20 * time.Millisecond}
}

// Engine computes fingerprints and entropy coefficients
type Engine struct {
	env    Environment
	probe  RasterProbe
	opts   Options
	rng    *rand.Rand
	rngMu  sync.Mutex
	logger *logger.Logger
}

// NewEngine creates an engine. probe may be nil, in which case ComputeFingerprint fails.
func NewEngine(env Environment, probe RasterProbe, opts Options) *Engine {
	if opts.Samples < MinEntropySamples {
		opts.Samples = MinEntropySamples
	}
	if opts.MaxJitter <= 0 {
		opts.MaxJitter = DefaultOptions().MaxJitter
	}
	return &Engine{
		env:    env,
		probe:  probe,
		opts:   opts,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger.NewComponentLogger("Fingerprint"),
	}
}

// Attributes returns the attribute bundle with defaults applied
func (e *Engine) Attributes() Attributes {
	var attrs Attributes
	if e.env != nil {
		attrs = e.env.Attributes()
	}
	return attrs.withDefaults()
}

// ComputeFingerprint returns the hex SHA-256 of the attribute JSON followed by the
// base64 probe raster
func (e *Engine) ComputeFingerprint() (string, error) {
	if e.probe == nil {
		return "", ErrProbeUnavailable
	}

	raster, err := e.probe.Render()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProbeUnavailable, err)
	}

	attrs := e.Attributes()
	attrs.Surface = e.probe.Describe()

	meta, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("failed to encode fingerprint attributes: %w", err)
	}

	h := sha256.New()
	h.Write(meta)
	h.Write([]byte(base64.StdEncoding.EncodeToString(raster)))
	fp := hex.EncodeToString(h.Sum(nil))

	e.logger.Debug("Fingerprint computed from %d attribute bytes and %d raster bytes", len(meta), len(raster))
	return fp, nil
}

// ComputeEntropyCoefficient sleeps for Samples randomized delays, measures each one, and
// returns the sample standard deviation in milliseconds divided by 100
func (e *Engine) ComputeEntropyCoefficient(ctx context.Context) (float64, error) {
	timings := make([]float64, 0, e.opts.Samples)

	for i := 0; i < e.opts.Samples; i++ {
		delay := e.randomDelay()
		start := time.Now()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, fmt.Errorf("entropy sampling interrupted: %w", ctx.Err())
		case <-timer.C:
		}

		timings = append(timings, float64(time.Since(start))/float64(time.Millisecond))
	}

	coefficient := StdDev(timings) / 100
	if coefficient < minCoefficient || math.IsNaN(coefficient) {
		coefficient = minCoefficient
	}

	e.logger.Debug("Entropy coefficient %.6f from %d samples", coefficient, len(timings))
	return coefficient, nil
}

func (e *Engine) randomDelay() time.Duration {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return time.Duration(e.rng.Float64() * float64(e.opts.MaxJitter))
}

// StdDev returns the Bessel-corrected standard deviation, or 0 for fewer than two values
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)-1))
}
