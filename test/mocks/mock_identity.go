package mocks

import (
	"context"

	"github.com/mosiko1234/cfa/console/internal/fingerprint"
)

// MockIdentity is a fixed enrollment identity with no timer sampling
type MockIdentity struct {
	Fingerprint string
	Entropy     float64
	Err         error
}

// NewMockIdentity returns an identity with a 64-character fingerprint
func NewMockIdentity() *MockIdentity {
	return &MockIdentity{
		Fingerprint: "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		Entropy:     0.0123,
	}
}

// Attributes implements enrollment.Identity
func (m *MockIdentity) Attributes() fingerprint.Attributes {
	return fingerprint.Attributes{UserAgent: "cfa-console/test", Resolution: "1280x720", Cores: 4}
}

// ComputeFingerprint implements enrollment.Identity
func (m *MockIdentity) ComputeFingerprint() (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return m.Fingerprint, nil
}

// ComputeEntropyCoefficient implements enrollment.Identity
func (m *MockIdentity) ComputeEntropyCoefficient(ctx context.Context) (float64, error) {
	return m.Entropy, nil
}
