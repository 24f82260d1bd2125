// Package signature computes the Device Cognitive Signature (DCS) that binds a device
// fingerprint, its entropy coefficient and the enrollment timestamp.
//
//	DCS = hex(SHA-256(fingerprint ‖ entropy formatted %.6f ‖ timestamp in Unix ms))
//
// The agent recomputes the same digest when validating an enrollment, so the formatting
// must stay byte-for-byte stable.
package signature

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Payload returns the exact string that is digested
func Payload(fingerprint string, entropy float64, ts time.Time) string {
	return fingerprint + strconv.FormatFloat(entropy, 'f', 6, 64) + strconv.FormatInt(ts.UnixMilli(), 10)
}

// Compute returns the DCS for the given inputs. It is pure.
func Compute(fingerprint string, entropy float64, ts time.Time) string {
	sum := sha256.Sum256([]byte(Payload(fingerprint, entropy, ts)))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether dcs matches the inputs, comparing case-insensitively in constant time
func Verify(dcs, fingerprint string, entropy float64, ts time.Time) bool {
	expected := Compute(fingerprint, entropy, ts)
	got := strings.ToLower(dcs)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
