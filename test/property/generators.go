//go:build property
// +build property

package property

import (
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"

	"github.com/mosiko1234/cfa/console/internal/model"
)

// genFingerprint generates a 64-character lowercase hex fingerprint
func genFingerprint() gopter.Gen {
	const hexDigits = "0123456789abcdef"
	return gen.SliceOfN(64, gen.IntRange(0, 15)).Map(func(digits []int) string {
		b := make([]byte, len(digits))
		for i, d := range digits {
			b[i] = hexDigits[d]
		}
		return string(b)
	})
}

// genEntropy generates a small positive entropy coefficient
func genEntropy() gopter.Gen {
	return gen.Float64Range(1e-6, 1.0)
}

// genTimestamp generates a time with millisecond precision
func genTimestamp() gopter.Gen {
	return gen.Int64Range(1600000000000, 1900000000000).Map(func(ms int64) time.Time {
		return time.UnixMilli(ms)
	})
}

// genSample generates a history sample with an arbitrary timestamp
func genSample() gopter.Gen {
	return gopter.CombineGens(
		gen.Int64Range(0, 1900000000000),
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
		gen.IntRange(0, 50),
	).Map(func(v []interface{}) model.HistorySample {
		return model.HistorySample{
			TS:            v[0].(int64),
			GCS:           v[1].(float64),
			WifiCSI:       v[2].(float64),
			BtDeviceCount: v[3].(int),
		}
	})
}
