package fingerprint

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// Defaults substituted for attributes the host does not expose
const (
	DefaultResolution = "0x0"
	DefaultLanguage   = "en-US"
	DefaultTimezone   = "UTC"
	DefaultHostname   = "unknown-host"
)

// Attributes are the stable, non-sensitive host properties that feed the fingerprint.
// Field order is fixed because the JSON encoding is part of the digest.
type Attributes struct {
	UserAgent  string `json:"ua"`
	Resolution string `json:"res"`
	Timezone   string `json:"tz"`
	Language   string `json:"lang"`
	Cores      int    `json:"cores"`
	Hostname   string `json:"host"`
	Surface    string `json:"surface"`
}

// Environment supplies the host attributes
type Environment interface {
	Attributes() Attributes
}

// HostEnvironment reads attributes from the running process
type HostEnvironment struct {
	Version    string
	Resolution string
}

// NewHostEnvironment creates an environment for the given console version. resolution
// may be empty when the host has no display.
func NewHostEnvironment(version, resolution string) *HostEnvironment {
	return &HostEnvironment{Version: version, Resolution: resolution}
}

// Attributes implements Environment
func (h *HostEnvironment) Attributes() Attributes {
	host, err := os.Hostname()
	if err != nil {
		host = ""
	}

	return Attributes{
		UserAgent:  h.UserAgentString(),
		Resolution: h.Resolution,
		Timezone:   hostTimezone(),
		Language:   hostLanguage(),
		Cores:      runtime.NumCPU(),
		Hostname:   host,
	}
}

// UserAgentString is the user agent reported in enrollment metadata
func (h *HostEnvironment) UserAgentString() string {
	return fmt.Sprintf("cfa-console/%s (%s; %s)", h.Version, runtime.GOOS, runtime.GOARCH)
}

func hostTimezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return strings.TrimPrefix(tz, ":")
	}
	if name := time.Local.String(); name != "" && name != "Local" {
		return name
	}
	name, offset := time.Now().Zone()
	return fmt.Sprintf("%s%+d", name, offset/3600)
}

func hostLanguage() string {
	for _, key := range []string{"LC_ALL", "LANG"} {
		v := os.Getenv(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return ""
}

// withDefaults fills every empty optional attribute
func (a Attributes) withDefaults() Attributes {
	if a.UserAgent == "" {
		a.UserAgent = "cfa-console"
	}
	if a.Resolution == "" {
		a.Resolution = DefaultResolution
	}
	if a.Timezone == "" {
		a.Timezone = DefaultTimezone
	}
	if a.Language == "" {
		a.Language = DefaultLanguage
	}
	if a.Cores < 0 {
		a.Cores = 0
	}
	if a.Hostname == "" {
		a.Hostname = DefaultHostname
	}
	return a
}
