// Package discovery locates the CFA agent and AI service on the local network with
// mDNS/DNS-SD. Discovery is optional; configured base URLs always win when a service
// does not answer.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/mosiko1234/cfa/console/internal/config"
	"github.com/mosiko1234/cfa/console/internal/logger"
)

// ErrNoService is returned when no instance of a service answered
var ErrNoService = errors.New("no mDNS service instance found")

// DefaultTimeout bounds one lookup
const DefaultTimeout = 3 * time.Second

// Endpoint is one discovered service instance
type Endpoint struct {
	Name string
	Host string
	Addr net.IP
	Port int
	// Path is taken from a "path=" TXT record, e.g. /api
	Path string
}

// BaseURL returns the HTTP base URL of the endpoint
func (e Endpoint) BaseURL() string {
	host := e.Addr.String()
	if e.Addr.To4() == nil {
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + strconv.Itoa(e.Port) + e.Path
}

// QueryFunc runs an mDNS query; mdns.Query by default
type QueryFunc func(params *mdns.QueryParam) error

// Resolver looks up services via mDNS
type Resolver struct {
	domain  string
	timeout time.Duration
	query   QueryFunc
	logger  *logger.Logger
}

// NewResolver creates a resolver for domain (usually "local")
func NewResolver(domain string, timeout time.Duration) *Resolver {
	if domain == "" {
		domain = "local"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		domain:  domain,
		timeout: timeout,
		query:   mdns.Query,
		logger:  logger.NewComponentLogger("Discovery"),
	}
}

// WithQuery replaces the query function
func (r *Resolver) WithQuery(q QueryFunc) *Resolver {
	r.query = q
	return r
}

// Lookup returns the first usable instance of service, e.g. "_cfa-agent._tcp"
func (r *Resolver) Lookup(ctx context.Context, service string) (*Endpoint, error) {
	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	entriesCh := make(chan *mdns.ServiceEntry, 16)
	params := &mdns.QueryParam{
		Service:             service,
		Domain:              r.domain,
		Timeout:             timeout,
		Entries:             entriesCh,
		WantUnicastResponse: false,
		DisableIPv6:         true,
	}

	done := make(chan error, 1)
	go func() {
		done <- r.query(params)
		close(entriesCh)
	}()

	var found *Endpoint
	for entry := range entriesCh {
		if found != nil {
			continue
		}
		if ep := endpointFrom(entry, service); ep != nil {
			found = ep
		}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("mDNS query for %s failed: %w", service, err)
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoService, service, r.domain)
	}

	r.logger.Info("Discovered %s at %s", service, found.BaseURL())
	return found, nil
}

// endpointFrom converts an entry, preferring IPv4
func endpointFrom(entry *mdns.ServiceEntry, service string) *Endpoint {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	var addr net.IP
	switch {
	case entry.AddrV4 != nil:
		addr = entry.AddrV4
	case entry.AddrV6 != nil:
		addr = entry.AddrV6
	default:
		return nil
	}

	ep := &Endpoint{
		Name: cleanName(entry.Name, service),
		Host: entry.Host,
		Addr: addr,
		Port: entry.Port,
	}
	for _, field := range entry.InfoFields {
		if v, ok := strings.CutPrefix(field, "path="); ok {
			ep.Path = "/" + strings.Trim(v, "/")
		}
	}
	return ep
}

// cleanName strips the service and domain suffixes from an instance name
func cleanName(name, service string) string {
	name = strings.TrimSuffix(name, ".")
	name = strings.TrimSuffix(name, ".local")
	name = strings.TrimSuffix(name, "."+service)
	return strings.Trim(name, ".")
}

// ServiceURLs holds the resolved base URLs
type ServiceURLs struct {
	Agent string
	AI    string
}

// Resolve returns base URLs for both services. A service that is not discovered keeps
// its configured URL.
func (r *Resolver) Resolve(ctx context.Context, cfg *config.Config) ServiceURLs {
	urls := ServiceURLs{Agent: cfg.Agent.BaseURL, AI: cfg.AI.BaseURL}
	if !cfg.Discovery.MDNSEnabled {
		return urls
	}

	if ep, err := r.Lookup(ctx, cfg.Discovery.AgentService); err == nil {
		if ep.Path == "" {
			ep.Path = "/api"
		}
		urls.Agent = ep.BaseURL()
	} else {
		r.logger.Warn("Agent discovery failed, using %s: %v", urls.Agent, err)
	}

	if ep, err := r.Lookup(ctx, cfg.Discovery.AIService); err == nil {
		urls.AI = ep.BaseURL()
	} else {
		r.logger.Warn("AI service discovery failed, using %s: %v", urls.AI, err)
	}

	return urls
}
