// Package probe implements lightweight HTTP reachability checks for the
// services Carlos depends on. A probe has no state beyond its HTTP
// client: reachability is recomputed on every call and never cached.
package probe

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/carlosai/carlos/internal/httpkit"
)

// DefaultTimeout bounds a single probe request. Probes run against
// localhost services, so anything slower than this is as good as down.
const DefaultTimeout = 5 * time.Second

// Probe checks whether a service answers HTTP on one of a set of
// candidate endpoints. The zero value is not usable; construct with New.
type Probe struct {
	client *http.Client
	logger *slog.Logger

	// Tolerant widens the set of "alive" status codes to include 404
	// and 307. Some TTS builds answer only on their root or docs paths,
	// and a 404 from a listening server still proves the process is up.
	Tolerant bool
}

// New creates a probe with the given per-request timeout. A zero or
// negative timeout falls back to DefaultTimeout.
func New(timeout time.Duration, logger *slog.Logger) *Probe {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := httpkit.NewClient(httpkit.WithTimeout(timeout))
	// A redirect status is already proof of life; never follow it.
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Probe{
		client: client,
		logger: logger,
	}
}

// Reachable tries each candidate endpoint with an unauthenticated GET
// and reports whether any answered with an acceptable status. Network
// errors of any kind degrade to false; this function never returns an
// error and has no side effects.
func (p *Probe) Reachable(ctx context.Context, baseURL string, endpoints []string) bool {
	for _, ep := range endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+ep, nil)
		if err != nil {
			p.logger.Debug("probe request construction failed", "url", baseURL+ep, "error", err)
			continue
		}

		resp, err := p.client.Do(req)
		if err != nil {
			p.logger.Debug("probe attempt failed", "url", baseURL+ep, "error", err)
			continue
		}
		httpkit.DrainAndClose(resp.Body, 4096)

		if p.acceptable(resp.StatusCode) {
			p.logger.Debug("service responding", "url", baseURL+ep, "status", resp.StatusCode)
			return true
		}
	}
	return false
}

func (p *Probe) acceptable(status int) bool {
	if status == http.StatusOK {
		return true
	}
	if p.Tolerant && (status == http.StatusNotFound || status == http.StatusTemporaryRedirect) {
		return true
	}
	return false
}
