// Package platform wraps the upstream mining APIs. Each adapter fetches raw
// telemetry and normalizes it into the canonical rig model at the boundary;
// upstream field names never leak past this package.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rigwatch/rigwatch/internal/domain"
	apperrors "github.com/rigwatch/rigwatch/internal/errors"
)

// Fetcher is the adapter contract: fetch and normalize, no side effects.
// Implementations return an UpstreamError on non-2xx or transport failure and
// never put credentials in error messages.
type Fetcher interface {
	// Platform names the upstream this adapter covers.
	Platform() domain.Platform
	// Configured reports whether creds carry enough material to call the
	// upstream for this user.
	Configured(creds domain.Credentials) bool
	// FetchRigs returns all rigs visible with the given credentials.
	FetchRigs(ctx context.Context, creds domain.Credentials) ([]domain.Rig, error)
}

const maxResponseBytes = 4 << 20

// client bundles the shared HTTP plumbing: one http.Client with the
// configured upstream timeout, a circuit breaker per adapter, and JSON
// decoding with a body size cap.
type client struct {
	http    *http.Client
	breaker *apperrors.CircuitBreaker
	name    string
}

func newClient(name string, timeout time.Duration) *client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &client{
		http:    &http.Client{Timeout: timeout},
		breaker: apperrors.NewCircuitBreaker(),
		name:    name,
	}
}

// doJSON issues the request through the circuit breaker and decodes the
// response body into out. A timeout is surfaced the same way as any other
// transport failure: as a retryable UpstreamError.
func (c *client) doJSON(req *http.Request, out interface{}) error {
	return c.breaker.Call(func() error {
		resp, err := c.http.Do(req)
		if err != nil {
			return apperrors.NewUpstreamError(c.name, 0, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
			return apperrors.NewUpstreamError(c.name, resp.StatusCode, nil)
		}

		if out == nil {
			return nil
		}

		body := io.LimitReader(resp.Body, maxResponseBytes)
		if err := json.NewDecoder(body).Decode(out); err != nil {
			return apperrors.NewUpstreamError(c.name, 0, fmt.Errorf("decode response: %w", err))
		}

		return nil
	})
}
