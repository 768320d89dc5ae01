// Package probe implements the ConnectionProber port with a lightweight
// authenticated HTTP reachability check. It never speaks the external
// service's API; one request against the organization URL answers whether
// the endpoint is reachable and the credential accepted.
package probe

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/planhub/planhub/internal/domain/model"
	"github.com/planhub/planhub/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ConnectionProber = (*HTTPProber)(nil)

// ErrUnauthorized indicates the endpoint answered but rejected the
// credential. Not retried: a rejected token will not start working a
// moment later.
var ErrUnauthorized = errors.New("credential rejected by remote service")

// HTTPProber probes with a GET against the organization URL, authenticated
// the way the external service expects PATs: HTTP basic auth with an empty
// username. Transient failures (network errors, 5xx) are retried with
// exponential backoff per the integration's retry policy.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober with the given per-request timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{Timeout: timeout},
	}
}

// Probe implements driven.ConnectionProber.
func (p *HTTPProber) Probe(ctx context.Context, orgURL, secret string, policy model.RetryPolicy) error {
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, orgURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build probe request: %w", err))
		}
		req.Header.Set("Authorization", "Basic "+basicAuth("", secret))

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("probe %s: %w", orgURL, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(ErrUnauthorized)
		case resp.StatusCode >= 500:
			return fmt.Errorf("probe %s: status %d", orgURL, resp.StatusCode)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	// MaxAttempts counts total tries, so retries are one fewer.
	retries := uint64(0)
	if policy.MaxAttempts > 1 {
		retries = uint64(policy.MaxAttempts - 1)
	}

	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx))
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
