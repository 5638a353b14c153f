// Package ingest – source connector contract and the shared upstream
// HTTP client.
//
// A connector does one thing: fetch pages and yield raw payloads. It is
// explicitly allowed to return overlapping or out-of-order pages;
// idempotency and ordering are enforced downstream by the change
// detector and the keyed write serialisation, never by the connector.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// RawPayload is one fetched document plus provenance. SchemaVersion is
// the format version declared by the package envelope (not part of the
// document, so it does not perturb the content hash); the normaliser
// uses it to select a mapper.
type RawPayload struct {
	SourceType    string
	LogicalKey    string
	Document      map[string]interface{}
	SchemaVersion string
	FetchedAt     time.Time
}

// Page is one unit of connector output. NextCursor is the resumable
// position after this page; Done means the upstream has no further
// pages for now.
type Page struct {
	Payloads   []RawPayload
	NextCursor string
	Done       bool
}

// Capabilities describes what a connector variant supports.
type Capabilities struct {
	SupportsIncrementalCursor bool
	SupportsFullResync        bool
}

// Connector is the contract every feed puller implements. Fetch must be
// resumable from any previously returned cursor. On transient failure
// it returns *RetryableFetchError; on a response it cannot parse at all
// it returns *MalformedSourceError.
type Connector interface {
	Name() string
	Capabilities() Capabilities
	Fetch(ctx context.Context, cursor string) (Page, error)
}

// upstreamClient wraps http.Client with the politeness and failure
// machinery every connector shares: a request rate limiter, a circuit
// breaker so a struggling upstream is not hammered, and a bounded
// per-request timeout.
type upstreamClient struct {
	name    string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func newUpstreamClient(name string, timeout time.Duration, rps float64, burst int) *upstreamClient {
	return &upstreamClient{
		name:    name,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 2,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

// getJSON fetches url and decodes the body into out. Network errors,
// 5xx, and 429 come back as *RetryableFetchError; an undecodable 200
// body comes back as *MalformedSourceError; other 4xx are permanent.
func (c *upstreamClient) getJSON(ctx context.Context, url string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "janet-contracts-pipeline/1.0")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &RetryableFetchError{Source: c.name, Err: err}
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
		if err != nil {
			return nil, &RetryableFetchError{Source: c.name, Err: err}
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, &RetryableFetchError{
				Source: c.name,
				Err:    fmt.Errorf("upstream returned %d", resp.StatusCode),
			}
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s: upstream returned %d", c.name, resp.StatusCode)
		}
		return raw, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return &RetryableFetchError{Source: c.name, Err: err}
		}
		return err
	}

	if err := json.Unmarshal(body.([]byte), out); err != nil {
		return &MalformedSourceError{Source: c.name, Err: err}
	}
	return nil
}
