// Package ingest – award feed connector.
//
// The award feed delivers award documents directly, without the release
// wrapper: one document per (ocid, award id), paginated by an opaque
// cursor in the envelope. It supports incremental pulls only; the feed
// has no replay window, so a full resync is not offered.
package ingest

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// awardEnvelope is the award-feed page envelope.
type awardEnvelope struct {
	Version    string                   `json:"version"`
	Awards     []map[string]interface{} `json:"awards"`
	NextCursor string                   `json:"nextCursor"`
}

// AwardFeedConnector pulls award documents from the award feed.
type AwardFeedConnector struct {
	base   string
	client *upstreamClient
	now    func() time.Time
}

// AwardFeedOptions configures the award feed connector.
type AwardFeedOptions struct {
	BaseURL string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// NewAwardFeedConnector constructs the award feed connector.
func NewAwardFeedConnector(opts AwardFeedOptions) *AwardFeedConnector {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RPS <= 0 {
		opts.RPS = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 2
	}
	return &AwardFeedConnector{
		base:   opts.BaseURL,
		client: newUpstreamClient("awards", opts.Timeout, opts.RPS, opts.Burst),
		now:    time.Now,
	}
}

// Name implements Connector.
func (c *AwardFeedConnector) Name() string { return "awards" }

// Capabilities implements Connector.
func (c *AwardFeedConnector) Capabilities() Capabilities {
	return Capabilities{SupportsIncrementalCursor: true, SupportsFullResync: false}
}

// Fetch implements Connector.
func (c *AwardFeedConnector) Fetch(ctx context.Context, cursor string) (Page, error) {
	pageURL := c.base
	if cursor != "" {
		pageURL = fmt.Sprintf("%s?cursor=%s", c.base, url.QueryEscape(cursor))
	}

	var env awardEnvelope
	if err := c.client.getJSON(ctx, pageURL, &env); err != nil {
		return Page{}, err
	}

	fetched := c.now().UTC()
	payloads := make([]RawPayload, 0, len(env.Awards))
	for _, doc := range env.Awards {
		ocid, _ := doc["ocid"].(string)
		awardID, _ := doc["id"].(string)
		if ocid == "" || awardID == "" {
			return Page{}, &MalformedSourceError{Source: c.Name(), Err: fmt.Errorf("award missing ocid or id on page %s", pageURL)}
		}
		payloads = append(payloads, RawPayload{
			SourceType:    c.Name(),
			LogicalKey:    ocid + "/award/" + awardID,
			Document:      doc,
			SchemaVersion: env.Version,
			FetchedAt:     fetched,
		})
	}

	return Page{
		Payloads:   payloads,
		NextCursor: env.NextCursor,
		Done:       env.NextCursor == "",
	}, nil
}
