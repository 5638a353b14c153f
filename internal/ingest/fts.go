// Package ingest – Find a Tender Service connector.
//
// FTS publishes OCDS release packages. The feed paginates with a
// links.next URL, which doubles as the cursor: it is resumable from any
// previously returned value, and an empty cursor seeds a fresh window
// from the configured backfill start via updatedFrom.
package ingest

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// releasePackage is the OCDS release-package envelope. Only the fields
// the connector itself needs are declared; release bodies stay as raw
// maps so the raw store keeps everything.
type releasePackage struct {
	Version  string                   `json:"version"`
	Releases []map[string]interface{} `json:"releases"`
	Links    struct {
		Next string `json:"next"`
	} `json:"links"`
}

// FTSConnector pulls OCDS release packages from Find a Tender.
type FTSConnector struct {
	base      string
	startFrom time.Time
	client    *upstreamClient
	now       func() time.Time
}

// FTSOptions configures the FTS connector.
type FTSOptions struct {
	// BaseURL is the release-package endpoint, e.g.
	// https://www.find-tender.service.gov.uk/api/1.0/ocdsReleasePackages
	BaseURL string
	// StartFrom seeds updatedFrom when no cursor exists yet.
	StartFrom time.Time
	// Timeout bounds each page request.
	Timeout time.Duration
	// RPS / Burst throttle requests against the public API.
	RPS   float64
	Burst int
}

// NewFTSConnector constructs the Find a Tender connector.
func NewFTSConnector(opts FTSOptions) *FTSConnector {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RPS <= 0 {
		opts.RPS = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 2
	}
	return &FTSConnector{
		base:      opts.BaseURL,
		startFrom: opts.StartFrom,
		client:    newUpstreamClient("fts", opts.Timeout, opts.RPS, opts.Burst),
		now:       time.Now,
	}
}

// Name implements Connector.
func (c *FTSConnector) Name() string { return "fts" }

// Capabilities implements Connector. FTS supports both incremental
// cursors (links.next) and full re-syncs (re-seed from a date).
func (c *FTSConnector) Capabilities() Capabilities {
	return Capabilities{SupportsIncrementalCursor: true, SupportsFullResync: true}
}

// Fetch implements Connector. The cursor is the next-page URL returned
// by the previous call; empty means start a new window.
func (c *FTSConnector) Fetch(ctx context.Context, cursor string) (Page, error) {
	pageURL := cursor
	if pageURL == "" {
		pageURL = fmt.Sprintf("%s?updatedFrom=%s", c.base,
			url.QueryEscape(c.startFrom.UTC().Format("2006-01-02T15:04:05Z")))
	}

	var pkg releasePackage
	if err := c.client.getJSON(ctx, pageURL, &pkg); err != nil {
		return Page{}, err
	}

	fetched := c.now().UTC()
	payloads := make([]RawPayload, 0, len(pkg.Releases))
	for _, rel := range pkg.Releases {
		ocid, _ := rel["ocid"].(string)
		if ocid == "" {
			// A release without an ocid cannot be keyed; the page is
			// not trustworthy as a whole.
			return Page{}, &MalformedSourceError{Source: c.Name(), Err: fmt.Errorf("release missing ocid on page %s", pageURL)}
		}
		payloads = append(payloads, RawPayload{
			SourceType:    c.Name(),
			LogicalKey:    ocid,
			Document:      rel,
			SchemaVersion: pkg.Version,
			FetchedAt:     fetched,
		})
	}

	return Page{
		Payloads:   payloads,
		NextCursor: pkg.Links.Next,
		Done:       pkg.Links.Next == "",
	}, nil
}
