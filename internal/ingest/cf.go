// Package ingest – Contracts Finder connector.
//
// Contracts Finder publishes OCDS record packages: one record per
// contracting process carrying a compiledRelease. The logical key is
// the ocid, and the hashed document is the record itself, so successive
// pulls of the same process diff cleanly.
package ingest

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// recordPackage is the OCDS record-package envelope.
type recordPackage struct {
	Version string                   `json:"version"`
	Records []map[string]interface{} `json:"records"`
	Links   struct {
		Next string `json:"next"`
	} `json:"links"`
}

// CFConnector pulls OCDS record packages from Contracts Finder.
type CFConnector struct {
	base      string
	startFrom time.Time
	client    *upstreamClient
	now       func() time.Time
}

// CFOptions configures the Contracts Finder connector.
type CFOptions struct {
	BaseURL   string
	StartFrom time.Time
	Timeout   time.Duration
	RPS       float64
	Burst     int
}

// NewCFConnector constructs the Contracts Finder connector.
func NewCFConnector(opts CFOptions) *CFConnector {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RPS <= 0 {
		opts.RPS = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 2
	}
	return &CFConnector{
		base:      opts.BaseURL,
		startFrom: opts.StartFrom,
		client:    newUpstreamClient("cf", opts.Timeout, opts.RPS, opts.Burst),
		now:       time.Now,
	}
}

// Name implements Connector.
func (c *CFConnector) Name() string { return "cf" }

// Capabilities implements Connector.
func (c *CFConnector) Capabilities() Capabilities {
	return Capabilities{SupportsIncrementalCursor: true, SupportsFullResync: true}
}

// Fetch implements Connector.
func (c *CFConnector) Fetch(ctx context.Context, cursor string) (Page, error) {
	pageURL := cursor
	if pageURL == "" {
		pageURL = fmt.Sprintf("%s?publishedFrom=%s", c.base,
			url.QueryEscape(c.startFrom.UTC().Format("2006-01-02T15:04:05Z")))
	}

	var pkg recordPackage
	if err := c.client.getJSON(ctx, pageURL, &pkg); err != nil {
		return Page{}, err
	}

	fetched := c.now().UTC()
	payloads := make([]RawPayload, 0, len(pkg.Records))
	for _, rec := range pkg.Records {
		ocid, _ := rec["ocid"].(string)
		if ocid == "" {
			return Page{}, &MalformedSourceError{Source: c.Name(), Err: fmt.Errorf("record missing ocid on page %s", pageURL)}
		}
		payloads = append(payloads, RawPayload{
			SourceType:    c.Name(),
			LogicalKey:    ocid,
			Document:      rec,
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
