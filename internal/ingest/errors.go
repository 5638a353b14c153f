// Package ingest implements the ingestion pipeline: source connectors,
// canonical content hashing, change detection, the versioned
// normaliser, identity resolution, and the orchestrator that sequences
// them. This file centralises the error taxonomy so the orchestrator
// can decide, per error, whether to retry, skip, quarantine, or fail
// the run.
package ingest

import (
	"errors"
	"fmt"
)

// RetryableFetchError wraps a transient upstream failure (network
// error, 5xx, rate limit). The orchestrator retries the fetch with
// exponential backoff up to the configured attempt ceiling.
type RetryableFetchError struct {
	Source string
	Err    error
}

func (e *RetryableFetchError) Error() string {
	return fmt.Sprintf("%s: retryable fetch failure: %v", e.Source, e.Err)
}

func (e *RetryableFetchError) Unwrap() error { return e.Err }

// MalformedSourceError marks a page the connector could not parse at
// all. The page is skipped and logged; the run continues as PARTIAL.
type MalformedSourceError struct {
	Source string
	Err    error
}

func (e *MalformedSourceError) Error() string {
	return fmt.Sprintf("%s: malformed source page: %v", e.Source, e.Err)
}

func (e *MalformedSourceError) Unwrap() error { return e.Err }

// SchemaDriftError marks a payload missing a required field for its
// declared stage. The record is quarantined; the run continues.
type SchemaDriftError struct {
	Source     string
	LogicalKey string
	Field      string
}

func (e *SchemaDriftError) Error() string {
	return fmt.Sprintf("%s: %s: required field %q missing", e.Source, e.LogicalKey, e.Field)
}

// UnsupportedSchemaVersionError marks a payload whose declared format
// version has no registered mapper. Partial parsing of an unknown
// schema is worse than no parsing, so the record is quarantined whole
// pending manual mapper authoring.
type UnsupportedSchemaVersionError struct {
	Source  string
	Version string
}

func (e *UnsupportedSchemaVersionError) Error() string {
	return fmt.Sprintf("%s: no mapper registered for schema version %q", e.Source, e.Version)
}

// AnomalyError marks a release id that was previously stored and has
// been resent with different content. The original is preserved and the
// resend is flagged, never applied.
type AnomalyError struct {
	OCID      string
	ReleaseID string
}

func (e *AnomalyError) Error() string {
	return fmt.Sprintf("release %s/%s resent with different content", e.OCID, e.ReleaseID)
}

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool {
	var r *RetryableFetchError
	return errors.As(err, &r)
}

// IsMalformed reports whether err is an unparseable page.
func IsMalformed(err error) bool {
	var m *MalformedSourceError
	return errors.As(err, &m)
}

// isAccounted reports whether a per-record failure nevertheless left a
// durable trace: a quarantine row or an anomaly change event. Only
// accounted failures may be checkpointed past; anything else must stay
// behind the cursor so the record is refetched.
func isAccounted(err error) bool {
	var drift *SchemaDriftError
	var ver *UnsupportedSchemaVersionError
	var anom *AnomalyError
	return errors.As(err, &drift) || errors.As(err, &ver) || errors.As(err, &anom)
}

// quarantineReason returns the reason string stored on the raw row for
// a per-record failure, or "" when the error does not quarantine.
func quarantineReason(err error) string {
	var drift *SchemaDriftError
	if errors.As(err, &drift) {
		return "schema_drift: " + drift.Error()
	}
	var ver *UnsupportedSchemaVersionError
	if errors.As(err, &ver) {
		return "unsupported_schema_version: " + ver.Error()
	}
	return ""
}
