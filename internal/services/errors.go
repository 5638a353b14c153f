// Package services defines the read-side business logic over the ingested
// procurement data: notice and award queries, organisation lookups, the
// change feed, and pipeline status. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

var (
	// ErrNoticeNotFound indicates that no compiled record exists for the
	// requested contracting process.
	ErrNoticeNotFound = errors.New("notice not found")

	// ErrOrgNotFound indicates that the requested organisation does not
	// exist or has been merged away without a forwarding record.
	ErrOrgNotFound = errors.New("organisation not found")

	// ErrConnectorNotFound is returned when a status or trigger request
	// names a connector that is not configured.
	ErrConnectorNotFound = errors.New("connector not found")

	// ErrInvalidWindow is returned when a date-window query has its bounds
	// reversed or missing.
	ErrInvalidWindow = errors.New("window start must precede window end")

	// ErrInvalidKind is returned when an organisation kind is outside the
	// allowed set (buyer, supplier).
	ErrInvalidKind = errors.New("kind must be buyer or supplier")
)
