// Pipeline status HTTP handlers.
//
// This file exposes the job-ledger view:
//   - GET /status             (every configured connector)
//   - GET /status/:connector  (one connector's cursor, lag, recent runs)
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jimjcranshaw/janet-contracts-project/internal/services"
)

// StatusService reports ledger summaries per connector.
type StatusService interface {
	Status(ctx context.Context, connector string) (*services.ConnectorStatus, error)
	StatusAll(ctx context.Context) ([]services.ConnectorStatus, error)
}

// Handlers groups the HTTP endpoints for notices, organisations, and
// pipeline status. It depends on abstract service interfaces to keep
// transport concerns separate from business logic.
type Handlers struct {
	notices NoticeService
	orgs    OrgService
	status  StatusService
}

// New constructs a Handlers instance bound to the given services.
func New(notices NoticeService, orgs OrgService, status StatusService) *Handlers {
	return &Handlers{notices: notices, orgs: orgs, status: status}
}

// GetStatusAll handles GET /status.
func (h *Handlers) GetStatusAll(c *gin.Context) {
	items, err := h.status.StatusAll(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load pipeline status")
		return
	}
	ok(c, http.StatusOK, gin.H{"connectors": items})
}

// GetStatus handles GET /status/:connector.
func (h *Handlers) GetStatus(c *gin.Context) {
	st, err := h.status.Status(c.Request.Context(), c.Param("connector"))
	if err != nil {
		if errors.Is(err, services.ErrConnectorNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "connector not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load connector status")
		return
	}
	ok(c, http.StatusOK, st)
}
