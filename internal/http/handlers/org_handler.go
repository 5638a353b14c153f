// Organisation HTTP handlers.
//
// This file exposes REST endpoints over canonical buyers and suppliers:
//   - GET  /orgs?kind=buyer|supplier  (list canonical organisations)
//   - GET  /orgs/:id                  (org with aliases and identifiers)
//   - GET  /merge-candidates          (pending identity reviews)
//   - POST /merge-candidates/merge    (apply a reviewed merge)
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
	"github.com/jimjcranshaw/janet-contracts-project/internal/services"
)

// OrgService defines the organisation read and merge operations consumed
// by HTTP handlers.
type OrgService interface {
	Org(ctx context.Context, id string) (*services.OrgDetail, error)
	Orgs(ctx context.Context, kind string) ([]domain.Org, error)
	MergeCandidates(ctx context.Context, status string, page, pageSize int) ([]domain.MergeCandidate, error)
	Merge(ctx context.Context, kind, primaryID, secondaryID string) error
}

// MergeRequest is the JSON payload for applying a reviewed merge.
type MergeRequest struct {
	Kind        string `json:"kind" binding:"required"`
	PrimaryID   string `json:"primary_id" binding:"required"`
	SecondaryID string `json:"secondary_id" binding:"required"`
}

// ListOrgs handles GET /orgs?kind=.
func (h *Handlers) ListOrgs(c *gin.Context) {
	kind := c.DefaultQuery("kind", "buyer")
	items, err := h.orgs.Orgs(c.Request.Context(), kind)
	if err != nil {
		if errors.Is(err, services.ErrInvalidKind) {
			fail(c, http.StatusBadRequest, ErrCodeInvalidKind, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list organisations")
		return
	}
	ok(c, http.StatusOK, gin.H{"orgs": items})
}

// GetOrg handles GET /orgs/:id.
func (h *Handlers) GetOrg(c *gin.Context) {
	detail, err := h.orgs.Org(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrOrgNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "organisation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load organisation")
		return
	}
	ok(c, http.StatusOK, detail)
}

// ListMergeCandidates handles GET /merge-candidates?status=.
func (h *Handlers) ListMergeCandidates(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, err := h.orgs.MergeCandidates(c.Request.Context(), c.Query("status"), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list merge candidates")
		return
	}
	ok(c, http.StatusOK, gin.H{"candidates": items})
}

// MergeOrgs handles POST /merge-candidates/merge.
func (h *Handlers) MergeOrgs(c *gin.Context) {
	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "kind, primary_id and secondary_id are required")
		return
	}
	if req.PrimaryID == req.SecondaryID {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cannot merge an organisation into itself")
		return
	}

	err := h.orgs.Merge(c.Request.Context(), req.Kind, req.PrimaryID, req.SecondaryID)
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrInvalidKind):
		fail(c, http.StatusBadRequest, ErrCodeInvalidKind, err.Error())
	case errors.Is(err, services.ErrOrgNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "organisation not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeMergeFailed, "merge failed")
	}
}
