// Notice HTTP handlers.
//
// This file exposes REST endpoints over the compiled procurement data:
//   - GET /notices                    (by buyer + publication window, paginated)
//   - GET /notices/:ocid              (compiled record)
//   - GET /notices/:ocid/releases     (full release history)
//   - GET /notices/:ocid/awards       (awards for a process)
//   - GET /awards/ending              (contracts approaching end date)
//   - GET /changes                    (change feed since a timestamp)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
	"github.com/jimjcranshaw/janet-contracts-project/internal/repo"
	"github.com/jimjcranshaw/janet-contracts-project/internal/services"
	"github.com/jimjcranshaw/janet-contracts-project/internal/utils"
)

//
// Service contracts (context-aware)
//

// NoticeService defines the read operations over compiled notices,
// releases, awards, and the change feed consumed by HTTP handlers.
// Implementations must be safe for concurrent use and honor the provided
// context for cancellation.
type NoticeService interface {
	NoticesByBuyer(ctx context.Context, buyerID string, from, to time.Time, page, pageSize int) ([]domain.CompiledRecord, int64, error)
	Notice(ctx context.Context, ocid string) (*domain.CompiledRecord, error)
	Releases(ctx context.Context, ocid string) ([]domain.ReleaseRecord, error)
	Awards(ctx context.Context, ocid string) ([]domain.ContractAward, error)
	AwardsEnding(ctx context.Context, from, to time.Time, page, pageSize int) ([]domain.ContractAward, error)
	ChangesSince(ctx context.Context, since time.Time, f repo.ChangeFilter, page, pageSize int) ([]domain.ChangeEvent, error)
	Quarantine(ctx context.Context, page, pageSize int) ([]domain.RawNotice, int64, error)
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListNoticesResponse wraps a page of compiled records.
type ListNoticesResponse struct {
	Notices    []domain.CompiledRecord `json:"notices"`
	Pagination Pagination              `json:"pagination"`
}

// ListQuarantineResponse wraps a page of quarantined raw payloads.
type ListQuarantineResponse struct {
	Items      []domain.RawNotice `json:"items"`
	Pagination Pagination         `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func paginationMeta(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Endpoints
//

// ListNotices handles GET /notices?buyer_id=&from=&to=&page=&page_size=.
// The window defaults to the last 30 days.
func (h *Handlers) ListNotices(c *gin.Context) {
	buyerID := c.Query("buyer_id")
	if buyerID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "buyer_id is required")
		return
	}
	now := time.Now().UTC()
	from := utils.ParseDayDefault(c.Query("from"), now.AddDate(0, 0, -30))
	to := utils.ParseDayDefault(c.Query("to"), now.AddDate(0, 0, 1))
	page, pageSize := clampPagination(c)

	items, total, err := h.notices.NoticesByBuyer(c.Request.Context(), buyerID, from, to, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrInvalidWindow) {
			fail(c, http.StatusBadRequest, ErrCodeInvalidWindow, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list notices")
		return
	}
	ok(c, http.StatusOK, ListNoticesResponse{
		Notices:    items,
		Pagination: paginationMeta(page, pageSize, total),
	})
}

// GetNotice handles GET /notices/:ocid.
func (h *Handlers) GetNotice(c *gin.Context) {
	rec, err := h.notices.Notice(c.Request.Context(), c.Param("ocid"))
	if err != nil {
		if errors.Is(err, services.ErrNoticeNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "notice not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load notice")
		return
	}
	ok(c, http.StatusOK, rec)
}

// ListReleases handles GET /notices/:ocid/releases.
func (h *Handlers) ListReleases(c *gin.Context) {
	items, err := h.notices.Releases(c.Request.Context(), c.Param("ocid"))
	if err != nil {
		if errors.Is(err, services.ErrNoticeNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "notice not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list releases")
		return
	}
	ok(c, http.StatusOK, gin.H{"releases": items})
}

// ListAwards handles GET /notices/:ocid/awards.
func (h *Handlers) ListAwards(c *gin.Context) {
	items, err := h.notices.Awards(c.Request.Context(), c.Param("ocid"))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list awards")
		return
	}
	ok(c, http.StatusOK, gin.H{"awards": items})
}

// ListAwardsEnding handles GET /awards/ending?from=&to=. The window
// defaults to the next 90 days, which is the usual renewal horizon.
func (h *Handlers) ListAwardsEnding(c *gin.Context) {
	now := time.Now().UTC()
	from := utils.ParseDayDefault(c.Query("from"), now)
	to := utils.ParseDayDefault(c.Query("to"), now.AddDate(0, 3, 0))
	page, pageSize := clampPagination(c)

	items, err := h.notices.AwardsEnding(c.Request.Context(), from, to, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrInvalidWindow) {
			fail(c, http.StatusBadRequest, ErrCodeInvalidWindow, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list ending awards")
		return
	}
	ok(c, http.StatusOK, gin.H{"awards": items})
}

// ListChanges handles GET /changes?since=&ocid=&buyer_id=&kind=.
// since defaults to the last 24 hours.
func (h *Handlers) ListChanges(c *gin.Context) {
	since := utils.ParseDayDefault(c.Query("since"), time.Now().UTC().Add(-24*time.Hour))
	f := repo.ChangeFilter{
		LogicalKey: c.Query("logical_key"),
		OCID:       c.Query("ocid"),
		BuyerID:    c.Query("buyer_id"),
		Kind:       domain.ChangeKind(c.Query("kind")),
	}
	page, pageSize := clampPagination(c)

	items, err := h.notices.ChangesSince(c.Request.Context(), since, f, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list changes")
		return
	}
	ok(c, http.StatusOK, gin.H{"changes": items, "since": since})
}

// ListQuarantine handles GET /quarantine.
func (h *Handlers) ListQuarantine(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.notices.Quarantine(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not list quarantine")
		return
	}
	ok(c, http.StatusOK, ListQuarantineResponse{
		Items:      items,
		Pagination: paginationMeta(page, pageSize, total),
	})
}
