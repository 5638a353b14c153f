// Package ingest – attachment fetcher.
//
// Attachments referenced by notices are pulled out of band: the record
// pipeline only writes DocumentRef rows, and this worker drains the
// pending queue into the blob store. A failed download marks the row
// failed rather than blocking the queue.
package ingest

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/jimjcranshaw/janet-contracts-project/internal/docstore"
	"github.com/jimjcranshaw/janet-contracts-project/internal/repo"
)

// DocFetcher downloads pending attachments into the document store.
type DocFetcher struct {
	db     *gorm.DB
	store  docstore.Store
	client *http.Client
	log    zerolog.Logger
}

// NewDocFetcher constructs a DocFetcher.
func NewDocFetcher(db *gorm.DB, store docstore.Store, timeout time.Duration, logger zerolog.Logger) *DocFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &DocFetcher{
		db:     db,
		store:  store,
		client: &http.Client{Timeout: timeout},
		log:    logger,
	}
}

// FetchPending drains up to limit pending references and returns how
// many were stored. Per-document failures are recorded and skipped.
func (f *DocFetcher) FetchPending(ctx context.Context, limit int) (int, error) {
	docs, err := repo.ListPendingDocuments(ctx, f.db, limit)
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		if err := f.fetchOne(ctx, d.ID, d.OCID, d.SourceURL); err != nil {
			f.log.Warn().Err(err).Str("url", d.SourceURL).Msg("attachment fetch failed")
			if merr := repo.MarkDocumentStored(ctx, f.db, d.ID, "", "", "failed"); merr != nil {
				return stored, merr
			}
			continue
		}
		stored++
	}
	return stored, nil
}

func (f *DocFetcher) fetchOne(ctx context.Context, id, ocid, sourceURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, sourceURL)
	}

	uri, hash, err := f.store.Put(ctx, ocid, path.Base(req.URL.Path), resp.Body)
	if err != nil {
		return err
	}
	return repo.MarkDocumentStored(ctx, f.db, id, uri, hash, "stored")
}
