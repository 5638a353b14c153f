// Package ingest – change detection.
//
// The detector classifies an incoming payload against the last known
// state for its logical key using the canonical content hash, and —
// after normalisation has succeeded — computes the field-level diff
// that alerting consumers actually read. The raw hash decides whether
// anything happened; the structured diff decides what.
package ingest

import (
	"context"
	"errors"
	"math"

	"gorm.io/gorm"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
	"github.com/jimjcranshaw/janet-contracts-project/internal/repo"
)

// valueChangePct is the relative delta below which a value revision is
// treated as noise (fee corrections, rounding) rather than a change
// worth surfacing in the diff detail.
const valueChangePct = 0.10

// Detector classifies deltas for logical keys.
type Detector struct {
	db *gorm.DB
}

// NewDetector constructs a Detector over the given database handle.
func NewDetector(db *gorm.DB) *Detector {
	return &Detector{db: db}
}

// Classify compares newHash against the last payload for logicalKey
// that completed the pipeline. Rows that were quarantined or failed
// mid-pipeline never become the comparison baseline, so a refetch of
// their content is re-attempted rather than short-circuited.
// releaseID is empty for payloads that carry no release (award feed).
//
// Outcomes:
//   - NEW: first sighting of the logical key.
//   - UNCHANGED: hash identical to the previous processed fetch, or an
//     exact resend of an already-stored release (out-of-order replay).
//   - ANOMALY: a stored release id resent with different content.
//   - MATERIAL_CHANGE: everything else; proceeds to normalisation.
func (d *Detector) Classify(ctx context.Context, logicalKey, releaseID, newHash string) (domain.ChangeKind, string, error) {
	prev, err := repo.LastProcessedRaw(ctx, d.db, logicalKey)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ChangeNew, "", nil
		}
		return "", "", err
	}

	if prev.ContentHash == newHash {
		return domain.ChangeUnchanged, prev.ContentHash, nil
	}

	if releaseID != "" {
		existing, err := repo.GetRelease(ctx, d.db, logicalKey, releaseID)
		switch {
		case err == nil:
			src, err := repo.GetRaw(ctx, d.db, existing.SourceRef)
			if err != nil {
				return "", "", err
			}
			if src.ContentHash == newHash {
				// The same immutable release replayed verbatim.
				return domain.ChangeUnchanged, prev.ContentHash, nil
			}
			return domain.ChangeAnomaly, prev.ContentHash, nil
		case errors.Is(err, repo.ErrNotFound):
			// fall through: a genuinely new release for this key
		default:
			return "", "", err
		}
	}

	return domain.ChangeMaterial, prev.ContentHash, nil
}

// DiffFields compares the previous compiled state against the new
// structured fields and returns the per-field diff recorded on the
// ChangeEvent. A nil previous state diffs everything present as new.
func DiffFields(prev *domain.CompiledRecord, next *ReleaseFields) map[string]interface{} {
	diff := map[string]interface{}{}
	if next == nil {
		return diff
	}
	if prev == nil {
		if next.ValueAmount != nil {
			diff["value"] = map[string]interface{}{"old": nil, "new": *next.ValueAmount}
		}
		if next.DeadlineDate != nil {
			diff["deadline"] = map[string]interface{}{"old": nil, "new": next.DeadlineDate.UTC()}
		}
		if next.Tag != "" {
			diff["tag"] = map[string]interface{}{"old": nil, "new": next.Tag}
		}
		return diff
	}

	if next.ValueAmount != nil {
		switch {
		case prev.ValueAmount == nil:
			diff["value"] = map[string]interface{}{"old": nil, "new": *next.ValueAmount}
		case *prev.ValueAmount != *next.ValueAmount:
			detail := map[string]interface{}{"old": *prev.ValueAmount, "new": *next.ValueAmount}
			if *prev.ValueAmount != 0 {
				pct := math.Abs(*next.ValueAmount-*prev.ValueAmount) / math.Abs(*prev.ValueAmount)
				detail["diff_pct"] = math.Round(pct*10000) / 100
				detail["significant"] = pct > valueChangePct
			}
			diff["value"] = detail
		}
	}

	if next.DeadlineDate != nil {
		switch {
		case prev.DeadlineDate == nil:
			diff["deadline"] = map[string]interface{}{"old": nil, "new": next.DeadlineDate.UTC()}
		case !prev.DeadlineDate.Equal(*next.DeadlineDate):
			diff["deadline"] = map[string]interface{}{"old": prev.DeadlineDate.UTC(), "new": next.DeadlineDate.UTC()}
		}
	}

	if next.Tag != "" && prev.Tag != next.Tag {
		diff["tag"] = map[string]interface{}{"old": prev.Tag, "new": next.Tag}
	}
	if next.Title != "" && prev.Title != next.Title {
		diff["title"] = map[string]interface{}{"old": prev.Title, "new": next.Title}
	}
	if next.Currency != "" && prev.ValueCurrency != "" && prev.ValueCurrency != next.Currency {
		diff["currency"] = map[string]interface{}{"old": prev.ValueCurrency, "new": next.Currency}
	}

	return diff
}
