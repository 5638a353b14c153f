// Package ingest – canonical identity resolution.
//
// Resolution order is strictly: strong external identifier, then known
// alias, then fuzzy name similarity. Fuzzy matching binds only above a
// high-confidence threshold; the mid band records a merge candidate for
// manual review instead, because merging canonical entities is
// irreversible and wrong merges poison every downstream consumer.
package ingest

import (
	"context"
	"errors"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"gorm.io/gorm"

	"github.com/jimjcranshaw/janet-contracts-project/internal/domain"
	"github.com/jimjcranshaw/janet-contracts-project/internal/repo"
)

// ResolverConfig carries the similarity thresholds. These are tunable
// policy, not constants: the right values depend on the corpus and are
// expected to be adjusted from the confidence-distribution signal.
type ResolverConfig struct {
	// BindThreshold is the similarity at or above which an observation
	// is attached to an existing canonical org as a new alias.
	BindThreshold float64
	// CandidateThreshold is the floor of the review band: scores in
	// [CandidateThreshold, BindThreshold) create a new org plus a merge
	// candidate against the near miss.
	CandidateThreshold float64
	// TieMargin is how close the top two fuzzy scores must be to count
	// as a tie between existing orgs.
	TieMargin float64
}

// DefaultResolverConfig returns the shipped thresholds.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{BindThreshold: 0.93, CandidateThreshold: 0.85, TieMargin: 0.02}
}

// Resolution is the outcome of resolving one observed organisation.
type Resolution struct {
	OrgID      string
	Method     domain.ResolutionMethod
	Confidence float64
}

// Resolver assigns or reuses canonical buyer/supplier identities.
type Resolver struct {
	db  *gorm.DB
	cfg ResolverConfig
	jw  *metrics.JaroWinkler
}

// NewResolver constructs a Resolver.
func NewResolver(db *gorm.DB, cfg ResolverConfig) *Resolver {
	return &Resolver{db: db, cfg: cfg, jw: metrics.NewJaroWinkler()}
}

// Resolve maps an observed organisation to a canonical id, creating a
// new canonical entity when nothing matches confidently. Every
// resolution, including low-confidence ones, is recorded in the audit
// log with its score.
func (r *Resolver) Resolve(ctx context.Context, kind domain.OrgKind, obs *ObservedOrg) (Resolution, error) {
	res, err := r.resolveOnce(ctx, kind, obs)
	if err == nil || !errors.Is(err, repo.ErrDuplicate) {
		return res, err
	}
	// A concurrent first-sighting won the insert race; the alias or
	// identifier now exists, so a second pass resolves against it.
	return r.resolveOnce(ctx, kind, obs)
}

func (r *Resolver) resolveOnce(ctx context.Context, kind domain.OrgKind, obs *ObservedOrg) (Resolution, error) {
	if obs == nil || strings.TrimSpace(obs.Name) == "" {
		return Resolution{}, errors.New("observed org has no name")
	}
	norm := NormaliseOrgName(obs.Name)

	// (1) Strong external identifier: highest confidence, always wins.
	for _, ident := range obs.Identifiers {
		org, err := repo.FindOrgByIdentifier(ctx, r.db, kind, ident.Scheme, ident.Value)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return Resolution{}, err
		}
		if err := r.attachObservation(ctx, org, kind, obs, norm); err != nil {
			return Resolution{}, err
		}
		return r.finish(ctx, kind, org.ID, obs.Name, domain.ResolveIdentifier, 1.0)
	}

	// (2) Known alias.
	org, err := repo.FindOrgByAlias(ctx, r.db, kind, norm)
	if err == nil {
		if err := r.attachIdentifiers(ctx, org.ID, kind, obs); err != nil {
			return Resolution{}, err
		}
		return r.finish(ctx, kind, org.ID, obs.Name, domain.ResolveAlias, 0.99)
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return Resolution{}, err
	}

	// (3) Fuzzy name + address similarity.
	best, second, err := r.fuzzyCandidates(ctx, kind, obs, norm)
	if err != nil {
		return Resolution{}, err
	}

	if best.org != nil && best.score >= r.cfg.BindThreshold {
		if second.org != nil && best.score-second.score <= r.cfg.TieMargin {
			// Two existing canonicals at comparable confidence: defer.
			if err := repo.RecordMergeCandidate(ctx, r.db, kind, best.org.ID, second.org.ID, obs.Name, best.score, map[string]interface{}{
				"primary_score":   best.score,
				"secondary_score": second.score,
			}); err != nil {
				return Resolution{}, err
			}
			return r.createNew(ctx, kind, obs, norm, best.score)
		}
		if err := repo.AddAlias(ctx, r.db, best.org.ID, kind, obs.Name, norm); err != nil {
			return Resolution{}, err
		}
		if err := r.attachIdentifiers(ctx, best.org.ID, kind, obs); err != nil {
			return Resolution{}, err
		}
		return r.finish(ctx, kind, best.org.ID, obs.Name, domain.ResolveFuzzy, best.score)
	}

	if best.org != nil && best.score >= r.cfg.CandidateThreshold {
		res, err := r.createNew(ctx, kind, obs, norm, best.score)
		if err != nil {
			return Resolution{}, err
		}
		if err := repo.RecordMergeCandidate(ctx, r.db, kind, best.org.ID, res.OrgID, obs.Name, best.score, map[string]interface{}{
			"band": "candidate",
		}); err != nil {
			return Resolution{}, err
		}
		return res, nil
	}

	score := 0.0
	if best.org != nil {
		score = best.score
	}
	return r.createNew(ctx, kind, obs, norm, score)
}

type scoredOrg struct {
	org   *domain.Org
	score float64
}

// fuzzyCandidates scans the canonical orgs of a kind and returns the
// two highest-scoring candidates. Scores are Jaro-Winkler similarity on
// normalised names with a small bonus for postcode agreement.
func (r *Resolver) fuzzyCandidates(ctx context.Context, kind domain.OrgKind, obs *ObservedOrg, norm string) (best, second scoredOrg, err error) {
	orgs, err := repo.ListOrgsByKind(ctx, r.db, kind)
	if err != nil {
		return best, second, err
	}
	for i := range orgs {
		o := &orgs[i]
		score := strutil.Similarity(norm, NormaliseOrgName(o.CanonicalName), r.jw)
		if obs.Postcode != "" && o.Postcode != "" &&
			normalisePostcode(obs.Postcode) == normalisePostcode(o.Postcode) {
			score += 0.03
			if score > 1.0 {
				score = 1.0
			}
		}
		switch {
		case score > best.score:
			second = best
			best = scoredOrg{org: o, score: score}
		case score > second.score:
			second = scoredOrg{org: o, score: score}
		}
	}
	return best, second, nil
}

// createNew inserts a fresh canonical org with the observation as its
// first alias. A lost insert race surfaces as repo.ErrDuplicate, which
// Resolve turns into a re-resolution.
func (r *Resolver) createNew(ctx context.Context, kind domain.OrgKind, obs *ObservedOrg, norm string, nearestScore float64) (Resolution, error) {
	org := &domain.Org{
		Kind:          kind,
		CanonicalName: strings.TrimSpace(obs.Name),
		Slug:          norm,
		Locality:      obs.Locality,
		Region:        NormaliseRegion(obs.Region),
		Postcode:      normalisePostcode(obs.Postcode),
		Country:       obs.Country,
	}
	if err := repo.CreateOrg(ctx, r.db, org, obs.Name, norm); err != nil {
		return Resolution{}, err
	}
	if err := r.attachIdentifiers(ctx, org.ID, kind, obs); err != nil {
		return Resolution{}, err
	}
	return r.finish(ctx, kind, org.ID, obs.Name, domain.ResolveNew, nearestScore)
}

// attachObservation adds the observed alias and identifiers to an org
// matched by a strong identifier, ignoring already-bound duplicates.
func (r *Resolver) attachObservation(ctx context.Context, org *domain.Org, kind domain.OrgKind, obs *ObservedOrg, norm string) error {
	if err := repo.AddAlias(ctx, r.db, org.ID, kind, obs.Name, norm); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		return err
	}
	return r.attachIdentifiers(ctx, org.ID, kind, obs)
}

func (r *Resolver) attachIdentifiers(ctx context.Context, orgID string, kind domain.OrgKind, obs *ObservedOrg) error {
	for _, ident := range obs.Identifiers {
		err := repo.AddIdentifier(ctx, r.db, orgID, kind, ident.Scheme, ident.Value)
		if err != nil && !errors.Is(err, repo.ErrDuplicate) {
			return err
		}
	}
	return nil
}

func (r *Resolver) finish(ctx context.Context, kind domain.OrgKind, orgID, observedName string, method domain.ResolutionMethod, confidence float64) (Resolution, error) {
	if err := repo.RecordResolution(ctx, r.db, kind, orgID, observedName, method, confidence); err != nil {
		return Resolution{}, err
	}
	resolverConfidence.WithLabelValues(string(kind), string(method)).Observe(confidence)
	return Resolution{OrgID: orgID, Method: method, Confidence: confidence}, nil
}

// legal-form suffixes collapse so "Acme Care Ltd" and "ACME CARE
// LIMITED" normalise identically.
var legalFormReplacer = strings.NewReplacer(
	" limited", " ltd",
	" incorporated", " inc",
	" public limited company", " plc",
	" community interest company", " cic",
	" charitable incorporated organisation", " cio",
)

// NormaliseOrgName lowercases, strips punctuation, collapses legal-form
// suffixes and whitespace. This is the alias key, so it must be stable:
// changing it orphans existing alias rows.
func NormaliseOrgName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		case r == '&':
			b.WriteString(" and ")
		default:
			b.WriteByte(' ')
		}
	}
	s = strings.Join(strings.Fields(b.String()), " ")
	s = legalFormReplacer.Replace(s + " ")
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}

func normalisePostcode(pc string) string {
	return strings.ToUpper(strings.Join(strings.Fields(pc), ""))
}
