// Package ingest – the versioned normaliser.
//
// Field mapping is versioned per source: each source registers an
// ordered list of mappers and a payload's declared format version
// selects the matching one. Unknown versions are quarantined whole
// rather than best-effort parsed. Unknown top-level fields are
// tolerated and kept in an overflow bag; only missing required fields
// (per source, per stage, configurable) are an error.
package ingest

import (
	"fmt"
	"strings"
	"time"
)

// ObservedIdentifier is an external org-id scheme/value pair as seen in
// a payload, e.g. {"GB-COH", "01234567"}.
type ObservedIdentifier struct {
	Scheme string
	Value  string
}

// ObservedOrg is a buyer or supplier observation prior to identity
// resolution.
type ObservedOrg struct {
	Name        string
	Identifiers []ObservedIdentifier
	Locality    string
	Region      string
	Postcode    string
	Country     string
}

// AwardFields is one extracted award.
type AwardFields struct {
	AwardID          string
	Supplier         *ObservedOrg
	ValueAmount      *float64
	Currency         string
	AwardDate        *time.Time
	StartDate        *time.Time
	EndDate          *time.Time
	ExtensionOptions string
	Status           string
}

// DocFields is one attachment reference found in a payload.
type DocFields struct {
	Title string
	URL   string
}

// ReleaseFields is the structured form of one release.
type ReleaseFields struct {
	OCID          string
	ReleaseID     string
	ReleaseDate   time.Time
	Tag           string
	Title         string
	Description   string
	DeadlineDate  *time.Time
	ValueAmount   *float64
	Currency      string
	Method        string
	CPVCodes      []string
	Region        string
	RegionRaw     string
	Overflow      map[string]interface{}
}

// Normalised is the output of mapping one raw payload.
type Normalised struct {
	OCID      string
	Release   *ReleaseFields
	Buyer     *ObservedOrg
	Awards    []AwardFields
	Documents []DocFields
}

// Mapper converts one payload format version into the structured model.
type Mapper interface {
	// Version is the format version this mapper handles. A payload
	// matches when its declared version equals Version or extends it
	// with a further dotted component ("1.1" matches "1.1.5").
	Version() string
	// Map extracts structured fields. It must not fail on unknown
	// top-level fields; those go into the overflow bag.
	Map(p RawPayload) (*Normalised, error)
}

// Requirements lists required dotted field paths per stage tag. The
// empty-string key applies to every stage.
type Requirements map[string][]string

// Normaliser holds the per-source mapper registries and required-field
// tables.
type Normaliser struct {
	mappers  map[string][]Mapper
	required map[string]Requirements
	defaults map[string]string // source -> version assumed when the envelope declares none
}

// NewNormaliser builds a registry pre-loaded with the shipped mappers:
// OCDS 1.1 release packages (fts), OCDS 1.1 record packages (cf), and
// the 1.0 award feed. Required-field tables default per source and may
// be overridden via SetRequirements.
func NewNormaliser() *Normaliser {
	n := &Normaliser{
		mappers:  map[string][]Mapper{},
		required: map[string]Requirements{},
		defaults: map[string]string{},
	}

	n.Register("fts", &ocdsReleaseMapper{version: "1.1"}, "1.1")
	n.SetRequirements("fts", Requirements{
		"":       {"ocid", "id", "date"},
		"tender": {"tender.title"},
		"award":  {"awards"},
	})

	n.Register("cf", &ocdsRecordMapper{version: "1.1"}, "1.1")
	n.SetRequirements("cf", Requirements{
		"": {"ocid", "compiledRelease.id", "compiledRelease.date"},
	})

	n.Register("awards", &awardDocMapper{version: "1.0"}, "1.0")
	n.SetRequirements("awards", Requirements{
		"": {"ocid", "id"},
	})

	return n
}

// Register appends a mapper to a source's ordered list and records the
// version assumed when a payload declares none.
func (n *Normaliser) Register(source string, m Mapper, defaultVersion string) {
	n.mappers[source] = append(n.mappers[source], m)
	if defaultVersion != "" {
		n.defaults[source] = defaultVersion
	}
}

// SetRequirements replaces the required-field table for a source.
func (n *Normaliser) SetRequirements(source string, req Requirements) {
	n.required[source] = req
}

// Normalise maps a raw payload into the structured model. It returns
// *UnsupportedSchemaVersionError for an unknown format version and
// *SchemaDriftError when a required field for the payload's stage is
// absent.
func (n *Normaliser) Normalise(p RawPayload) (*Normalised, error) {
	version := p.SchemaVersion
	if version == "" {
		version = n.defaults[p.SourceType]
	}

	var mapper Mapper
	for _, m := range n.mappers[p.SourceType] {
		if versionMatches(m.Version(), version) {
			mapper = m
			break
		}
	}
	if mapper == nil {
		return nil, &UnsupportedSchemaVersionError{Source: p.SourceType, Version: version}
	}

	if err := n.checkRequired(p); err != nil {
		return nil, err
	}
	return mapper.Map(p)
}

// checkRequired verifies the stage-independent and stage-specific
// required paths for the payload.
func (n *Normaliser) checkRequired(p RawPayload) error {
	req, ok := n.required[p.SourceType]
	if !ok {
		return nil
	}
	stage := firstTag(p.Document)
	paths := append(append([]string{}, req[""]...), req[stage]...)
	for _, path := range paths {
		if lookupPath(p.Document, path) == nil {
			return &SchemaDriftError{Source: p.SourceType, LogicalKey: p.LogicalKey, Field: path}
		}
	}
	return nil
}

// versionMatches reports whether declared equals registered or extends
// it with a further dotted component.
func versionMatches(registered, declared string) bool {
	return declared == registered || strings.HasPrefix(declared, registered+".")
}

// ---- OCDS release mapper (fts) ----

// ocdsReleaseKnownKeys are the top-level release keys the 1.1 mapper
// consumes. Everything else lands in the overflow bag.
var ocdsReleaseKnownKeys = map[string]bool{
	"ocid": true, "id": true, "date": true, "tag": true, "language": true,
	"initiationType": true, "tender": true, "buyer": true, "awards": true,
	"parties": true, "planning": true, "contracts": true,
}

type ocdsReleaseMapper struct {
	version string
}

func (m *ocdsReleaseMapper) Version() string { return m.version }

func (m *ocdsReleaseMapper) Map(p RawPayload) (*Normalised, error) {
	return mapOCDSRelease(p.Document, p.SourceType)
}

// mapOCDSRelease maps an OCDS release body. Shared between the release
// and record mappers.
func mapOCDSRelease(doc map[string]interface{}, source string) (*Normalised, error) {
	ocid := getString(doc, "ocid")
	releaseID := getString(doc, "id")
	releaseDate, err := parseOCDSTime(getString(doc, "date"))
	if err != nil {
		return nil, &SchemaDriftError{Source: source, LogicalKey: ocid, Field: "date"}
	}

	tender, _ := doc["tender"].(map[string]interface{})

	rel := &ReleaseFields{
		OCID:        ocid,
		ReleaseID:   releaseID,
		ReleaseDate: releaseDate,
		Tag:         firstTag(doc),
		Title:       getString(tender, "title"),
		Description: getString(tender, "description"),
		Method:      getString(tender, "procurementMethod"),
		Currency:    "GBP",
		Overflow:    collectOverflow(doc, ocdsReleaseKnownKeys),
	}

	if v, ok := lookupPath(doc, "tender.value.amount").(float64); ok {
		rel.ValueAmount = &v
	}
	if cur := getString(doc, "tender.value.currency"); cur != "" {
		rel.Currency = cur
	}
	if dl, err := parseOCDSTime(getString(doc, "tender.tenderPeriod.endDate")); err == nil {
		rel.DeadlineDate = &dl
	}
	rel.CPVCodes = extractCPVCodes(tender)

	rel.RegionRaw = firstNonEmpty(
		getString(doc, "tender.deliveryAddresses"),
		getString(doc, "tender.items.deliveryLocation.description"),
		getString(doc, "tender.deliveryLocation"),
		regionFromItems(tender),
	)
	rel.Region = NormaliseRegion(rel.RegionRaw)

	out := &Normalised{OCID: ocid, Release: rel}

	if buyer, ok := doc["buyer"].(map[string]interface{}); ok {
		out.Buyer = mapObservedOrg(buyer)
	}
	if awards, ok := doc["awards"].([]interface{}); ok {
		for _, a := range awards {
			am, ok := a.(map[string]interface{})
			if !ok {
				continue
			}
			out.Awards = append(out.Awards, mapOCDSAward(am))
		}
	}
	if docs, ok := lookupPath(doc, "tender.documents").([]interface{}); ok {
		for _, d := range docs {
			dm, ok := d.(map[string]interface{})
			if !ok {
				continue
			}
			if u := getString(dm, "url"); u != "" {
				out.Documents = append(out.Documents, DocFields{Title: getString(dm, "title"), URL: u})
			}
		}
	}
	return out, nil
}

// ---- OCDS record mapper (cf) ----

type ocdsRecordMapper struct {
	version string
}

func (m *ocdsRecordMapper) Version() string { return m.version }

func (m *ocdsRecordMapper) Map(p RawPayload) (*Normalised, error) {
	compiled, ok := p.Document["compiledRelease"].(map[string]interface{})
	if !ok {
		return nil, &SchemaDriftError{Source: p.SourceType, LogicalKey: p.LogicalKey, Field: "compiledRelease"}
	}
	if _, present := compiled["ocid"]; !present {
		// Records keep the ocid on the envelope; copy it down so the
		// shared mapping sees one shape.
		compiled["ocid"] = p.Document["ocid"]
	}
	return mapOCDSRelease(compiled, p.SourceType)
}

// ---- award feed mapper ----

type awardDocMapper struct {
	version string
}

func (m *awardDocMapper) Version() string { return m.version }

func (m *awardDocMapper) Map(p RawPayload) (*Normalised, error) {
	doc := p.Document
	award := mapOCDSAward(doc)
	out := &Normalised{
		OCID:   getString(doc, "ocid"),
		Awards: []AwardFields{award},
	}
	if buyer, ok := doc["buyer"].(map[string]interface{}); ok {
		out.Buyer = mapObservedOrg(buyer)
	}
	return out, nil
}

// ---- shared field helpers ----

func mapOCDSAward(am map[string]interface{}) AwardFields {
	a := AwardFields{
		AwardID:  getString(am, "id"),
		Currency: "GBP",
		Status:   getString(am, "status"),
	}
	if v, ok := lookupPath(am, "value.amount").(float64); ok {
		a.ValueAmount = &v
	}
	if cur := getString(am, "value.currency"); cur != "" {
		a.Currency = cur
	}
	if d, err := parseOCDSTime(getString(am, "date")); err == nil {
		a.AwardDate = &d
	}
	if d, err := parseOCDSTime(getString(am, "contractPeriod.startDate")); err == nil {
		a.StartDate = &d
	}
	if d, err := parseOCDSTime(getString(am, "contractPeriod.endDate")); err == nil {
		a.EndDate = &d
	}
	a.ExtensionOptions = getString(am, "contractPeriod.extensionOptions")

	if suppliers, ok := am["suppliers"].([]interface{}); ok && len(suppliers) > 0 {
		if sm, ok := suppliers[0].(map[string]interface{}); ok {
			a.Supplier = mapObservedOrg(sm)
		}
	}
	return a
}

func mapObservedOrg(om map[string]interface{}) *ObservedOrg {
	o := &ObservedOrg{
		Name:     getString(om, "name"),
		Locality: getString(om, "address.locality"),
		Region:   getString(om, "address.region"),
		Postcode: getString(om, "address.postalCode"),
		Country:  getString(om, "address.countryName"),
	}
	if ident, ok := om["identifier"].(map[string]interface{}); ok {
		if id := identifierFrom(ident); id != nil {
			o.Identifiers = append(o.Identifiers, *id)
		}
	}
	if extra, ok := om["additionalIdentifiers"].([]interface{}); ok {
		for _, e := range extra {
			em, ok := e.(map[string]interface{})
			if !ok {
				continue
			}
			if id := identifierFrom(em); id != nil {
				o.Identifiers = append(o.Identifiers, *id)
			}
		}
	}
	return o
}

func identifierFrom(m map[string]interface{}) *ObservedIdentifier {
	scheme := getString(m, "scheme")
	value := firstNonEmpty(getString(m, "id"), getString(m, "legalName"))
	if scheme == "" || value == "" {
		return nil
	}
	return &ObservedIdentifier{Scheme: scheme, Value: value}
}

func extractCPVCodes(tender map[string]interface{}) []string {
	items, ok := tender["items"].([]interface{})
	if !ok {
		return nil
	}
	var codes []string
	for _, it := range items {
		im, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		if code := getString(im, "classification.id"); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

func regionFromItems(tender map[string]interface{}) string {
	items, ok := tender["items"].([]interface{})
	if !ok {
		return ""
	}
	for _, it := range items {
		im, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		if r := firstNonEmpty(
			getString(im, "deliveryLocation.description"),
			getString(im, "deliveryAddresses.region"),
			getString(im, "deliveryLocation.nuts"),
		); r != "" {
			return r
		}
	}
	return ""
}

// collectOverflow returns the top-level entries not consumed by the
// mapper, so schema additions survive until a mapper version learns
// about them.
func collectOverflow(doc map[string]interface{}, known map[string]bool) map[string]interface{} {
	var out map[string]interface{}
	for k, v := range doc {
		if known[k] {
			continue
		}
		if out == nil {
			out = map[string]interface{}{}
		}
		out[k] = v
	}
	return out
}

// firstTag returns the first entry of a release's tag list, covering
// both the decoded-JSON and pre-built forms.
func firstTag(doc map[string]interface{}) string {
	switch t := doc["tag"].(type) {
	case []interface{}:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	case []string:
		if len(t) > 0 {
			return t[0]
		}
	case string:
		return t
	}
	return ""
}

// lookupPath walks a dotted path through nested maps, descending into
// the first element of any intermediate list. Returns nil when any
// segment is absent.
func lookupPath(doc map[string]interface{}, path string) interface{} {
	var cur interface{} = doc
	for _, seg := range strings.Split(path, ".") {
		if list, ok := cur.([]interface{}); ok {
			if len(list) == 0 {
				return nil
			}
			cur = list[0]
		}
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

func getString(doc map[string]interface{}, path string) string {
	if doc == nil {
		return ""
	}
	if s, ok := lookupPath(doc, path).(string); ok {
		return s
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseOCDSTime parses the timestamp formats the feeds emit.
func parseOCDSTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
