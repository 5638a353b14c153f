// Package ingest – location normalisation.
//
// Delivery locations arrive as free text ("Yorkshire and the Humber",
// "UKD - North West (England)", NUTS codes) and are normalised to a
// controlled UK region vocabulary. The raw string is always retained
// alongside the normalised value; an unrecognised location maps to
// "unclassified" rather than being dropped.
package ingest

import "strings"

// Controlled region vocabulary. Values are stable identifiers that
// downstream geography filters key on; the mapping table is versioned
// policy, extended rather than edited.
const (
	RegionLondon        = "london"
	RegionSouthEast     = "south-east"
	RegionSouthWest     = "south-west"
	RegionEastMidlands  = "east-midlands"
	RegionWestMidlands  = "west-midlands"
	RegionNorthEast     = "north-east"
	RegionNorthWest     = "north-west"
	RegionYorkshire     = "yorkshire-humber"
	RegionEastOfEngland = "east-of-england"
	RegionScotland      = "scotland"
	RegionWales         = "wales"
	RegionNorthernIre   = "northern-ireland"
	RegionUKWide        = "uk-wide"
	RegionUnclassified  = "unclassified"
)

// regionSynonyms maps normalised raw strings (and NUTS1 prefixes) onto
// the controlled vocabulary.
var regionSynonyms = map[string]string{
	"london":                       RegionLondon,
	"greater london":               RegionLondon,
	"uki":                          RegionLondon,
	"south east":                   RegionSouthEast,
	"south east england":           RegionSouthEast,
	"ukj":                          RegionSouthEast,
	"south west":                   RegionSouthWest,
	"south west england":           RegionSouthWest,
	"ukk":                          RegionSouthWest,
	"east midlands":                RegionEastMidlands,
	"ukf":                          RegionEastMidlands,
	"west midlands":                RegionWestMidlands,
	"ukg":                          RegionWestMidlands,
	"north east":                   RegionNorthEast,
	"north east england":           RegionNorthEast,
	"ukc":                          RegionNorthEast,
	"north west":                   RegionNorthWest,
	"north west england":           RegionNorthWest,
	"ukd":                          RegionNorthWest,
	"yorkshire and the humber":     RegionYorkshire,
	"yorkshire":                    RegionYorkshire,
	"uke":                          RegionYorkshire,
	"east of england":              RegionEastOfEngland,
	"east of england england":      RegionEastOfEngland,
	"ukh":                          RegionEastOfEngland,
	"scotland":                     RegionScotland,
	"ukm":                          RegionScotland,
	"wales":                        RegionWales,
	"ukl":                          RegionWales,
	"northern ireland":             RegionNorthernIre,
	"ukn":                          RegionNorthernIre,
	"united kingdom":               RegionUKWide,
	"uk":                           RegionUKWide,
	"uk wide":                      RegionUKWide,
	"throughout england and wales": RegionUKWide,
}

// regionSubstrings drives the fallback substring scan for long-form
// names embedded in free text. The scan order is fixed, most specific
// name first, so a string mentioning two regions always classifies the
// same way.
var regionSubstrings = []struct{ name, region string }{
	{"throughout england and wales", RegionUKWide},
	{"yorkshire and the humber", RegionYorkshire},
	{"northern ireland", RegionNorthernIre},
	{"east of england", RegionEastOfEngland},
	{"greater london", RegionLondon},
	{"united kingdom", RegionUKWide},
	{"east midlands", RegionEastMidlands},
	{"west midlands", RegionWestMidlands},
	{"south east", RegionSouthEast},
	{"south west", RegionSouthWest},
	{"north east", RegionNorthEast},
	{"north west", RegionNorthWest},
	{"yorkshire", RegionYorkshire},
	{"scotland", RegionScotland},
	{"uk wide", RegionUKWide},
	{"london", RegionLondon},
	{"wales", RegionWales},
}

// NormaliseRegion maps a raw location string to the controlled
// vocabulary. The caller stores the raw string alongside the result.
func NormaliseRegion(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return RegionUnclassified
	}
	s = strings.NewReplacer("(", " ", ")", " ", "-", " ", ",", " ", ".", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")

	if r, ok := regionSynonyms[s]; ok {
		return r
	}
	// NUTS codes come prefixed, e.g. "ukd3" or "ukm50".
	if len(s) >= 3 && strings.HasPrefix(s, "uk") {
		if r, ok := regionSynonyms[s[:3]]; ok {
			return r
		}
	}
	// Fall back to an ordered substring scan for the long-form names.
	for _, e := range regionSubstrings {
		if strings.Contains(s, e.name) {
			return e.region
		}
	}
	return RegionUnclassified
}
