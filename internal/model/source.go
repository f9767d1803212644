package model

import "strings"

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// SourceClass buckets an evidence source by authority.
type SourceClass string

const (
	ClassAuthoritative SourceClass = "authoritative"
	ClassQuasiOfficial SourceClass = "quasi_official"
	ClassAggregator    SourceClass = "aggregator"
	ClassSocial        SourceClass = "social"
	ClassUnknown       SourceClass = "unknown"
)

// Source is one normalized evidence citation.
type Source struct {
	URI           string      `json:"uri"`
	NormalizedURI string      `json:"normalizedUri"`
	Domain        string      `json:"domain"`
	Title         string      `json:"title,omitempty"`
	Class         SourceClass `json:"class"`
	Score         int         `json:"score"`
	DatasetID     string      `json:"datasetId,omitempty"`
}

// RecordType classifies what kind of property record a dataset holds.
type RecordType string

const (
	RecordAssessorParcel  RecordType = "assessor_parcel"
	RecordTaxCollector    RecordType = "tax_collector"
	RecordDeedRecorder    RecordType = "deed_recorder"
	RecordZoningGIS       RecordType = "zoning_gis"
	RecordPermits         RecordType = "permits"
	RecordCodeEnforcement RecordType = "code_enforcement"
)

// AllRecordTypes lists every record type coverage is assessed over.
var AllRecordTypes = []RecordType{
	RecordAssessorParcel,
	RecordTaxCollector,
	RecordDeedRecorder,
	RecordZoningGIS,
	RecordPermits,
	RecordCodeEnforcement,
}

// Jurisdiction locates a coverage claim. Empty components mean the claim
// applies at the broader level.
type Jurisdiction struct {
	Country string `json:"country,omitempty" yaml:"country,omitempty"`
	State   string `json:"state,omitempty" yaml:"state,omitempty"`
	County  string `json:"county,omitempty" yaml:"county,omitempty"`
	City    string `json:"city,omitempty" yaml:"city,omitempty"`
}

// Specificity counts how many components the jurisdiction pins down. Used
// to pick the most specific matching availability rule.
func (j Jurisdiction) Specificity() int {
	n := 0
	for _, s := range []string{j.Country, j.State, j.County, j.City} {
		if s != "" {
			n++
		}
	}
	return n
}

// Covers reports whether every component set on j matches the target.
func (j Jurisdiction) Covers(target Jurisdiction) bool {
	match := func(rule, got string) bool {
		return rule == "" || equalFold(rule, got)
	}
	return match(j.Country, target.Country) &&
		match(j.State, target.State) &&
		match(j.County, target.County) &&
		match(j.City, target.City)
}
