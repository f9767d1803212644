package model

import (
	"time"

	"github.com/google/uuid"
)

// GapReason codes why an expected record or result is degraded rather than
// failed outright.
type GapReason string

const (
	GapTooManyFeatures GapReason = "too_many_features"
	GapPageLimit       GapReason = "page_limit"
	GapInvalidCRS      GapReason = "invalid_crs"
	GapStaleSchema     GapReason = "stale_schema"
	GapSignoffRequired GapReason = "signoff_required"
	GapComplianceBlock GapReason = "compliance_block"
	GapAccessRestrict  GapReason = "access_restricted"
	GapFetchFailed     GapReason = "fetch_failed"
	GapNoGeometry      GapReason = "no_geometry"
	GapNoDataset       GapReason = "no_dataset"
	GapSchemaUnmapped  GapReason = "schema_unmapped"
	GapNoRecords       GapReason = "no_records"
	GapUnavailable     GapReason = "jurisdiction_unavailable"
)

// GapStatus describes how a gap should be read.
type GapStatus string

const (
	GapStatusMissing     GapStatus = "missing"
	GapStatusUnavailable GapStatus = "unavailable"
	GapStatusRestricted  GapStatus = "restricted"
	GapStatusAmbiguous   GapStatus = "ambiguous"
	GapStatusStale       GapStatus = "stale"
)

// GapSeverity ranks how badly a gap degrades the result.
type GapSeverity string

const (
	SeverityCritical GapSeverity = "critical"
	SeverityMajor    GapSeverity = "major"
	SeverityMinor    GapSeverity = "minor"
)

// SourcePointer names where a gap's data was expected to come from.
type SourcePointer struct {
	Label     string `json:"label"`
	PortalURL string `json:"portalUrl,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	Query     string `json:"query,omitempty"`
}

// DataGap is a structured note explaining why required data is missing.
// Gaps are first-class outputs so a report can enumerate exactly what could
// not be confirmed and why; they are never silently dropped.
type DataGap struct {
	ID              string          `json:"id"`
	Description     string          `json:"description"`
	Reason          string          `json:"reason,omitempty"`
	Code            GapReason       `json:"code"`
	Status          GapStatus       `json:"status"`
	Severity        GapSeverity     `json:"severity,omitempty"`
	RecordType      RecordType      `json:"recordType,omitempty"`
	DatasetID       string          `json:"datasetId,omitempty"`
	DetectedAt      string          `json:"detectedAt"` // ISO date
	ExpectedSources []SourcePointer `json:"expectedSources,omitempty"`
}

// NewDataGap builds a gap with a fresh id and today's detection date.
func NewDataGap(code GapReason, status GapStatus, description, reason string) DataGap {
	return DataGap{
		ID:          "gap-" + uuid.NewString(),
		Description: description,
		Reason:      reason,
		Code:        code,
		Status:      status,
		Severity:    SeverityMajor,
		DetectedAt:  time.Now().UTC().Format("2006-01-02"),
	}
}
