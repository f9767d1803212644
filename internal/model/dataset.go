package model

import (
	"sort"
	"strings"
	"time"
)

// Field is one column of a dataset schema.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	IsGeometry  bool   `json:"isGeometry,omitempty"`
}

// Distribution is a downloadable representation of a dataset.
type Distribution struct {
	Format      string `json:"format,omitempty"`
	AccessURL   string `json:"accessUrl,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// Dataset is the portal-neutral description of one catalog entry. Identity
// is (portal type, portal URL, dataset id or title); discovery upserts are
// idempotent on that key.
type Dataset struct {
	ID                string     `json:"datasetId,omitempty"`
	PortalURL         string     `json:"portalUrl"`
	PortalType        PortalType `json:"portalType"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Source            string     `json:"source,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	Fields            []Field    `json:"fields,omitempty"`
	License           string     `json:"license,omitempty"`
	LicenseURL        string     `json:"licenseUrl,omitempty"`
	Terms             string     `json:"termsOfService,omitempty"`
	TermsURL          string     `json:"termsUrl,omitempty"`
	AccessConstraints []string   `json:"accessConstraints,omitempty"`
	DataURL           string     `json:"dataUrl,omitempty"`
	HomepageURL       string     `json:"homepageUrl,omitempty"`
	ResourceType      string     `json:"resourceType,omitempty"`
	LastUpdated       string     `json:"lastUpdated,omitempty"` // ISO date
	RetrievedAt       time.Time  `json:"retrievedAt"`

	// Compliance evaluation results, attached after discovery.
	ComplianceAction string   `json:"complianceAction,omitempty"`
	ComplianceNotes  []string `json:"complianceNotes,omitempty"`
}

// IndexKey returns the idempotency key used by the dataset index: portal
// type, portal URL, and the dataset id (title when the portal assigns no
// id), lowercased.
func (d Dataset) IndexKey() string {
	id := d.ID
	if id == "" {
		id = d.Title
	}
	return strings.ToLower(d.PortalType.String() + "|" + d.PortalURL + "|" + id)
}

// SchemaHash produces a stable fingerprint of the column layout: fields
// sorted by name, "name:type" pairs joined with "|", lowercased. An empty
// schema hashes to the empty string.
func (d Dataset) SchemaHash() string {
	if len(d.Fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		parts = append(parts, strings.ToLower(f.Name)+":"+strings.ToLower(f.Type))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

func (t PortalType) String() string { return string(t) }
