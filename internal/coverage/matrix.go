// Package coverage reports, per jurisdiction, which primary record types
// the collected evidence actually covers and which the jurisdiction
// never offers at all.
package coverage

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/evidence-cli/internal/model"
)

// AvailabilityStatus is what a jurisdiction claims about a record type.
type AvailabilityStatus string

const (
	AvailabilityAvailable   AvailabilityStatus = "available"
	AvailabilityUnavailable AvailabilityStatus = "unavailable"
	AvailabilityRestricted  AvailabilityStatus = "restricted"
	AvailabilityPartial     AvailabilityStatus = "partial"
	AvailabilityUnknown     AvailabilityStatus = "unknown"
)

// UnavailableReason explains a hard unavailability claim.
type UnavailableReason string

const (
	ReasonNoPublicAccess   UnavailableReason = "no_public_access"
	ReasonNotDigitized     UnavailableReason = "not_digitized"
	ReasonRequiresInPerson UnavailableReason = "requires_in_person"
	ReasonPaidOnly         UnavailableReason = "paid_only"
	ReasonNotCollected     UnavailableReason = "not_collected"
	ReasonNotApplicable    UnavailableReason = "not_applicable"
	ReasonTemporaryOutage  UnavailableReason = "temporary_outage"
)

// AvailabilityEvidence points at the material backing an availability
// claim.
type AvailabilityEvidence struct {
	PortalURL    string `yaml:"portalUrl,omitempty" json:"portalUrl,omitempty"`
	StatementURL string `yaml:"statementUrl,omitempty" json:"statementUrl,omitempty"`
	Notes        string `yaml:"notes,omitempty" json:"notes,omitempty"`
	CheckedBy    string `yaml:"checkedBy,omitempty" json:"checkedBy,omitempty"`
}

// RecordAvailability is one cell of the jurisdiction matrix.
type RecordAvailability struct {
	Status              AvailabilityStatus   `yaml:"status" json:"status"`
	Reason              string               `yaml:"reason,omitempty" json:"reason,omitempty"`
	UnavailableReason   UnavailableReason    `yaml:"unavailableReason,omitempty" json:"unavailableReason,omitempty"`
	LastChecked         string               `yaml:"lastChecked,omitempty" json:"lastChecked,omitempty"`
	ExpectedRefreshDays int                  `yaml:"expectedRefreshDays,omitempty" json:"expectedRefreshDays,omitempty"`
	Evidence            AvailabilityEvidence `yaml:"evidence,omitempty" json:"evidence,omitempty"`
	CoverageNotes       string               `yaml:"coverageNotes,omitempty" json:"coverageNotes,omitempty"`
}

// MatrixEntry claims availability for every record type within one
// jurisdiction.
type MatrixEntry struct {
	ID           string                                  `yaml:"id" json:"id"`
	Jurisdiction model.Jurisdiction                      `yaml:"jurisdiction" json:"jurisdiction"`
	Records      map[model.RecordType]RecordAvailability `yaml:"records" json:"records"`
	Notes        string                                  `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Matrix is the full jurisdiction availability table.
type Matrix []MatrixEntry

const defaultEntryID = "US-DEFAULT"

// DefaultMatrix returns the built-in matrix: a country-wide US entry
// with every record type unknown, overridden per jurisdiction as
// availability is verified.
func DefaultMatrix() Matrix {
	records := make(map[model.RecordType]RecordAvailability, len(model.AllRecordTypes))
	for _, rt := range model.AllRecordTypes {
		records[rt] = RecordAvailability{Status: AvailabilityUnknown}
	}
	return Matrix{{
		ID:           defaultEntryID,
		Jurisdiction: model.Jurisdiction{Country: "US"},
		Records:      records,
		Notes:        "Default entry. Override per state/county/city as availability is verified.",
	}}
}

// LoadMatrix reads a YAML matrix file. Entries from the file are placed
// ahead of the built-in default so lookups always have a fallback.
func LoadMatrix(path string) (Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "coverage: read matrix file")
	}
	var entries []MatrixEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, eris.Wrap(err, "coverage: parse matrix file")
	}
	return append(Matrix(entries), DefaultMatrix()...), nil
}

// Find returns the most specific entry covering a jurisdiction. Ties are
// broken by counting how many jurisdiction components the entry
// specifies. Falls back to the default entry when nothing matches.
func (m Matrix) Find(j model.Jurisdiction) *MatrixEntry {
	candidates := make([]MatrixEntry, 0, len(m))
	for _, entry := range m {
		if entry.Jurisdiction.Covers(j) {
			candidates = append(candidates, entry)
		}
	}
	if len(candidates) == 0 {
		for i := range m {
			if m[i].ID == defaultEntryID {
				return &m[i]
			}
		}
		return nil
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].Jurisdiction.Specificity() > candidates[b].Jurisdiction.Specificity()
	})
	return &candidates[0]
}

// RecordAvailability looks up the availability cell for a record type in
// a jurisdiction. Unknown when no entry carries the type.
func (m Matrix) RecordAvailability(rt model.RecordType, j model.Jurisdiction) RecordAvailability {
	entry := m.Find(j)
	if entry == nil {
		return RecordAvailability{Status: AvailabilityUnknown}
	}
	av, ok := entry.Records[rt]
	if !ok {
		return RecordAvailability{Status: AvailabilityUnknown}
	}
	return av
}

// FormatDetails renders an availability cell as a short human note.
func FormatDetails(av RecordAvailability) string {
	var parts []string
	if av.UnavailableReason != "" {
		parts = append(parts, "Unavailable reason: "+string(av.UnavailableReason)+".")
	}
	if av.Reason != "" {
		parts = append(parts, "Notes: "+av.Reason+".")
	}
	if av.LastChecked != "" {
		parts = append(parts, "Last checked: "+av.LastChecked+".")
	}
	return strings.Join(parts, " ")
}
