package compliance

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/evidence-cli/internal/model"
)

// FreshnessStatus reports whether a dataset is recent enough for its
// record type.
type FreshnessStatus string

const (
	FreshnessFresh   FreshnessStatus = "fresh"
	FreshnessStale   FreshnessStatus = "stale"
	FreshnessUnknown FreshnessStatus = "unknown"
)

// recordTypeMaxAgeDays bounds how old a dataset's last update may be per
// record type. Deed records are effectively permanent; operational feeds
// like tax rolls age out quickly.
var recordTypeMaxAgeDays = map[model.RecordType]int{
	model.RecordAssessorParcel:  730,
	model.RecordTaxCollector:    540,
	model.RecordDeedRecorder:    36500,
	model.RecordZoningGIS:       1095,
	model.RecordPermits:         1825,
	model.RecordCodeEnforcement: 1095,
}

// UsageOptions carries the runtime policy knobs that affect gating.
type UsageOptions struct {
	ZeroCostMode      bool
	AllowPaidAccess   bool
	GatingEnforcement bool

	// Now is the clock used for freshness checks; zero means time.Now.
	Now time.Time
}

// Usage is the full gating verdict for one dataset.
type Usage struct {
	Dataset       model.Dataset    `json:"dataset"`
	Action        Action           `json:"action"`
	Notes         []string         `json:"notes,omitempty"`
	RecordType    model.RecordType `json:"recordType,omitempty"`
	Freshness     FreshnessStatus  `json:"freshness"`
	StaleReason   string           `json:"staleReason,omitempty"`
	DoNotUse      bool             `json:"doNotUse"`
	LastCheckedAt time.Time        `json:"lastCheckedAt"`
}

// EvaluateDataset runs the blocklists over a dataset's concatenated
// license, terms, and access-constraint text. Any match blocks the
// dataset and records the triggering category.
func (e *Engine) EvaluateDataset(ds model.Dataset) (Action, []string) {
	text := complianceText(ds)
	var notes []string
	if text != "" && matchesAny(text, e.license) {
		notes = append(notes, "license restriction")
	}
	if text != "" && matchesAny(text, e.terms) {
		notes = append(notes, "terms restriction")
	}
	if text != "" && matchesAny(text, e.access) {
		notes = append(notes, "access restriction")
	}
	if len(notes) > 0 {
		return ActionBlock, notes
	}
	return ActionAllow, nil
}

// EvaluateUsage applies the full usage gate: blocklists, the zero-cost
// review escalation, record-type inference, and the freshness check.
func (e *Engine) EvaluateUsage(ds model.Dataset, opts UsageOptions) Usage {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	action, notes := e.EvaluateDataset(ds)
	if action == ActionAllow && opts.ZeroCostMode {
		if e.policy.Review.RequireLicense && ds.License == "" && ds.LicenseURL == "" {
			action = ActionReview
			notes = append(notes, "missing license metadata")
		}
		if e.policy.Review.RequireTerms && ds.Terms == "" && ds.TermsURL == "" {
			action = ActionReview
			notes = append(notes, "missing terms metadata")
		}
		if text := complianceText(ds); text != "" && matchesAny(text, e.cost) {
			action = ActionReview
			notes = append(notes, "possible paid access")
		}
	}

	recordType := InferRecordType(ds)
	freshness, staleReason := datasetFreshness(ds, recordType, now)

	doNotUse := false
	if opts.GatingEnforcement {
		doNotUse = action == ActionBlock ||
			(opts.ZeroCostMode && action == ActionReview && !opts.AllowPaidAccess) ||
			(freshness == FreshnessStale && !opts.AllowPaidAccess)
	}

	ds.ComplianceAction = string(action)
	ds.ComplianceNotes = notes

	return Usage{
		Dataset:       ds,
		Action:        action,
		Notes:         notes,
		RecordType:    recordType,
		Freshness:     freshness,
		StaleReason:   staleReason,
		DoNotUse:      doNotUse,
		LastCheckedAt: now,
	}
}

// ApplyUsageGates evaluates every dataset in a batch.
func (e *Engine) ApplyUsageGates(datasets []model.Dataset, opts UsageOptions) []Usage {
	out := make([]Usage, 0, len(datasets))
	for _, ds := range datasets {
		out = append(out, e.EvaluateUsage(ds, opts))
	}
	return out
}

// InferRecordType guesses the record type of a dataset from its title,
// description, and tags. Returns "" when nothing matches.
func InferRecordType(ds model.Dataset) model.RecordType {
	haystack := strings.ToLower(ds.Title + " " + ds.Description + " " + strings.Join(ds.Tags, " "))
	switch {
	case containsAny(haystack, "parcel", "assessor", "appraiser", "cad", "apn"):
		return model.RecordAssessorParcel
	case containsAny(haystack, "tax roll", "tax bill", "tax collector", "treasurer"):
		return model.RecordTaxCollector
	case containsAny(haystack, "deed", "recorder", "clerk", "register"):
		return model.RecordDeedRecorder
	case containsAny(haystack, "zoning", "land use", "planning"):
		return model.RecordZoningGIS
	case containsAny(haystack, "permit", "inspection", "construction"):
		return model.RecordPermits
	case containsAny(haystack, "code enforcement", "violation"):
		return model.RecordCodeEnforcement
	default:
		return ""
	}
}

func datasetFreshness(ds model.Dataset, recordType model.RecordType, now time.Time) (FreshnessStatus, string) {
	stamp := ds.LastUpdated
	var updated time.Time
	if stamp != "" {
		parsed, err := parseStamp(stamp)
		if err != nil {
			return FreshnessUnknown, ""
		}
		updated = parsed
	} else if !ds.RetrievedAt.IsZero() {
		updated = ds.RetrievedAt
		stamp = ds.RetrievedAt.Format(time.RFC3339)
	} else {
		return FreshnessUnknown, ""
	}

	maxAge, ok := recordTypeMaxAgeDays[recordType]
	if !ok {
		return FreshnessFresh, ""
	}
	ageDays := now.Sub(updated).Hours() / 24
	if ageDays > float64(maxAge) {
		return FreshnessStale, "last updated " + stamp
	}
	return FreshnessFresh, ""
}

func parseStamp(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.New("compliance: unparseable timestamp " + value)
}

func complianceText(ds model.Dataset) string {
	parts := make([]string, 0, 2+len(ds.AccessConstraints))
	if s := strings.TrimSpace(ds.License); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(ds.Terms); s != "" {
		parts = append(parts, s)
	}
	for _, c := range ds.AccessConstraints {
		if s := strings.TrimSpace(c); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
