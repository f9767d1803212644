package coverage

import (
	"regexp"
	"strings"
	"time"

	"github.com/sells-group/evidence-cli/internal/evidence"
	"github.com/sells-group/evidence-cli/internal/model"
)

// Status is the per-record-type coverage verdict.
type Status string

const (
	StatusCovered     Status = "covered"
	StatusMissing     Status = "missing"
	StatusPartial     Status = "partial"
	StatusRestricted  Status = "restricted"
	StatusUnknown     Status = "unknown"
	StatusUnavailable Status = "unavailable"
)

// recordKeywords match sources to record types. Patterns run over text
// normalized to lowercase alphanumerics and single spaces.
var recordKeywords = map[model.RecordType][]*regexp.Regexp{
	model.RecordAssessorParcel: compileKeywords(
		`\bassessor\b`, `\bappraiser\b`, `\bappraisal\b`, `\bcad\b`, `\bproperty\b`,
		`\bparcel\b`, `\btax assessor\b`, `\bproperty appraiser\b`, `\bcentral appraisal district\b`,
	),
	model.RecordTaxCollector: compileKeywords(
		`\btax collector\b`, `\btax assessor\b`, `\btreasurer\b`, `\btax roll\b`,
		`\btax bill\b`, `\btax payment\b`, `\bproperty tax\b`, `\btax records\b`,
	),
	model.RecordDeedRecorder: compileKeywords(
		`\brecorder\b`, `\bregister of deeds\b`, `\bdeed\b`, `\bland records\b`,
		`\brecording\b`, `\bcounty clerk\b`,
	),
	model.RecordZoningGIS: compileKeywords(
		`\bzoning\b`, `\bland use\b`, `\bplanning\b`, `\bzoning map\b`, `\bland use map\b`,
	),
	model.RecordPermits: compileKeywords(
		`\bpermit\b`, `\bpermitting\b`, `\bbuilding permit\b`, `\binspection\b`,
		`\bplan review\b`, `\bconstruction permit\b`,
	),
	model.RecordCodeEnforcement: compileKeywords(
		`\bcode enforcement\b`, `\bcode violations?\b`, `\bcompliance\b`, `\bnuisance\b`,
	),
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9\s]`)
var multiSpace = regexp.MustCompile(`\s+`)

// Entry is one record type's coverage verdict.
type Entry struct {
	RecordType          model.RecordType   `json:"recordType"`
	Status              Status             `json:"status"`
	AvailabilityStatus  AvailabilityStatus `json:"availabilityStatus"`
	AvailabilityDetails string             `json:"availabilityDetails,omitempty"`
	MatchedSources      []string           `json:"matchedSources"`
}

// Report is the full coverage assessment for one jurisdiction. Missing
// and Unavailable are listed separately: a report must not claim a gap
// where the jurisdiction never offered the record at all.
type Report struct {
	Complete    bool               `json:"complete"`
	Entries     []Entry            `json:"entries"`
	Missing     []model.RecordType `json:"missing"`
	Unavailable []model.RecordType `json:"unavailable"`
	GeneratedAt string             `json:"generatedAt"`
}

// Evaluate assesses every record type against the classified source set.
// A jurisdiction that marks a type unavailable short-circuits without
// looking at sources; otherwise a type is covered when any source
// matches its keywords with an authority score at or above the floor.
func Evaluate(sources []model.Source, jurisdiction model.Jurisdiction, matrix Matrix) Report {
	if matrix == nil {
		matrix = DefaultMatrix()
	}

	entries := make([]Entry, 0, len(model.AllRecordTypes))
	var missing, unavailable []model.RecordType

	for _, rt := range model.AllRecordTypes {
		av := matrix.RecordAvailability(rt, jurisdiction)
		entry := Entry{
			RecordType:          rt,
			AvailabilityStatus:  av.Status,
			AvailabilityDetails: FormatDetails(av),
			MatchedSources:      []string{},
		}

		if av.Status == AvailabilityUnavailable {
			entry.Status = StatusUnavailable
			entries = append(entries, entry)
			unavailable = append(unavailable, rt)
			continue
		}

		for _, src := range sources {
			if !sourceMatchesRecordType(src, rt) {
				continue
			}
			if evidence.ScoreAuthority(src) < evidence.AuthoritativeScoreFloor {
				continue
			}
			entry.MatchedSources = append(entry.MatchedSources, src.URI)
		}

		if len(entry.MatchedSources) > 0 {
			entry.Status = StatusCovered
		} else {
			switch av.Status {
			case AvailabilityRestricted:
				entry.Status = StatusRestricted
			case AvailabilityPartial:
				entry.Status = StatusPartial
			case AvailabilityUnknown:
				entry.Status = StatusUnknown
			default:
				entry.Status = StatusMissing
			}
			missing = append(missing, rt)
		}
		entries = append(entries, entry)
	}

	return Report{
		Complete:    len(missing) == 0,
		Entries:     entries,
		Missing:     missing,
		Unavailable: unavailable,
		GeneratedAt: time.Now().UTC().Format("2006-01-02"),
	}
}

func sourceMatchesRecordType(src model.Source, rt model.RecordType) bool {
	normalized := normalizeForMatch(src.Title + " " + src.Domain + " " + src.URI)
	for _, re := range recordKeywords[rt] {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

func normalizeForMatch(value string) string {
	lower := strings.ToLower(value)
	lower = nonAlnum.ReplaceAllString(lower, " ")
	return strings.TrimSpace(multiSpace.ReplaceAllString(lower, " "))
}

func compileKeywords(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}
