package evidence

import (
	"fmt"

	"github.com/sells-group/evidence-cli/internal/model"
)

// Minimum evidence required before a batch is considered usable.
const (
	MinTotalSources         = 3
	MinAuthoritativeSources = 1
	MinAuthorityScore       = 70

	// AuthoritativeScoreFloor is the score at or above which a single
	// source counts toward the authoritative minimum.
	AuthoritativeScoreFloor = 60
)

// GateStatus reports how a source batch measures against the evidence
// minimums.
type GateStatus struct {
	TotalSources         int  `json:"totalSources"`
	AuthoritativeSources int  `json:"authoritativeSources"`
	MaxAuthorityScore    int  `json:"maxAuthorityScore"`
	MeetsTotal           bool `json:"meetsTotal"`
	MeetsAuthoritative   bool `json:"meetsAuthoritative"`
	MeetsAuthorityScore  bool `json:"meetsAuthorityScore"`
	MeetsAll             bool `json:"meetsAll"`
}

// Evaluate measures a source batch against the evidence minimums.
// Duplicate URIs are collapsed before counting.
func Evaluate(sources []model.Source) GateStatus {
	seen := make(map[string]struct{}, len(sources))
	var status GateStatus
	for _, src := range sources {
		key := src.NormalizedURI
		if key == "" {
			key = src.URI
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		status.TotalSources++

		score := ScoreAuthority(src)
		if score >= AuthoritativeScoreFloor {
			status.AuthoritativeSources++
		}
		if score > status.MaxAuthorityScore {
			status.MaxAuthorityScore = score
		}
	}

	status.MeetsTotal = status.TotalSources >= MinTotalSources
	status.MeetsAuthoritative = status.AuthoritativeSources >= MinAuthoritativeSources
	status.MeetsAuthorityScore = status.MaxAuthorityScore >= MinAuthorityScore
	status.MeetsAll = status.MeetsTotal && status.MeetsAuthoritative && status.MeetsAuthorityScore
	return status
}

// GateReasons explains a failing gate in a stable machine-checkable
// format. Returns nil when every minimum is met.
func GateReasons(status GateStatus) []string {
	var reasons []string
	if !status.MeetsTotal {
		reasons = append(reasons, fmt.Sprintf("total_sources_below_min (%d/%d)", status.TotalSources, MinTotalSources))
	}
	if !status.MeetsAuthoritative {
		reasons = append(reasons, fmt.Sprintf("authoritative_sources_below_min (%d/%d)", status.AuthoritativeSources, MinAuthoritativeSources))
	}
	if !status.MeetsAuthorityScore {
		reasons = append(reasons, fmt.Sprintf("authority_score_below_min (%d/%d)", status.MaxAuthorityScore, MinAuthorityScore))
	}
	return reasons
}
