package compliance

import (
	"net/url"
	"strings"

	"github.com/sells-group/evidence-cli/internal/model"
)

// GateStatus values for the batch-level sign-off gate.
const (
	GateClear           = "clear"
	GateSignoffRequired = "signoff_required"
)

// BlockedSource records why one source was rejected.
type BlockedSource struct {
	URI          string `json:"uri"`
	Domain       string `json:"domain"`
	Reason       string `json:"reason"`
	DatasetTitle string `json:"datasetTitle,omitempty"`
	DatasetID    string `json:"datasetId,omitempty"`
}

// DatasetEntry is the per-dataset evaluation attached to an enforcement
// result.
type DatasetEntry struct {
	Dataset             model.Dataset `json:"dataset"`
	Action              Action        `json:"action"`
	Attribution         string        `json:"attribution"`
	AttributionRequired bool          `json:"attributionRequired"`
	AttributionStatus   string        `json:"attributionStatus"`
	Reasons             []string      `json:"reasons,omitempty"`
}

// Summary is the batch-level verdict.
type Summary struct {
	Mode            Mode            `json:"mode"`
	SignoffRequired bool            `json:"signoffRequired"`
	SignoffProvided bool            `json:"signoffProvided"`
	GateStatus      string          `json:"gateStatus"`
	BlockedSources  []BlockedSource `json:"blockedSources"`
	Notes           []string        `json:"notes,omitempty"`
}

// EnforcementResult is the outcome of enforcing the policy over a source
// batch against the evaluated dataset index.
type EnforcementResult struct {
	AllowedSources []model.Source  `json:"allowedSources"`
	BlockedSources []BlockedSource `json:"blockedSources"`
	Datasets       []DatasetEntry  `json:"datasets"`
	Summary        Summary         `json:"summary"`
}

// Enforce decides which sources may be used. The blocked-domain list is
// checked first; a source passing that is then matched against every
// blocked dataset by data URL, homepage URL, or dataset id on the same
// domain. In audit mode blocked sources are reported but retained.
func (e *Engine) Enforce(sources []model.Source, datasets []model.Dataset) EnforcementResult {
	entries := make([]DatasetEntry, 0, len(datasets))
	for _, ds := range datasets {
		entries = append(entries, e.evaluateEntry(ds))
	}

	var blocked []BlockedSource
	var allowed []model.Source

	for _, src := range sources {
		domain := src.Domain
		if domain == "" {
			domain = matchDomain(src.URI)
		}

		reason := ""
		var hit *DatasetEntry
		if e.domainBlocked(domain) {
			reason = "domain blocked by policy"
		} else {
			for i := range entries {
				if entries[i].Action != ActionBlock {
					continue
				}
				if !datasetMatchesSource(src.URI, entries[i].Dataset) {
					continue
				}
				reason = "dataset restricted"
				if len(entries[i].Reasons) > 0 {
					reason = entries[i].Reasons[0]
				}
				hit = &entries[i]
				break
			}
		}

		if reason == "" {
			allowed = append(allowed, src)
			continue
		}
		b := BlockedSource{URI: src.URI, Domain: domain, Reason: reason}
		if hit != nil {
			b.DatasetTitle = hit.Dataset.Title
			b.DatasetID = hit.Dataset.ID
		}
		blocked = append(blocked, b)
		if e.policy.Mode != ModeEnforce {
			allowed = append(allowed, src)
		}
	}

	signoffProvided := strings.TrimSpace(e.policy.Signoff.ApprovedBy) != "" &&
		strings.TrimSpace(e.policy.Signoff.ApprovedAt) != ""
	gateStatus := GateClear
	var notes []string
	if e.policy.Signoff.Required && !signoffProvided {
		gateStatus = GateSignoffRequired
		notes = append(notes, "Compliance sign-off required before rollout.")
	}

	return EnforcementResult{
		AllowedSources: allowed,
		BlockedSources: blocked,
		Datasets:       entries,
		Summary: Summary{
			Mode:            e.policy.Mode,
			SignoffRequired: e.policy.Signoff.Required,
			SignoffProvided: signoffProvided,
			GateStatus:      gateStatus,
			BlockedSources:  blocked,
			Notes:           notes,
		},
	}
}

func (e *Engine) evaluateEntry(ds model.Dataset) DatasetEntry {
	action, reasons := e.EvaluateDataset(ds)
	attribution := e.Attribution(ds)

	status := "ok"
	if e.policy.RequireAttribution && (attribution == "" || strings.Contains(attribution, "Unknown source")) {
		status = "missing"
		reasons = append(reasons, "missing attribution fields")
	}

	ds.ComplianceAction = string(action)
	ds.ComplianceNotes = reasons

	return DatasetEntry{
		Dataset:             ds,
		Action:              action,
		Attribution:         attribution,
		AttributionRequired: e.policy.RequireAttribution,
		AttributionStatus:   status,
		Reasons:             reasons,
	}
}

// Attribution renders the citation line for a dataset. When the portal
// domain cannot be determined the fallback template is used.
func (e *Engine) Attribution(ds model.Dataset) string {
	portalDomain := matchDomain(firstNonEmpty(ds.PortalURL, ds.DataURL, ds.HomepageURL))
	source := firstNonEmpty(ds.Source, portalDomain, "Unknown source")
	title := firstNonEmpty(ds.Title, ds.ID, "Untitled dataset")
	if portalDomain == "" {
		portalDomain = "unknown-portal"
	}

	base := strings.NewReplacer(
		"{source}", source,
		"{title}", title,
		"{portalDomain}", portalDomain,
	).Replace(e.policy.AttributionTemplate)
	if !strings.Contains(base, "unknown-portal") {
		return base
	}
	return strings.NewReplacer(
		"{portalDomain}", portalDomain,
		"{title}", title,
	).Replace(e.policy.AttributionFallback)
}

func (e *Engine) domainBlocked(domain string) bool {
	if domain == "" {
		return false
	}
	for _, blockedDomain := range e.policy.BlockedDomains {
		normalized := strings.TrimPrefix(strings.ToLower(blockedDomain), "www.")
		if domain == normalized || strings.HasSuffix(domain, "."+normalized) {
			return true
		}
	}
	return false
}

func datasetMatchesSource(sourceURL string, ds model.Dataset) bool {
	if urlMatchesCandidate(sourceURL, ds.DataURL) {
		return true
	}
	if urlMatchesCandidate(sourceURL, ds.HomepageURL) {
		return true
	}
	return sourceMatchesDatasetID(sourceURL, ds.ID, ds.PortalURL)
}

// urlMatchesCandidate compares two URLs after normalizing scheme, host,
// and trailing slashes; a match is exact or a path-prefix.
func urlMatchesCandidate(sourceURL, candidateURL string) bool {
	if candidateURL == "" {
		return false
	}
	src := normalizeMatchURL(sourceURL)
	cand := normalizeMatchURL(candidateURL)
	if src == "" || cand == "" {
		return false
	}
	return src == cand || strings.HasPrefix(src, cand+"/")
}

func sourceMatchesDatasetID(sourceURL, datasetID, portalURL string) bool {
	needle := strings.ToLower(strings.TrimSpace(datasetID))
	if needle == "" {
		return false
	}
	if !strings.Contains(strings.ToLower(sourceURL), needle) {
		return false
	}
	if portalURL == "" {
		return true
	}
	return matchDomain(sourceURL) == matchDomain(portalURL)
}

func normalizeMatchURL(value string) string {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(strings.TrimSpace(value)), "/")
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	path := strings.TrimRight(u.EscapedPath(), "/")
	return strings.ToLower(u.Scheme) + "://" + host + path
}

func matchDomain(value string) string {
	if value == "" {
		return ""
	}
	u, err := url.Parse(value)
	if err != nil || u.Hostname() == "" {
		return strings.TrimPrefix(strings.ToLower(value), "www.")
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
