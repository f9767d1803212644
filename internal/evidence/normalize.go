// Package evidence normalizes raw source citations, classifies their
// authority, and gates batches that lack enough trustworthy material.
package evidence

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/sells-group/evidence-cli/internal/model"
)

// maxURLLength bounds accepted source URLs; anything longer is reported
// as a parse error rather than normalized.
const maxURLLength = 2048

// trackingParams are removed from query strings during normalization, in
// addition to anything with a utm_ prefix.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"yclid":        {},
	"mc_cid":       {},
	"mc_eid":       {},
	"ref":          {},
	"ref_src":      {},
	"igshid":       {},
	"spm":          {},
	"mkt_tok":      {},
}

var (
	schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z\d+\-.]*:`)
	urlPattern    = regexp.MustCompile(`(?i)https?://[^\s<>")\]]+`)
)

// Candidate is a raw citation before normalization.
type Candidate struct {
	URI     string
	Title   string
	Snippet string
}

// Diagnostics summarizes one normalization pass.
type Diagnostics struct {
	RawCount        int
	NormalizedCount int
	DedupedCount    int
	ParseErrors     []string
	FallbackUsed    bool
}

// NormalizeURI canonicalizes a source URL: http/https only, fragment
// stripped, default ports removed, tracking parameters deleted, host
// lowercased. Returns the empty string when the value cannot be
// normalized, with a reason appended to errs.
func NormalizeURI(raw string, errs *[]string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) > maxURLLength {
		addErr(errs, "URL too long: "+truncate(trimmed, 120))
		return ""
	}

	// Bare host/path inputs get an https scheme; anything carrying an
	// unrecognized scheme is rejected outright.
	if !schemePattern.MatchString(trimmed) {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		addErr(errs, "Invalid URL: "+truncate(raw, 120))
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		addErr(errs, "Unsupported protocol: "+u.Scheme)
		return ""
	}

	u.Fragment = ""
	host := strings.ToLower(u.Host)
	if u.Scheme == "http" {
		host = strings.TrimSuffix(host, ":80")
	} else {
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if _, tracked := trackingParams[lower]; tracked || strings.HasPrefix(lower, "utm_") {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}

// Domain extracts the hostname from a normalized URI, without a leading
// www prefix.
func Domain(normalizedURI string) string {
	u, err := url.Parse(normalizedURI)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// Normalize converts raw candidates into deduplicated sources. The first
// occurrence of each normalized URI wins; later duplicates are counted in
// the diagnostics.
func Normalize(candidates []Candidate) ([]model.Source, Diagnostics) {
	diag := Diagnostics{RawCount: len(candidates)}
	seen := make(map[string]struct{}, len(candidates))
	sources := make([]model.Source, 0, len(candidates))

	for _, c := range candidates {
		if strings.TrimSpace(c.URI) == "" {
			diag.ParseErrors = append(diag.ParseErrors, "Missing URI on source candidate.")
			continue
		}
		normalized := NormalizeURI(c.URI, &diag.ParseErrors)
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}

		domain := Domain(normalized)
		title := strings.TrimSpace(c.Title)
		if title == "" {
			title = domain
		}
		if title == "" {
			title = normalized
		}
		src := model.Source{
			URI:           c.URI,
			NormalizedURI: normalized,
			Domain:        domain,
			Title:         title,
		}
		src.Class = Classify(src)
		src.Score = ScoreAuthority(src)
		sources = append(sources, src)
	}

	diag.NormalizedCount = len(sources)
	if d := diag.RawCount - diag.NormalizedCount; d > 0 {
		diag.DedupedCount = d
	}
	return sources, diag
}

// NormalizeFromText scrapes URLs out of free text and normalizes them.
// Used when a collaborator returns prose instead of structured citations.
func NormalizeFromText(text string) ([]model.Source, Diagnostics) {
	matches := urlPattern.FindAllString(text, -1)
	candidates := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		cleaned := strings.TrimRight(m, "),.;")
		candidates = append(candidates, Candidate{URI: cleaned, Title: cleaned})
	}
	sources, diag := Normalize(candidates)
	diag.FallbackUsed = true
	return sources, diag
}

func addErr(errs *[]string, msg string) {
	if errs != nil {
		*errs = append(*errs, msg)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
