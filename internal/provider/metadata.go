package provider

import (
	"strings"
	"time"

	"github.com/sells-group/evidence-cli/internal/model"
)

// asString returns the trimmed string value, or "" for anything else.
func asString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// firstString returns the first non-empty string among values, looking
// inside objects for common name-ish keys.
func firstString(values ...any) string {
	for _, v := range values {
		if s := asString(v); s != "" {
			return s
		}
		if m, ok := v.(map[string]any); ok {
			for _, key := range []string{"name", "title", "label", "id"} {
				if s := asString(m[key]); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func isURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// licenseDetails splits a license value into display text and URL. Portals
// put either or both in one field.
func licenseDetails(v any) (license, licenseURL string) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return "", ""
		}
		if isURL(s) {
			return s, s
		}
		return s, ""
	case map[string]any:
		license = firstString(t["name"], t["title"], t["label"], t["id"])
		licenseURL = firstString(t["url"], t["href"], t["link"], t["uri"], t["@id"])
		if license == "" {
			license = licenseURL
		}
		if licenseURL == "" && isURL(license) {
			licenseURL = license
		}
		return license, licenseURL
	}
	return "", ""
}

// termsDetails splits a terms-of-service value into text and URL.
func termsDetails(v any) (terms, termsURL string) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return "", ""
		}
		if isURL(s) {
			return "", s
		}
		return s, ""
	case map[string]any:
		terms = firstString(t["name"], t["title"], t["label"], t["description"])
		termsURL = firstString(t["url"], t["href"], t["link"], t["uri"], t["@id"])
		if termsURL == "" && isURL(terms) {
			termsURL = terms
		}
		return terms, termsURL
	}
	return "", ""
}

// accessConstraints flattens and dedupes constraint values of any shape.
func accessConstraints(values ...any) []string {
	var out []string
	seen := map[string]bool{}
	var push func(v any)
	push = func(v any) {
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		case []any:
			for _, item := range t {
				push(item)
			}
		case map[string]any:
			if s := firstString(t["label"], t["name"], t["title"], t["id"], t["@id"]); s != "" && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	for _, v := range values {
		push(v)
	}
	return out
}

// publisherName extracts a display name from a publisher value.
func publisherName(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if s := firstString(t["name"], t["title"], t["label"]); s != "" {
			return s
		}
		return asString(t["@id"])
	}
	return ""
}

// isoDate coerces portal-supplied timestamps (RFC 3339, bare dates, or
// epoch milliseconds) into a YYYY-MM-DD string.
func isoDate(v any) string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return ""
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC().Format("2006-01-02")
			}
		}
		return ""
	case float64:
		// Epoch milliseconds when large, seconds otherwise.
		sec := int64(t)
		if sec > 1e11 {
			sec /= 1000
		}
		if sec <= 0 {
			return ""
		}
		return time.Unix(sec, 0).UTC().Format("2006-01-02")
	}
	return ""
}

// stringTags filters a tag list down to its string members.
func stringTags(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// newDataset assembles a Dataset, returning false when no title is present.
// Untitled catalog entries are unusable as evidence and are dropped.
func newDataset(d model.Dataset) (model.Dataset, bool) {
	d.Title = strings.TrimSpace(d.Title)
	if d.Title == "" {
		return model.Dataset{}, false
	}
	if d.Source == "" {
		d.Source = d.PortalURL
	}
	d.RetrievedAt = time.Now().UTC()
	return d, true
}
