package evidencepack

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// piiFieldPatterns match column names that must never reach output text.
var piiFieldPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)name`),
	regexp.MustCompile(`(?i)first`),
	regexp.MustCompile(`(?i)last`),
	regexp.MustCompile(`(?i)phone`),
	regexp.MustCompile(`(?i)email`),
	regexp.MustCompile(`(?i)dob`),
	regexp.MustCompile(`(?i)birth`),
	regexp.MustCompile(`(?i)ssn`),
	regexp.MustCompile(`(?i)license`),
	regexp.MustCompile(`(?i)plate`),
	regexp.MustCompile(`(?i)vin`),
	regexp.MustCompile(`(?i)officer`),
	regexp.MustCompile(`(?i)badge`),
	regexp.MustCompile(`(?i)complainant`),
	regexp.MustCompile(`(?i)victim`),
	regexp.MustCompile(`(?i)suspect`),
	regexp.MustCompile(`(?i)person`),
}

var (
	addressFieldPattern = regexp.MustCompile(`(?i)address|location|block`)
	streetNumberPattern = regexp.MustCompile(`^(\d{1,5})\s+(.*)$`)
)

func shouldRedactField(field string) bool {
	for _, re := range piiFieldPatterns {
		if re.MatchString(field) {
			return true
		}
	}
	return false
}

// coarsenAddress rounds a leading street number down to its hundred
// block, so "819 S Van Buren Ave" reads "800 block S Van Buren Ave".
func coarsenAddress(value string) string {
	trimmed := strings.TrimSpace(value)
	m := streetNumberPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return trimmed
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return trimmed
	}
	block := (n / 100) * 100
	suffix := strings.TrimSpace(m[2])
	if suffix != "" {
		return fmt.Sprintf("%d block %s", block, suffix)
	}
	return fmt.Sprintf("%d block", block)
}

// redactValue drops PII fields and coarsens address-bearing strings.
// Returns ("", false) when the value must be omitted.
func redactValue(field string, value any) (string, bool) {
	if value == nil {
		return "", false
	}
	if shouldRedactField(field) {
		return "", false
	}
	switch v := value.(type) {
	case string:
		if addressFieldPattern.MatchString(field) {
			return coarsenAddress(v), true
		}
		return strings.TrimSpace(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// sanitizeRecords keeps only mapped fields and redacts every value.
// Rows that end up empty are dropped.
func sanitizeRecords(rows []map[string]any, fm FieldMap) []map[string]string {
	allowed := []string{fm.ID, fm.Date, fm.Type, fm.Status, fm.Address}
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		clean := make(map[string]string)
		for _, field := range allowed {
			if field == "" {
				continue
			}
			value, ok := row[field]
			if !ok {
				continue
			}
			rendered, keep := redactValue(field, value)
			if keep && rendered != "" {
				clean[field] = rendered
			}
		}
		if len(clean) > 0 {
			out = append(out, clean)
		}
	}
	return out
}
