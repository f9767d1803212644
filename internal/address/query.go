package address

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var directionTokens = map[string]struct{}{
	"N": {}, "S": {}, "E": {}, "W": {}, "NE": {}, "NW": {}, "SE": {}, "SW": {},
}

var suffixTokens = map[string]struct{}{
	"ALY": {}, "AVE": {}, "AV": {}, "AVENUE": {}, "BLVD": {}, "BOULEVARD": {},
	"CIR": {}, "CIRCLE": {}, "CT": {}, "COURT": {}, "DR": {}, "DRIVE": {},
	"EXPY": {}, "EXPRESSWAY": {}, "FWY": {}, "FREEWAY": {}, "HWY": {}, "HIGHWAY": {},
	"LN": {}, "LANE": {}, "LOOP": {}, "PKWY": {}, "PARKWAY": {}, "PL": {}, "PLACE": {},
	"PLZ": {}, "PLAZA": {}, "RD": {}, "ROAD": {}, "SQ": {}, "SQUARE": {},
	"ST": {}, "STREET": {}, "TER": {}, "TERRACE": {}, "TRL": {}, "TRAIL": {}, "WAY": {},
}

var (
	nonAlnumUpper = regexp.MustCompile(`[^A-Z0-9\s]`)
	digitsOnly    = regexp.MustCompile(`^\d+$`)
	unitSuffix    = regexp.MustCompile(`(?i)\s+(?:#|APT|APARTMENT|UNIT|SUITE|STE|BLDG|BUILDING|FL|FLOOR|LOT)\s*\w+\b`)
)

// normalizeForQuery uppercases and strips punctuation so variants can be
// compared with UPPER(...) LIKE clauses.
func normalizeForQuery(value string) string {
	upper := strings.ToUpper(value)
	upper = nonAlnumUpper.ReplaceAllString(upper, " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(upper, " "))
}

func stripUnit(value string) string {
	return strings.TrimSpace(unitSuffix.ReplaceAllString(value, ""))
}

// QueryVariants produces the uppercase street-line fragments used in
// portal WHERE clauses: the normalized street line plus progressively
// looser forms with the direction prefix and street suffix dropped.
// Capped at MaxVariants.
func QueryVariants(addr string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	for _, base := range Variants(addr) {
		streetLine := normalizeForQuery(strings.SplitN(base, ",", 2)[0])
		if streetLine == "" {
			continue
		}
		streetLine = stripUnit(streetLine)
		tokens := strings.Fields(streetLine)
		if len(tokens) == 0 {
			continue
		}
		add(streetLine)

		hasPrefixDirection := len(tokens) >= 2 && digitsOnly.MatchString(tokens[0]) && hasToken(directionTokens, tokens[1])
		hasSuffixDirection := len(tokens) >= 2 && hasToken(directionTokens, tokens[len(tokens)-1])
		hasStreetSuffix := len(tokens) >= 2 && hasToken(suffixTokens, tokens[len(tokens)-1])

		var withoutPrefix, withoutSuffix string
		if hasPrefixDirection {
			withoutPrefix = strings.Join(append([]string{tokens[0]}, tokens[2:]...), " ")
			add(withoutPrefix)
		}
		if hasStreetSuffix {
			withoutSuffix = strings.Join(tokens[:len(tokens)-1], " ")
			add(withoutSuffix)
		}
		if hasSuffixDirection {
			add(strings.Join(tokens[:len(tokens)-1], " "))
		}
		if withoutPrefix != "" && withoutSuffix != "" {
			trimmed := strings.Fields(withoutPrefix)
			if len(trimmed) > 1 {
				add(strings.Join(trimmed[:len(trimmed)-1], " "))
			}
		}

		if len(out) >= MaxVariants {
			break
		}
	}

	if len(out) > MaxVariants {
		out = out[:MaxVariants]
	}
	return out
}

var displayCaser = cases.Title(language.AmericanEnglish)

// Display renders an uppercase query variant for human-facing summaries.
// Short directionals keep their uppercase form.
func Display(variant string) string {
	tokens := strings.Fields(variant)
	for i, tok := range tokens {
		if _, ok := directionTokens[tok]; ok {
			continue
		}
		tokens[i] = displayCaser.String(strings.ToLower(tok))
	}
	return strings.Join(tokens, " ")
}

func hasToken(set map[string]struct{}, tok string) bool {
	_, ok := set[tok]
	return ok
}
