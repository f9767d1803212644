// Package address expands a free-form street address into the spelling
// variants portals actually index: abbreviated and spelled-out
// directionals and street suffixes, unit designator forms, and the
// stripped-down uppercase variants used in portal WHERE clauses.
package address

import (
	"regexp"
	"strings"
)

// MaxVariants caps every variant list; portal queries OR the variants
// together so the list must stay small.
const MaxVariants = 4

type wordForm struct {
	Abbr string
	Full string
}

var directionForms = map[string]wordForm{
	"north": {"N", "North"}, "n": {"N", "North"},
	"south": {"S", "South"}, "s": {"S", "South"},
	"east": {"E", "East"}, "e": {"E", "East"},
	"west": {"W", "West"}, "w": {"W", "West"},
	"northeast": {"NE", "Northeast"}, "ne": {"NE", "Northeast"},
	"northwest": {"NW", "Northwest"}, "nw": {"NW", "Northwest"},
	"southeast": {"SE", "Southeast"}, "se": {"SE", "Southeast"},
	"southwest": {"SW", "Southwest"}, "sw": {"SW", "Southwest"},
}

var suffixForms = map[string]wordForm{
	"alley": {"Aly", "Alley"}, "aly": {"Aly", "Alley"},
	"avenue": {"Ave", "Avenue"}, "ave": {"Ave", "Avenue"}, "av": {"Ave", "Avenue"},
	"boulevard": {"Blvd", "Boulevard"}, "blvd": {"Blvd", "Boulevard"}, "boulv": {"Blvd", "Boulevard"},
	"circle": {"Cir", "Circle"}, "cir": {"Cir", "Circle"},
	"court": {"Ct", "Court"}, "ct": {"Ct", "Court"},
	"drive": {"Dr", "Drive"}, "dr": {"Dr", "Drive"},
	"expressway": {"Expy", "Expressway"}, "expy": {"Expy", "Expressway"}, "expwy": {"Expy", "Expressway"},
	"freeway": {"Fwy", "Freeway"}, "fwy": {"Fwy", "Freeway"},
	"highway": {"Hwy", "Highway"}, "hwy": {"Hwy", "Highway"},
	"lane": {"Ln", "Lane"}, "ln": {"Ln", "Lane"},
	"loop":    {"Loop", "Loop"},
	"parkway": {"Pkwy", "Parkway"}, "pkwy": {"Pkwy", "Parkway"}, "pky": {"Pkwy", "Parkway"},
	"place": {"Pl", "Place"}, "pl": {"Pl", "Place"},
	"plaza": {"Plz", "Plaza"}, "plz": {"Plz", "Plaza"},
	"road": {"Rd", "Road"}, "rd": {"Rd", "Road"},
	"square": {"Sq", "Square"}, "sq": {"Sq", "Square"},
	"street": {"St", "Street"}, "st": {"St", "Street"},
	"terrace": {"Ter", "Terrace"}, "ter": {"Ter", "Terrace"},
	"trail": {"Trl", "Trail"}, "trl": {"Trl", "Trail"},
	"way": {"Way", "Way"},
}

type unitInfo struct {
	Designator string
	ID         string
}

var (
	unitPattern     = regexp.MustCompile(`(?i)^(.*?)(?:,?\s*(#|apt|apartment|unit|suite|ste|bldg|building|fl|floor|lot|trlr|trailer)\.?\s*([a-zA-Z0-9-]+))$`)
	unitOnlyPattern = regexp.MustCompile(`(?i)^(#|apt|apartment|unit|suite|ste|bldg|building|fl|floor|lot|trlr|trailer)\.?\s*([a-zA-Z0-9-]+)$`)
	tokenCleaner    = regexp.MustCompile(`[^a-z0-9]`)
	whitespace      = regexp.MustCompile(`\s+`)
)

func normalizeToken(tok string) string {
	return tokenCleaner.ReplaceAllString(strings.ToLower(tok), "")
}

func startsWithDigit(tok string) bool {
	return len(tok) > 0 && tok[0] >= '0' && tok[0] <= '9'
}

// Variants expands an address into its common spellings: the abbreviated
// form, the spelled-out form, and the original, each combined with unit
// designator variants when a unit is present. Capped at MaxVariants.
func Variants(raw string) []string {
	cleaned := strings.TrimSpace(whitespace.ReplaceAllString(raw, " "))
	if cleaned == "" {
		return nil
	}

	parts := splitTrimmed(cleaned, ",")
	streetLine := cleaned
	var remainderParts []string
	if len(parts) > 0 {
		streetLine = parts[0]
		remainderParts = parts[1:]
	}

	var unit *unitInfo
	streetLine, unit = parseUnitFromStreetLine(streetLine)
	if unit == nil && len(remainderParts) > 0 {
		if u := parseUnitOnly(remainderParts[0]); u != nil {
			unit = u
			remainderParts = remainderParts[1:]
		}
	}

	remainder := strings.Join(remainderParts, ", ")
	streetVariants := streetLineVariants(streetLine)
	unitVariants := unitLineVariants(unit)

	var out []string
	switch {
	case len(streetVariants) == 0:
		out = append(out, cleaned)
	case len(unitVariants) == 0:
		for _, street := range streetVariants {
			out = append(out, joinAddress(street, "", remainder))
		}
	default:
		for _, street := range streetVariants {
			for _, u := range unitVariants {
				out = append(out, joinAddress(street, u, remainder))
			}
		}
	}

	out = uniqueNonEmpty(append(out, cleaned))
	if len(out) > MaxVariants {
		out = out[:MaxVariants]
	}
	return out
}

func parseUnitFromStreetLine(streetLine string) (string, *unitInfo) {
	m := unitPattern.FindStringSubmatch(streetLine)
	if m == nil {
		return streetLine, nil
	}
	id := strings.TrimSpace(m[3])
	if id == "" {
		return streetLine, nil
	}
	return strings.TrimSpace(m[1]), &unitInfo{Designator: strings.ToLower(m[2]), ID: id}
}

func parseUnitOnly(part string) *unitInfo {
	m := unitOnlyPattern.FindStringSubmatch(part)
	if m == nil {
		return nil
	}
	id := strings.TrimSpace(m[2])
	if id == "" {
		return nil
	}
	return &unitInfo{Designator: strings.ToLower(m[1]), ID: id}
}

func streetLineVariants(streetLine string) []string {
	tokens := strings.Fields(streetLine)
	if len(tokens) == 0 {
		return nil
	}
	normalized := make([]string, len(tokens))
	for i, tok := range tokens {
		normalized[i] = normalizeToken(tok)
	}

	prefixDirIdx := -1
	if len(tokens) >= 2 && startsWithDigit(tokens[0]) {
		if _, ok := directionForms[normalized[1]]; ok {
			prefixDirIdx = 1
		}
	}
	suffixDirIdx := -1
	if _, ok := directionForms[normalized[len(normalized)-1]]; ok {
		suffixDirIdx = len(normalized) - 1
	}
	suffixIdx := len(normalized) - 1
	if suffixDirIdx >= 0 {
		suffixIdx = suffixDirIdx - 1
	}
	if suffixIdx >= 0 {
		if _, ok := suffixForms[normalized[suffixIdx]]; !ok {
			suffixIdx = -1
		}
	}

	build := func(abbr bool) string {
		updated := make([]string, len(tokens))
		copy(updated, tokens)
		pick := func(f wordForm) string {
			if abbr {
				return f.Abbr
			}
			return f.Full
		}
		if prefixDirIdx >= 0 {
			updated[prefixDirIdx] = pick(directionForms[normalized[prefixDirIdx]])
		}
		if suffixDirIdx >= 0 {
			updated[suffixDirIdx] = pick(directionForms[normalized[suffixDirIdx]])
		}
		if suffixIdx >= 0 {
			updated[suffixIdx] = pick(suffixForms[normalized[suffixIdx]])
		}
		return strings.Join(updated, " ")
	}

	return uniqueNonEmpty([]string{build(true), build(false), strings.Join(tokens, " ")})
}

func unitLineVariants(unit *unitInfo) []string {
	if unit == nil {
		return nil
	}
	abbr, full := "Unit", "Unit"
	hashVariant := ""
	switch unit.Designator {
	case "apt", "apartment":
		abbr, full = "Apt", "Apartment"
		hashVariant = "#" + unit.ID
	case "suite", "ste":
		abbr, full = "Ste", "Suite"
	case "unit", "#":
		hashVariant = "#" + unit.ID
	case "bldg", "building":
		abbr, full = "Bldg", "Building"
	case "fl", "floor":
		abbr, full = "Fl", "Floor"
	case "lot":
		abbr, full = "Lot", "Lot"
	case "trlr", "trailer":
		abbr, full = "Trlr", "Trailer"
	}
	return uniqueNonEmpty([]string{abbr + " " + unit.ID, full + " " + unit.ID, hashVariant})
}

func joinAddress(street, unit, remainder string) string {
	base := street
	if unit != "" {
		base = street + " " + unit
	}
	if remainder == "" {
		return base
	}
	return base + ", " + remainder
}

func splitTrimmed(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func uniqueNonEmpty(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
