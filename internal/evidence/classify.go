package evidence

import (
	"regexp"
	"strings"

	"github.com/sells-group/evidence-cli/internal/model"
)

// aggregatorDomains are commercial property listing sites. They may echo
// public-record data but are never treated as the record itself.
var aggregatorDomains = map[string]struct{}{
	"zillow.com":        {},
	"redfin.com":        {},
	"realtor.com":       {},
	"trulia.com":        {},
	"loopnet.com":       {},
	"propertyshark.com": {},
	"homes.com":         {},
	"apartments.com":    {},
}

var socialDomains = map[string]struct{}{
	"facebook.com":  {},
	"twitter.com":   {},
	"x.com":         {},
	"reddit.com":    {},
	"instagram.com": {},
	"tiktok.com":    {},
	"linkedin.com":  {},
}

var (
	primaryRecordPattern = regexp.MustCompile(`(?i)assessor|appraiser|appraisal|cad|property|parcel|tax|treasurer|recorder|clerk|register|gis|zoning|planning|permit|code\s*enforcement|deed`)
	openDataPattern      = regexp.MustCompile(`(?i)opendata|open-data|data\.|socrata|arcgis|esri|gis|catalog|dataset|hub`)
	aggregatorPattern    = regexp.MustCompile(`(?i)zillow|redfin|realtor|trulia|loopnet|propertyshark|homes\.com|apartments\.com|corelogic|realtytrac|attom`)
	socialPattern        = regexp.MustCompile(`(?i)facebook|twitter|x\.com|reddit|instagram|tiktok|linkedin|nextdoor`)
	govDomainPattern     = regexp.MustCompile(`(?i)(\.gov$|\.gov\.|\.mil$|\.mil\.)`)
	recordIDPathPattern  = regexp.MustCompile(`(?i)parcel|account|permit|record|case|roll|parcelid|accountid|permitid`)
)

var classBaseScores = map[model.SourceClass]int{
	model.ClassAuthoritative: 90,
	model.ClassQuasiOfficial: 70,
	model.ClassAggregator:    50,
	model.ClassSocial:        20,
	model.ClassUnknown:       35,
}

// Classify buckets a source by authority. Precedence is fixed: social and
// aggregator signatures override everything, then government domains
// (authoritative only when record keywords are also present), then open
// data portal patterns.
func Classify(src model.Source) model.SourceClass {
	domain := strings.ToLower(src.Domain)
	text := strings.ToLower(domain + " " + src.Title + " " + src.URI)

	if _, ok := socialDomains[domain]; ok || socialPattern.MatchString(text) {
		return model.ClassSocial
	}
	if _, ok := aggregatorDomains[domain]; ok || aggregatorPattern.MatchString(text) {
		return model.ClassAggregator
	}

	isGov := govDomainPattern.MatchString(domain)
	hasRecordKeywords := primaryRecordPattern.MatchString(text)

	switch {
	case isGov && hasRecordKeywords:
		return model.ClassAuthoritative
	case isGov:
		return model.ClassQuasiOfficial
	case openDataPattern.MatchString(text):
		return model.ClassQuasiOfficial
	default:
		return model.ClassUnknown
	}
}

// ScoreAuthority rates a source 0-100. The base score comes from the
// class; fixed deltas reward government domains, record keywords, and
// id-like URL paths, and penalize aggregator/social classes and missing
// or placeholder titles.
func ScoreAuthority(src model.Source) int {
	domain := strings.ToLower(src.Domain)
	text := strings.ToLower(domain + " " + src.Title + " " + src.URI)
	class := Classify(src)
	score := classBaseScores[class]

	if govDomainPattern.MatchString(domain) || strings.HasSuffix(domain, ".us") {
		score += 5
	}
	if primaryRecordPattern.MatchString(text) {
		score += 5
	}
	if recordIDPathPattern.MatchString(src.URI) {
		score += 5
	}
	if class == model.ClassAggregator {
		score -= 10
	}
	if class == model.ClassSocial {
		score -= 15
	}
	if strings.TrimSpace(src.Title) == "" || src.Title == src.Domain {
		score -= 5
	}

	return clampScore(score)
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
