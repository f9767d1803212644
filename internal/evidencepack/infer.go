package evidencepack

import (
	"regexp"
	"strings"

	"github.com/sells-group/evidence-cli/internal/model"
)

// FieldMap names the dataset columns the pack queries and reports.
// Inferred per dataset kind from the live schema, then cached against the
// schema hash.
type FieldMap struct {
	Address  string `json:"address,omitempty"`
	Date     string `json:"date,omitempty"`
	Type     string `json:"type,omitempty"`
	Status   string `json:"status,omitempty"`
	ID       string `json:"id,omitempty"`
	Geometry string `json:"geometry,omitempty"`
}

// Empty reports whether inference found nothing usable.
func (m FieldMap) Empty() bool {
	return m == FieldMap{}
}

func (m FieldMap) toStore() map[string]string {
	out := make(map[string]string, 6)
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put("address", m.Address)
	put("date", m.Date)
	put("type", m.Type)
	put("status", m.Status)
	put("id", m.ID)
	put("geometry", m.Geometry)
	return out
}

func fieldMapFromStore(raw map[string]string) FieldMap {
	return FieldMap{
		Address:  raw["address"],
		Date:     raw["date"],
		Type:     raw["type"],
		Status:   raw["status"],
		ID:       raw["id"],
		Geometry: raw["geometry"],
	}
}

type scoredPattern struct {
	re    *regexp.Regexp
	score int
}

func patterns(pairs ...any) []scoredPattern {
	out := make([]scoredPattern, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, scoredPattern{
			re:    regexp.MustCompile(`(?i)` + pairs[i].(string)),
			score: pairs[i+1].(int),
		})
	}
	return out
}

var (
	parcelAddressPatterns = patterns(
		`(situs|site_?address|property_?address|address)`, 5,
		`(location|loc_)`, 3,
		`(block)`, 2,
	)
	incidentAddressPatterns = patterns(
		`(full_?address|street_?address|incident_?address|address)`, 5,
		`(location|loc_)`, 3,
		`(block)`, 2,
	)
	datePatterns = patterns(
		`(incident|reported|report|created|request|call|occur).*date`, 5,
		`(date|time|timestamp)`, 3,
	)
	serviceTypePatterns = patterns(
		`(service_?request_?type|request_?type|case_?type|problem_?type|complaint_?type|category)`, 5,
		`(service|type|issue|description)`, 3,
	)
	policeTypePatterns = patterns(
		`(offense|crime|incident_?type|ucr|classification)`, 5,
		`(type|description)`, 3,
	)
	statusPatterns = patterns(
		`(status|case_?status|disposition)`, 4,
	)
	parcelIDPatterns = patterns(
		`(parcel_?id|parcelid|apn|pin)`, 5,
		`(account|acct|taxroll)_?id`, 4,
		`(^id$|_id$)`, 2,
	)
	incidentIDPatterns = patterns(
		`(incident|case|service_?request|request)_?id`, 5,
		`(incident|case|service_?request|request)_?number`, 4,
		`(^id$|_id$)`, 2,
	)
)

func fieldScore(field string, pats []scoredPattern) int {
	for _, p := range pats {
		if p.re.MatchString(field) {
			return p.score
		}
	}
	return 0
}

func pickBest(fields []model.Field, pats []scoredPattern) string {
	best := ""
	bestScore := 0
	for _, f := range fields {
		score := fieldScore(strings.ToLower(f.Name), pats)
		if score > bestScore {
			best = f.Name
			bestScore = score
		}
	}
	return best
}

// InferFieldMap picks the best-matching column for each role using the
// kind-specific scored patterns.
func InferFieldMap(fields []model.Field, kind Kind) FieldMap {
	addressPats := incidentAddressPatterns
	typePats := policeTypePatterns
	idPats := incidentIDPatterns
	switch kind {
	case KindParcel:
		addressPats = parcelAddressPatterns
		idPats = parcelIDPatterns
	case KindService311:
		typePats = serviceTypePatterns
	}

	geometry := ""
	for _, f := range fields {
		t := strings.ToLower(f.Type)
		if strings.Contains(t, "location") {
			geometry = f.Name
			break
		}
	}
	if geometry == "" {
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f.Type), "point") {
				geometry = f.Name
				break
			}
		}
	}

	return FieldMap{
		Address:  pickBest(fields, addressPats),
		Date:     pickBest(fields, datePatterns),
		Type:     pickBest(fields, typePats),
		Status:   pickBest(fields, statusPatterns),
		ID:       pickBest(fields, idPats),
		Geometry: geometry,
	}
}
