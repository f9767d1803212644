// Package evidencepack runs the Dallas Open Data evidence pack: bounded
// dataset discovery with hard-coded fallbacks, schema-hash-cached field
// mapping, address-variant querying with a geometry-radius fallback, and
// PII-redacted summaries. Every dead end is recorded as a data gap.
package evidencepack

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/evidence-cli/internal/address"
	"github.com/sells-group/evidence-cli/internal/evidence"
	"github.com/sells-group/evidence-cli/internal/fetcher"
	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/store"
	"github.com/sells-group/evidence-cli/pkg/geocode"
)

// Kind names one target dataset family.
type Kind string

const (
	KindPolice     Kind = "police"
	KindService311 Kind = "service311"
	KindParcel     Kind = "parcel"
)

const (
	// DefaultPortalURL is the Dallas Open Data Socrata portal.
	DefaultPortalURL = "https://www.dallasopendata.com"

	// pre2023Cutoff filters police/311 queries to the pre-2023 window.
	pre2023Cutoff = "2023-01-01T00:00:00.000"

	schemaCacheTTL      = 14 * 24 * time.Hour
	maxSampleRecords    = 3
	defaultRadiusMeters = 75
	rowLimit            = 25
	searchLimit         = 8
	maxCandidates       = 12
)

// recordTypePolice311 tags police/311 findings; they feed context, not a
// primary record type.
const recordTypePolice311 = model.RecordType("police_311_signals")

type kindConfig struct {
	Label            string
	DiscoveryQueries []string
	FallbackIDs      []string
	RecordType       model.RecordType
}

var kindConfigs = map[Kind]kindConfig{
	KindPolice: {
		Label:            "Police Incidents",
		DiscoveryQueries: []string{"Police Incidents", "RMS Incidents", "Incident Reports", "Police Incident"},
		FallbackIDs:      []string{"qv6i-rri7"},
		RecordType:       recordTypePolice311,
	},
	KindService311: {
		Label:            "311 Service Requests",
		DiscoveryQueries: []string{"311 Service Requests", "Service Requests", "311 Requests"},
		FallbackIDs:      []string{"i2q3-6wr4"},
		RecordType:       recordTypePolice311,
	},
	KindParcel: {
		Label:            "Parcel Shapefile",
		DiscoveryQueries: []string{"Parcel Shapefile", "Parcel", "Parcels"},
		FallbackIDs:      []string{"hy5f-5hrv"},
		RecordType:       model.RecordAssessorParcel,
	},
}

var allKinds = []Kind{KindPolice, KindService311, KindParcel}

// QueryAttempt logs one portal query for the audit trail.
type QueryAttempt struct {
	Kind         Kind   `json:"kind"`
	DatasetID    string `json:"datasetId,omitempty"`
	DatasetTitle string `json:"datasetTitle,omitempty"`
	QueryType    string `json:"queryType"` // discovery | address | radius
	Query        string `json:"query"`
	Matched      int    `json:"matched"`
	Error        string `json:"error,omitempty"`
}

// Result is the full pack output.
type Result struct {
	FindingsText  string          `json:"findingsText"`
	Sources       []model.Source  `json:"sources"`
	DataGaps      []model.DataGap `json:"dataGaps"`
	QueryAttempts []QueryAttempt  `json:"queryAttempts"`
}

// Input names the property under investigation.
type Input struct {
	Address      string
	Jurisdiction model.Jurisdiction
}

// Options configures a Pack.
type Options struct {
	// PortalURL overrides the Dallas portal; tests point it at a local
	// server.
	PortalURL string
	AppToken  string
	// Store caches schema field maps when set.
	Store store.Store
	// Geocoder enables the geometry-radius fallback when set.
	Geocoder *geocode.Client
}

// Pack is the Dallas adaptive query consumer.
type Pack struct {
	http *fetcher.Client
	opts Options
}

// New creates a Pack on the shared HTTP layer.
func New(httpClient *fetcher.Client, opts Options) *Pack {
	if opts.PortalURL == "" {
		opts.PortalURL = DefaultPortalURL
	}
	opts.PortalURL = strings.TrimRight(opts.PortalURL, "/")
	return &Pack{http: httpClient, opts: opts}
}

// Applies reports whether the pack covers a jurisdiction: Dallas city or
// county, in Texas or with the state unspecified.
func Applies(j model.Jurisdiction) bool {
	city := strings.ToLower(j.City)
	county := strings.ToLower(j.County)
	state := strings.ToLower(j.State)
	inDallas := strings.Contains(city, "dallas") || strings.Contains(county, "dallas")
	stateOK := state == "" || strings.Contains(state, "tx") || strings.Contains(state, "texas")
	return inDallas && stateOK
}

type candidate struct {
	DatasetID    string
	Title        string
	Description  string
	ResourceType string
	Permalink    string
}

// Run executes the pack end to end.
func (p *Pack) Run(ctx context.Context, input Input) (*Result, error) {
	result := &Result{}
	if !Applies(input.Jurisdiction) {
		return result, nil
	}

	variants := address.QueryVariants(input.Address)
	var point *geocode.Result
	if p.opts.Geocoder != nil {
		res, err := p.opts.Geocoder.Resolve(ctx, input.Address)
		if err != nil {
			zap.L().Warn("evidencepack: geocode failed", zap.Error(err))
		} else if res != nil {
			point = res.Geocode
		}
	}

	var summaries []string
	for _, kind := range allKinds {
		summary := p.runKind(ctx, kind, variants, point, result)
		if summary != "" {
			summaries = append(summaries, summary)
		}
	}

	if len(summaries) > 0 {
		lines := append(
			[]string{"Dallas Open Data Evidence (PII-redacted, block-level addresses only)."},
			summaries...,
		)
		lines = append(lines,
			"Notes: Query results reflect pre-2023 filters for police/311 datasets. "+
				"Zero results mean the query returned no rows, not a guarantee of absence.")
		result.FindingsText = strings.Join(lines, "\n")
	}
	return result, nil
}

func (p *Pack) runKind(ctx context.Context, kind Kind, variants []string, point *geocode.Result, result *Result) string {
	cfg := kindConfigs[kind]

	candidates := p.resolveCandidates(ctx, kind, &result.QueryAttempts)
	if len(candidates) == 0 {
		result.DataGaps = append(result.DataGaps, p.gap(
			model.GapNoDataset, model.GapStatusUnavailable, cfg,
			cfg.Label+" dataset unavailable for Dallas Open Data.",
			"Discovery returned no datasets.", "", ""))
		return ""
	}

	selected, meta, metaErr := p.selectCandidate(ctx, kind, candidates, result)
	if selected == nil {
		ids := make([]string, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.DatasetID)
		}
		detail := "Metadata fetch failed or only map layers found."
		if metaErr != "" {
			detail = metaErr
		}
		result.DataGaps = append(result.DataGaps, p.gap(
			model.GapFetchFailed, model.GapStatusUnavailable, cfg,
			cfg.Label+" dataset metadata unavailable.",
			detail+" Candidates: "+strings.Join(ids, ", "), "", ""))
		return ""
	}

	fields := metaFields(meta)
	fieldMap := p.resolveFieldMap(ctx, kind, selected.DatasetID, fields, result)

	if kind != KindParcel && fieldMap.Address == "" {
		result.DataGaps = append(result.DataGaps, p.gap(
			model.GapSchemaUnmapped, model.GapStatusMissing, cfg,
			cfg.Label+" dataset missing address field.",
			"Unable to locate address field in dataset "+selected.DatasetID+".",
			selected.DatasetID, ""))
		return ""
	}
	if kind != KindParcel && fieldMap.Date == "" {
		result.DataGaps = append(result.DataGaps, p.gap(
			model.GapSchemaUnmapped, model.GapStatusMissing, cfg,
			cfg.Label+" dataset missing date field.",
			"Unable to locate date field for pre-2023 filter in dataset "+selected.DatasetID+".",
			selected.DatasetID, ""))
		return ""
	}

	rows, queryNote := p.queryRows(ctx, kind, *selected, fieldMap, variants, point, &result.QueryAttempts)
	if len(rows) == 0 {
		result.DataGaps = append(result.DataGaps, p.gap(
			model.GapNoRecords, model.GapStatusMissing, cfg,
			cfg.Label+" dataset returned no records for the address query.",
			"Query returned 0 rows for dataset "+selected.DatasetID+".",
			selected.DatasetID, queryNote))
	}

	sanitized := sanitizeRecords(rows, fieldMap)
	datasetURL := p.opts.PortalURL + "/resource/" + selected.DatasetID + ".json"
	if strings.HasPrefix(selected.Permalink, "http") {
		datasetURL = selected.Permalink
	}
	sources, _ := evidence.Normalize([]evidence.Candidate{{URI: datasetURL, Title: cfg.Label}})
	result.Sources = append(result.Sources, sources...)

	return summarize(cfg.Label, selected.DatasetID, sanitized, fieldMap, queryNote)
}

func (p *Pack) resolveCandidates(ctx context.Context, kind Kind, attempts *[]QueryAttempt) []candidate {
	cfg := kindConfigs[kind]
	var raw []candidate
	for _, query := range cfg.DiscoveryQueries {
		results, err := p.search(ctx, query)
		attempt := QueryAttempt{Kind: kind, QueryType: "discovery", Query: query, Matched: len(results)}
		if err != nil {
			attempt.Error = err.Error()
		}
		*attempts = append(*attempts, attempt)
		if err != nil {
			continue
		}
		raw = append(raw, filterTabular(results)...)
		if len(raw) >= maxCandidates {
			break
		}
	}

	seen := make(map[string]struct{}, len(raw))
	deduped := make([]candidate, 0, len(raw))
	for _, c := range raw {
		if _, dup := seen[c.DatasetID]; dup {
			continue
		}
		seen[c.DatasetID] = struct{}{}
		deduped = append(deduped, c)
	}

	keywords := strings.Fields(strings.ToLower(cfg.Label))
	sort.SliceStable(deduped, func(a, b int) bool {
		return scoreCandidate(deduped[a], keywords) > scoreCandidate(deduped[b], keywords)
	})

	if len(cfg.FallbackIDs) > 0 {
		fallback := cfg.FallbackIDs[0]
		if _, present := seen[fallback]; !present {
			deduped = append(deduped, candidate{DatasetID: fallback, Title: cfg.Label})
		}
	}
	return deduped
}

func (p *Pack) selectCandidate(ctx context.Context, kind Kind, candidates []candidate, result *Result) (*candidate, map[string]any, string) {
	cfg := kindConfigs[kind]
	lastErr := ""
	for i := range candidates {
		c := candidates[i]
		meta, err := p.metadata(ctx, c.DatasetID)
		if err != nil {
			lastErr = err.Error()
			continue
		}
		if requiresAuth(meta) {
			result.DataGaps = append(result.DataGaps, p.gap(
				model.GapAccessRestrict, model.GapStatusRestricted, cfg,
				fmt.Sprintf("%s (%s) requires authentication or elevated access on Dallas Open Data.", c.Title, c.DatasetID),
				"Dataset requires authentication or restricted access.",
				c.DatasetID, ""))
			continue
		}
		if !isTabular(meta) {
			result.DataGaps = append(result.DataGaps, p.gap(
				model.GapNoDataset, model.GapStatusUnavailable, cfg,
				fmt.Sprintf("%s (%s) is not a tabular dataset (map or visualization).", c.Title, c.DatasetID),
				"Dataset is not tabular; cannot query via SODA.",
				c.DatasetID, ""))
			continue
		}
		return &candidates[i], meta, lastErr
	}
	return nil, nil, lastErr
}

func (p *Pack) resolveFieldMap(ctx context.Context, kind Kind, datasetID string, fields []model.Field, result *Result) FieldMap {
	cfg := kindConfigs[kind]
	ds := model.Dataset{Fields: fields}
	schemaHash := ds.SchemaHash()
	datasetKey := p.opts.PortalURL + "|" + datasetID

	var cached *store.SchemaEntry
	if p.opts.Store != nil {
		entry, err := p.opts.Store.GetSchema(ctx, datasetKey)
		if err != nil {
			zap.L().Warn("evidencepack: schema cache read failed", zap.Error(err))
		} else {
			cached = entry
		}
	}

	fieldMap := FieldMap{}
	if cached != nil && cached.SchemaHash == schemaHash && time.Since(cached.CachedAt) < schemaCacheTTL {
		fieldMap = fieldMapFromStore(cached.FieldMap)
	}
	if fieldMap.Empty() {
		fieldMap = InferFieldMap(fields, kind)
	}

	if cached != nil && cached.SchemaHash != schemaHash {
		result.DataGaps = append(result.DataGaps, p.gap(
			model.GapStaleSchema, model.GapStatusStale, cfg,
			cfg.Label+" dataset schema drift detected.",
			"Schema hash changed; dataset "+datasetID+" fields updated.",
			datasetID, "schema drift detected"))
	}

	if p.opts.Store != nil {
		err := p.opts.Store.SetSchema(ctx, store.SchemaEntry{
			DatasetKey: datasetKey,
			SchemaHash: schemaHash,
			FieldMap:   fieldMap.toStore(),
			CachedAt:   time.Now().UTC(),
		})
		if err != nil {
			zap.L().Warn("evidencepack: schema cache write failed", zap.Error(err))
		}
	}
	return fieldMap
}

func (p *Pack) queryRows(ctx context.Context, kind Kind, c candidate, fm FieldMap, variants []string, point *geocode.Result, attempts *[]QueryAttempt) ([]map[string]any, string) {
	selectFields := nonEmpty(fm.ID, fm.Date, fm.Type, fm.Status, fm.Address)
	queryNote := "address variant query (pre-2023)"
	if kind == KindParcel {
		queryNote = "address variant query"
	}

	if fm.Address != "" && len(variants) > 0 {
		clauses := []string{addressClause(fm.Address, variants)}
		if kind != KindParcel {
			clauses = append(clauses, dateClause(fm.Date))
		}
		where := mergeClauses(clauses)
		rows, err := p.rows(ctx, c.DatasetID, selectFields, where, fm.Date)
		attempt := QueryAttempt{
			Kind: kind, DatasetID: c.DatasetID, DatasetTitle: c.Title,
			QueryType: "address", Query: where, Matched: len(rows),
		}
		if err != nil {
			attempt.Error = err.Error()
		}
		*attempts = append(*attempts, attempt)
		if len(rows) > 0 {
			return rows, queryNote
		}
	}

	if fm.Geometry != "" && point != nil {
		clauses := []string{fmt.Sprintf("within_circle(%s, %v, %v, %d)",
			fm.Geometry, point.Point.Lat, point.Point.Lon, defaultRadiusMeters)}
		if kind != KindParcel {
			clauses = append(clauses, dateClause(fm.Date))
		}
		where := mergeClauses(clauses)
		rows, err := p.rows(ctx, c.DatasetID, selectFields, where, fm.Date)
		attempt := QueryAttempt{
			Kind: kind, DatasetID: c.DatasetID, DatasetTitle: c.Title,
			QueryType: "radius", Query: where, Matched: len(rows),
		}
		if err != nil {
			attempt.Error = err.Error()
		}
		*attempts = append(*attempts, attempt)
		if len(rows) > 0 {
			note := "radius query (pre-2023)"
			if kind == KindParcel {
				note = "radius query"
			}
			return rows, note
		}
	}

	return nil, queryNote
}

// Socrata portal calls.

func (p *Pack) requestContext() fetcher.RequestContext {
	return fetcher.RequestContext{
		PortalType:  model.PortalSocrata,
		PortalURL:   p.opts.PortalURL,
		MinInterval: fetcher.RateInterval(model.PortalSocrata, p.opts.AppToken != ""),
	}
}

func (p *Pack) headers() map[string]string {
	if p.opts.AppToken == "" {
		return nil
	}
	return map[string]string{"X-App-Token": p.opts.AppToken}
}

func (p *Pack) search(ctx context.Context, query string) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", fmt.Sprint(searchLimit))
	var payload struct {
		Results []map[string]any `json:"results"`
	}
	_, err := p.http.GetJSON(ctx, p.opts.PortalURL+"/api/search/views?"+params.Encode(),
		p.headers(), p.requestContext(), &payload)
	if err != nil {
		return nil, err
	}
	return payload.Results, nil
}

func (p *Pack) metadata(ctx context.Context, datasetID string) (map[string]any, error) {
	var meta map[string]any
	_, err := p.http.GetJSON(ctx, p.opts.PortalURL+"/api/views/"+datasetID+".json",
		p.headers(), p.requestContext(), &meta)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (p *Pack) rows(ctx context.Context, datasetID string, selectFields []string, where, orderField string) ([]map[string]any, error) {
	params := url.Values{}
	if len(selectFields) > 0 {
		params.Set("$select", strings.Join(selectFields, ","))
	}
	if where != "" {
		params.Set("$where", where)
	}
	params.Set("$limit", fmt.Sprint(rowLimit))
	if orderField != "" {
		params.Set("$order", orderField+" DESC")
	}
	var rows []map[string]any
	_, err := p.http.GetJSON(ctx, p.opts.PortalURL+"/resource/"+datasetID+".json?"+params.Encode(),
		p.headers(), p.requestContext(), &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Helpers.

func (p *Pack) gap(code model.GapReason, status model.GapStatus, cfg kindConfig, description, reason, datasetID, query string) model.DataGap {
	g := model.NewDataGap(code, status, description, reason)
	g.RecordType = cfg.RecordType
	g.DatasetID = datasetID
	pointer := model.SourcePointer{Label: "Dallas Open Data portal", PortalURL: p.opts.PortalURL}
	if datasetID != "" {
		pointer = model.SourcePointer{
			Label:     "Dallas Open Data dataset",
			PortalURL: p.opts.PortalURL,
			Endpoint:  p.opts.PortalURL + "/resource/" + datasetID + ".json",
			Query:     query,
		}
	}
	g.ExpectedSources = []model.SourcePointer{pointer}
	return g
}

func filterTabular(results []map[string]any) []candidate {
	var out []candidate
	for _, entry := range results {
		resource, _ := entry["resource"].(map[string]any)
		if resource == nil {
			resource = entry
		}
		id := stringAt(resource, "id")
		if id == "" {
			id = stringAt(entry, "id")
		}
		title := stringAt(resource, "name")
		if title == "" {
			title = stringAt(entry, "name")
		}
		if title == "" {
			title = stringAt(entry, "title")
		}
		if id == "" || title == "" {
			continue
		}
		resourceType := strings.ToLower(stringAt(resource, "type"))
		if resourceType != "" && (strings.Contains(resourceType, "map") ||
			strings.Contains(resourceType, "chart") || strings.Contains(resourceType, "filter")) {
			continue
		}
		permalink := stringAt(entry, "permalink")
		if permalink == "" {
			permalink = stringAt(resource, "permalink")
		}
		if permalink == "" {
			permalink = stringAt(entry, "link")
		}
		out = append(out, candidate{
			DatasetID:    id,
			Title:        title,
			Description:  stringAt(resource, "description"),
			ResourceType: resourceType,
			Permalink:    permalink,
		})
	}
	return out
}

func scoreCandidate(c candidate, keywords []string) int {
	text := strings.ToLower(c.Title + " " + c.Description)
	score := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			score += 3
		}
	}
	if strings.Contains(c.ResourceType, "dataset") {
		score += 2
	}
	return score
}

func isTabular(meta map[string]any) bool {
	viewType := strings.ToLower(stringAt(meta, "viewType") + stringAt(meta, "view_type"))
	displayType := strings.ToLower(stringAt(meta, "displayType") + stringAt(meta, "display_type"))
	return !strings.Contains(viewType, "map") && !strings.Contains(displayType, "map")
}

func requiresAuth(meta map[string]any) bool {
	if meta == nil {
		return false
	}
	access := strings.ToLower(stringAt(meta, "accessLevel") + stringAt(meta, "access_level") + stringAt(meta, "access"))
	if strings.Contains(access, "private") || strings.Contains(access, "restricted") || strings.Contains(access, "non-public") {
		return true
	}
	if private, _ := meta["private"].(bool); private {
		return true
	}
	stage := strings.ToLower(stringAt(meta, "publicationStage") + stringAt(meta, "publication_stage"))
	if stage != "" && stage != "published" {
		return true
	}
	approval := strings.ToLower(stringAt(meta, "approvalStatus") + stringAt(meta, "approval_status"))
	if approval != "" && approval != "approved" {
		return true
	}
	return false
}

func metaFields(meta map[string]any) []model.Field {
	columns, _ := meta["columns"].([]any)
	out := make([]model.Field, 0, len(columns))
	for _, raw := range columns {
		col, _ := raw.(map[string]any)
		if col == nil {
			continue
		}
		name := strings.TrimSpace(stringAt(col, "fieldName"))
		if name == "" {
			name = strings.TrimSpace(stringAt(col, "name"))
		}
		if name == "" {
			continue
		}
		out = append(out, model.Field{Name: name, Type: stringAt(col, "dataTypeName")})
	}
	return out
}

func addressClause(field string, variants []string) string {
	cleaned := make([]string, 0, len(variants))
	for _, v := range variants {
		v = strings.NewReplacer("%", "", "_", "").Replace(v)
		v = strings.ReplaceAll(v, "'", "''")
		if v == "" {
			continue
		}
		cleaned = append(cleaned, fmt.Sprintf("UPPER(%s) LIKE '%%%s%%'", field, v))
	}
	if len(cleaned) == 0 {
		return ""
	}
	if len(cleaned) == 1 {
		return cleaned[0]
	}
	return "(" + strings.Join(cleaned, " OR ") + ")"
}

func dateClause(field string) string {
	if field == "" {
		return ""
	}
	return field + " < '" + pre2023Cutoff + "'"
}

func mergeClauses(clauses []string) string {
	return strings.Join(nonEmpty(clauses...), " AND ")
}

func summarize(label, datasetID string, records []map[string]string, fm FieldMap, queryNote string) string {
	if len(records) == 0 {
		return fmt.Sprintf("%s (%s): query returned 0 records. %s", label, datasetID, queryNote)
	}
	ordered := nonEmpty(fm.ID, fm.Date, fm.Type, fm.Status, fm.Address)
	lines := []string{fmt.Sprintf("%s (%s): %d records matched. %s", label, datasetID, len(records), queryNote)}
	sample := records
	if len(sample) > maxSampleRecords {
		sample = sample[:maxSampleRecords]
	}
	for _, record := range sample {
		var parts []string
		for _, field := range ordered {
			if value, ok := record[field]; ok && value != "" {
				parts = append(parts, field+": "+value)
			}
		}
		if len(parts) > 0 {
			lines = append(lines, "- "+strings.Join(parts, " | "))
		}
	}
	return strings.Join(lines, "\n")
}

func stringAt(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
