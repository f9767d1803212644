package provider

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/evidence-cli/internal/fetcher"
	"github.com/sells-group/evidence-cli/internal/geo"
	"github.com/sells-group/evidence-cli/internal/model"
)

// dcatProvider speaks the catalog-manifest protocol: the portal publishes a
// single JSON manifest and raw distribution files, with no query API. Row
// queries download the distribution and filter in memory, size-capped and
// feature-capped to bound cost.
type dcatProvider struct {
	portalURL string
	deps      Deps
	interval  fetcher.RequestContext
}

func newDCAT(portalURL string, deps Deps) *dcatProvider {
	base := normalizePortalURL(portalURL)
	return &dcatProvider{
		portalURL: base,
		deps:      deps,
		interval: fetcher.RequestContext{
			PortalType:  model.PortalDCAT,
			PortalURL:   base,
			MinInterval: fetcher.RateInterval(model.PortalDCAT, false),
		},
	}
}

func (p *dcatProvider) Type() model.PortalType { return model.PortalDCAT }
func (p *dcatProvider) PortalURL() string      { return p.portalURL }

// catalogCandidates lists manifest URLs to try in order.
func (p *dcatProvider) catalogCandidates() []string {
	if strings.HasSuffix(p.portalURL, ".json") {
		return []string{p.portalURL}
	}
	return []string{p.portalURL + "/data.json", p.portalURL + "/catalog.json"}
}

func (p *dcatProvider) loadCatalog(ctx context.Context) (map[string]any, error) {
	var lastErr error
	for _, candidate := range p.catalogCandidates() {
		var catalog map[string]any
		if _, err := p.deps.Client.GetJSON(ctx, candidate, nil, p.interval, &catalog); err != nil {
			lastErr = err
			continue
		}
		return catalog, nil
	}
	return nil, eris.Wrap(lastErr, "dcat: load catalog")
}

func catalogDatasets(catalog map[string]any) []map[string]any {
	for _, key := range []string{"dataset", "datasets"} {
		items, ok := catalog[key].([]any)
		if !ok {
			continue
		}
		out := make([]map[string]any, 0, len(items))
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func (p *dcatProvider) parseEntry(entry map[string]any) (model.Dataset, bool) {
	license, licenseURL := licenseDetails(entry["license"])
	terms, termsURL := termsDetails(coalesce(entry["termsOfUse"], entry["terms"], entry["rights"]))

	dataURL := ""
	if dists, ok := entry["distribution"].([]any); ok {
		var fallback map[string]any
		for _, item := range dists {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if fallback == nil {
				fallback = m
			}
			if asString(m["downloadURL"]) != "" || asString(m["accessURL"]) != "" {
				fallback = m
				break
			}
		}
		if fallback != nil {
			dataURL = firstString(fallback["downloadURL"], fallback["accessURL"])
		}
	}

	return newDataset(model.Dataset{
		PortalType:  model.PortalDCAT,
		PortalURL:   p.portalURL,
		ID:          firstString(entry["identifier"], entry["id"]),
		Title:       firstString(entry["title"], entry["name"]),
		Description: firstString(entry["description"], entry["notes"]),
		Source:      publisherName(entry["publisher"]),
		LastUpdated: isoDate(coalesce(entry["modified"], entry["updated"], entry["issued"])),
		License:     license,
		LicenseURL:  licenseURL,
		Terms:       terms,
		TermsURL:    termsURL,
		AccessConstraints: accessConstraints(
			entry["accessLevel"], entry["accessLevelComment"], entry["accessRights"],
			entry["rights"], entry["constraints"],
		),
		DataURL:     dataURL,
		HomepageURL: firstString(entry["landingPage"], entry["homepage"], p.portalURL),
		Tags:        stringTags(entry["keyword"]),
	})
}

func (p *dcatProvider) DiscoverDatasets(ctx context.Context, query string, limit int) ([]model.Dataset, error) {
	if limit <= 0 || limit > MaxDiscoveryDatasets {
		limit = MaxDiscoveryDatasets
	}
	catalog, err := p.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	lowerQuery := strings.ToLower(query)

	var out []model.Dataset
	for _, entry := range catalogDatasets(catalog) {
		title := firstString(entry["title"], entry["name"])
		description := firstString(entry["description"], entry["notes"])
		tags := stringTags(entry["keyword"])
		haystack := strings.ToLower(title + " " + description + " " + strings.Join(tags, " "))
		if lowerQuery != "" && !strings.Contains(haystack, lowerQuery) {
			continue
		}
		if d, ok := p.parseEntry(entry); ok {
			out = append(out, d)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (p *dcatProvider) FetchMetadata(ctx context.Context, datasetID string) (*model.Dataset, error) {
	catalog, err := p.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	for _, entry := range catalogDatasets(catalog) {
		if firstString(entry["identifier"], entry["id"]) != datasetID {
			continue
		}
		if d, ok := p.parseEntry(entry); ok {
			return &d, nil
		}
		return nil, nil
	}
	return nil, nil
}

func (p *dcatProvider) GetDistributions(ctx context.Context, datasetID string) ([]model.Distribution, error) {
	meta, err := p.FetchMetadata(ctx, datasetID)
	if err != nil || meta == nil {
		return nil, err
	}
	return []model.Distribution{{Format: "json", AccessURL: meta.DataURL, DownloadURL: meta.DataURL}}, nil
}

// distribution holds one downloaded and decoded dataset file.
type dcatDistribution struct {
	records []Record
	errCode string
}

// loadDistribution downloads the primary distribution. There is no live
// field-introspection endpoint; everything derives from the file's shape.
func (p *dcatProvider) loadDistribution(ctx context.Context, datasetID string) (*dcatDistribution, error) {
	meta, err := p.FetchMetadata(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if meta == nil || meta.DataURL == "" {
		return &dcatDistribution{errCode: CodeNoDistribution}, nil
	}
	body, err := p.deps.Client.Download(ctx, meta.DataURL, DCATMaxDownloadBytes, p.interval)
	if err != nil {
		if eris.Is(err, fetcher.ErrTooLarge) {
			return &dcatDistribution{errCode: CodeDownloadTooLarge}, nil
		}
		return nil, eris.Wrap(err, "dcat: download distribution")
	}
	records := decodeDistribution(body)
	if records == nil {
		return &dcatDistribution{errCode: CodeNoDistribution}, nil
	}
	return &dcatDistribution{records: records}, nil
}

// decodeDistribution accepts a GeoJSON FeatureCollection, a JSON array of
// rows, or CSV text.
func decodeDistribution(body []byte) []Record {
	var collection struct {
		Type     string `json:"type"`
		Features []struct {
			ID         any             `json:"id"`
			Properties map[string]any  `json:"properties"`
			Geometry   json.RawMessage `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(body, &collection); err == nil && collection.Type == "FeatureCollection" {
		records := make([]Record, 0, len(collection.Features))
		for _, f := range collection.Features {
			attrs := f.Properties
			if attrs == nil {
				attrs = map[string]any{}
			}
			var g *geo.Geometry
			if len(f.Geometry) > 0 {
				g, _ = geo.FromGeoJSON(f.Geometry)
			}
			records = append(records, Record{ID: asString(f.ID), Attributes: attrs, Geometry: g})
		}
		return records
	}

	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err == nil {
		records := make([]Record, 0, len(rows))
		for _, row := range rows {
			records = append(records, Record{Attributes: row, Geometry: rowGeometry(row)})
		}
		return records
	}

	if csvRows := parseCSV(string(body)); csvRows != nil {
		records := make([]Record, 0, len(csvRows))
		for _, row := range csvRows {
			records = append(records, Record{Attributes: row, Geometry: rowGeometry(row)})
		}
		return records
	}
	return nil
}

// rowGeometry looks for an embedded geometry value or split lat/lon columns.
func rowGeometry(row map[string]any) *geo.Geometry {
	if g := socrataGeometry(row["geometry"]); g != nil {
		return g
	}
	var latKey, lonKey string
	for key := range row {
		lower := strings.ToLower(key)
		if latKey == "" && strings.Contains(lower, "lat") {
			latKey = key
		}
		if lonKey == "" && (strings.Contains(lower, "lon") || strings.Contains(lower, "lng")) {
			lonKey = key
		}
	}
	if latKey == "" || lonKey == "" {
		return nil
	}
	lat, okLat := numeric(row[latKey])
	lon, okLon := numeric(row[lonKey])
	if !okLat || !okLon {
		return nil
	}
	return geo.PointGeometry(lat, lon)
}

// parseCSV performs a minimal header-row split. Quoted commas are not
// handled; catalog exports this path serves are simple dumps.
func parseCSV(text string) []map[string]any {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 1 || !strings.Contains(lines[0], ",") {
		return nil
	}
	trim := func(s string) string {
		return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))
	}
	headers := strings.Split(lines[0], ",")
	for i := range headers {
		headers[i] = trim(headers[i])
	}
	rows := make([]map[string]any, 0, len(lines)-1)
	for _, line := range lines[1:] {
		values := strings.Split(line, ",")
		row := make(map[string]any, len(headers))
		for i, header := range headers {
			if i < len(values) {
				row[header] = trim(values[i])
			} else {
				row[header] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func (p *dcatProvider) ListFields(ctx context.Context, datasetID string) ([]model.Field, error) {
	dist, err := p.loadDistribution(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if dist.errCode != "" || len(dist.records) == 0 {
		return nil, nil
	}
	attrs := dist.records[0].Attributes
	fields := make([]model.Field, 0, len(attrs))
	for key := range attrs {
		fields = append(fields, model.Field{Name: key})
	}
	return fields, nil
}

func (p *dcatProvider) QueryByText(ctx context.Context, input QueryInput) (*Result, error) {
	limit := clampLimit(input.Limit)
	offset := max(0, input.Offset)
	if exceedsPageLimit(offset, limit) {
		return pageLimitResult(), nil
	}
	dist, err := p.loadDistribution(ctx, input.DatasetID)
	if err != nil {
		return nil, err
	}
	if dist.errCode != "" {
		return &Result{Errors: []Error{{Code: dist.errCode, Message: distributionErrMessage(dist.errCode)}}}, nil
	}
	records := dist.records
	if text := strings.ToLower(input.SearchText); text != "" {
		var filtered []Record
		for _, rec := range records {
			var sb strings.Builder
			for _, v := range rec.Attributes {
				if s, ok := v.(string); ok {
					sb.WriteString(s)
					sb.WriteString(" ")
				}
			}
			if strings.Contains(strings.ToLower(sb.String()), text) {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	return &Result{Records: slicePage(records, offset, limit)}, nil
}

func (p *dcatProvider) QueryByGeometry(ctx context.Context, input QueryInput) (*Result, error) {
	limit := clampLimit(input.Limit)
	offset := max(0, input.Offset)
	if exceedsPageLimit(offset, limit) {
		return pageLimitResult(), nil
	}
	dist, err := p.loadDistribution(ctx, input.DatasetID)
	if err != nil {
		return nil, err
	}
	if dist.errCode != "" {
		return &Result{Errors: []Error{{Code: dist.errCode, Message: distributionErrMessage(dist.errCode)}}}, nil
	}

	ok, supplied := validPoint(input.Point)
	if supplied && !ok {
		return &Result{Errors: []Error{{Code: CodeInvalidCRS, Message: "Invalid point geometry (expect EPSG:4326)."}}}, nil
	}
	if !ok {
		return &Result{Errors: []Error{{Code: CodeMissingGeometry, Message: "No geometry supplied."}}}, nil
	}
	// Above the feature cap, refuse rather than scan unbounded data.
	if len(dist.records) > geo.MaxLocalJoinFeatures {
		return &Result{Errors: []Error{{Code: CodeTooManyFeatures, Message: "Local spatial join skipped for large dataset."}}}, nil
	}

	var filtered []Record
	for _, rec := range dist.records {
		if geo.PointInGeometry(*input.Point, rec.Geometry) {
			filtered = append(filtered, rec)
		}
	}
	return &Result{Records: slicePage(filtered, offset, limit)}, nil
}

func distributionErrMessage(code string) string {
	switch code {
	case CodeDownloadTooLarge:
		return "Dataset too large."
	default:
		return "No distribution found."
	}
}

func slicePage(records []Record, offset, limit int) []Record {
	if offset >= len(records) {
		return []Record{}
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}
