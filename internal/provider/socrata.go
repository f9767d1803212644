package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/evidence-cli/internal/fetcher"
	"github.com/sells-group/evidence-cli/internal/geo"
	"github.com/sells-group/evidence-cli/internal/model"
)

// socrataProvider speaks the tabular query protocol: catalog search,
// per-dataset view descriptors, and SoQL row queries.
type socrataProvider struct {
	portalURL string
	deps      Deps
	interval  fetcher.RequestContext
}

func newSocrata(portalURL string, deps Deps) *socrataProvider {
	base := normalizePortalURL(portalURL)
	return &socrataProvider{
		portalURL: base,
		deps:      deps,
		interval: fetcher.RequestContext{
			PortalType:  model.PortalSocrata,
			PortalURL:   base,
			MinInterval: fetcher.RateInterval(model.PortalSocrata, deps.Auth.SocrataAppToken != ""),
		},
	}
}

func (p *socrataProvider) Type() model.PortalType { return model.PortalSocrata }
func (p *socrataProvider) PortalURL() string      { return p.portalURL }

func (p *socrataProvider) headers() map[string]string {
	if p.deps.Auth.SocrataAppToken == "" {
		return nil
	}
	return map[string]string{"X-App-Token": p.deps.Auth.SocrataAppToken}
}

func (p *socrataProvider) DiscoverDatasets(ctx context.Context, query string, limit int) ([]model.Dataset, error) {
	if limit <= 0 || limit > MaxDiscoveryDatasets {
		limit = MaxDiscoveryDatasets
	}
	searchURL := fmt.Sprintf("%s/api/search/views?q=%s&limit=%d", p.portalURL, url.QueryEscape(query), limit)

	var body struct {
		Results []map[string]any `json:"results"`
	}
	if _, err := p.deps.Client.GetJSON(ctx, searchURL, p.headers(), p.interval, &body); err != nil {
		return nil, eris.Wrap(err, "socrata: discover datasets")
	}

	var datasets []model.Dataset
	for _, entry := range body.Results {
		resource, _ := entry["resource"].(map[string]any)
		if resource == nil {
			resource = entry
		}
		metadata, _ := entry["metadata"].(map[string]any)
		if metadata == nil {
			metadata = map[string]any{}
		}

		license, licenseURL := licenseDetails(coalesce(resource["license"], metadata["license"], entry["license"]))
		terms, termsURL := termsDetails(coalesce(metadata["termsOfService"], entry["termsOfService"], entry["terms"]))

		d, ok := newDataset(model.Dataset{
			PortalType:  model.PortalSocrata,
			PortalURL:   p.portalURL,
			ID:          firstString(resource["id"], entry["id"]),
			Title:       firstString(resource["name"], resource["title"], entry["name"], entry["title"]),
			Description: firstString(resource["description"], entry["description"]),
			Source:      firstString(resource["attribution"], metadata["attribution"], entry["attribution"]),
			LastUpdated: isoDate(coalesce(resource["updatedAt"], resource["updated_at"], entry["updatedAt"], entry["updated_at"])),
			License:     license,
			LicenseURL:  licenseURL,
			Terms:       terms,
			TermsURL:    termsURL,
			AccessConstraints: accessConstraints(
				metadata["accessLevel"], metadata["accessLevelComment"], metadata["accessRights"], metadata["rights"],
			),
			DataURL:      firstString(resource["link"], resource["dataUrl"], entry["permalink"]),
			HomepageURL:  firstString(entry["permalink"], entry["link"]),
			Tags:         stringTags(entry["tags"]),
			ResourceType: firstString(resource["type"]),
		})
		if ok {
			datasets = append(datasets, d)
		}
	}
	return datasets, nil
}

// viewDescriptor is the per-dataset metadata document.
type socrataView struct {
	Name           string           `json:"name"`
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Attribution    string           `json:"attribution"`
	UpdatedAt      any              `json:"rowsUpdatedAt"`
	License        any              `json:"license"`
	TermsOfService any              `json:"termsOfService"`
	Terms          any              `json:"terms"`
	AccessLevel    any              `json:"accessLevel"`
	Rights         any              `json:"rights"`
	DataURL        string           `json:"dataUrl"`
	Link           string           `json:"link"`
	Permalink      string           `json:"permalink"`
	Tags           any              `json:"tags"`
	ViewType       string           `json:"viewType"`
	Columns        []map[string]any `json:"columns"`
}

func (p *socrataProvider) fetchView(ctx context.Context, datasetID string) (*socrataView, error) {
	if datasetID == "" {
		return nil, nil
	}
	metaURL := fmt.Sprintf("%s/api/views/%s.json", p.portalURL, url.PathEscape(datasetID))
	var view socrataView
	if _, err := p.deps.Client.GetJSON(ctx, metaURL, p.headers(), p.interval, &view); err != nil {
		return nil, eris.Wrap(err, "socrata: fetch view")
	}
	return &view, nil
}

func (p *socrataProvider) FetchMetadata(ctx context.Context, datasetID string) (*model.Dataset, error) {
	view, err := p.fetchView(ctx, datasetID)
	if err != nil || view == nil {
		return nil, err
	}
	license, licenseURL := licenseDetails(view.License)
	terms, termsURL := termsDetails(coalesce(view.TermsOfService, view.Terms))
	d, ok := newDataset(model.Dataset{
		PortalType:        model.PortalSocrata,
		PortalURL:         p.portalURL,
		ID:                datasetID,
		Title:             firstString(view.Name, view.Title),
		Description:       view.Description,
		Source:            view.Attribution,
		LastUpdated:       isoDate(view.UpdatedAt),
		License:           license,
		LicenseURL:        licenseURL,
		Terms:             terms,
		TermsURL:          termsURL,
		AccessConstraints: accessConstraints(view.AccessLevel, view.Rights),
		DataURL:           firstString(view.DataURL, view.Link),
		HomepageURL:       firstString(view.Permalink, view.Link),
		Tags:              stringTags(view.Tags),
		ResourceType:      view.ViewType,
	})
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (p *socrataProvider) ListFields(ctx context.Context, datasetID string) ([]model.Field, error) {
	view, err := p.fetchView(ctx, datasetID)
	if err != nil || view == nil {
		return nil, err
	}
	var fields []model.Field
	for _, col := range view.Columns {
		name := firstString(col["fieldName"], col["name"])
		if name == "" {
			continue
		}
		dataType := firstString(col["dataTypeName"], col["dataType"])
		fields = append(fields, model.Field{
			Name:        name,
			Type:        dataType,
			Description: asString(col["description"]),
			IsGeometry:  dataType == "location" || dataType == "point",
		})
	}
	return fields, nil
}

func (p *socrataProvider) GetDistributions(ctx context.Context, datasetID string) ([]model.Distribution, error) {
	meta, err := p.FetchMetadata(ctx, datasetID)
	if err != nil || meta == nil {
		return nil, err
	}
	return []model.Distribution{{Format: "json", AccessURL: meta.DataURL, DownloadURL: meta.DataURL}}, nil
}

func (p *socrataProvider) queryRows(ctx context.Context, datasetID string, params url.Values) (*Result, error) {
	queryURL := fmt.Sprintf("%s/resource/%s.json?%s", p.portalURL, url.PathEscape(datasetID), params.Encode())
	var rows []map[string]any
	resp, err := p.deps.Client.GetJSON(ctx, queryURL, p.headers(), p.interval, &rows)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.Status
		}
		return queryFailedResult(err, status), nil
	}

	limit, _ := strconv.Atoi(params.Get("$limit"))
	offset, _ := strconv.Atoi(params.Get("$offset"))
	result := &Result{Records: make([]Record, 0, len(rows))}
	for _, row := range rows {
		result.Records = append(result.Records, Record{
			ID:         firstString(row["id"], row["sid"]),
			Attributes: row,
			Geometry:   socrataGeometry(coalesce(row["location"], row["geom"], row["the_geom"])),
		})
	}
	if len(rows) == limit && limit > 0 {
		next := offset + limit
		result.NextOffset = &next
	}
	return result, nil
}

func (p *socrataProvider) QueryByText(ctx context.Context, input QueryInput) (*Result, error) {
	limit := clampLimit(input.Limit)
	offset := max(0, input.Offset)
	if exceedsPageLimit(offset, limit) {
		return pageLimitResult(), nil
	}
	params := url.Values{}
	params.Set("$limit", strconv.Itoa(limit))
	params.Set("$offset", strconv.Itoa(offset))
	if input.SearchText != "" {
		params.Set("$q", input.SearchText)
	}
	return p.queryRows(ctx, input.DatasetID, params)
}

func (p *socrataProvider) QueryByGeometry(ctx context.Context, input QueryInput) (*Result, error) {
	limit := clampLimit(input.Limit)
	offset := max(0, input.Offset)
	if exceedsPageLimit(offset, limit) {
		return pageLimitResult(), nil
	}

	fields, err := p.ListFields(ctx, input.DatasetID)
	if err != nil {
		return nil, err
	}
	geometryField := ""
	for _, f := range fields {
		if f.IsGeometry {
			geometryField = f.Name
			break
		}
	}
	if geometryField == "" {
		return &Result{Errors: []Error{{Code: CodeNoGeometry, Message: "No geometry field detected."}}}, nil
	}

	params := url.Values{}
	params.Set("$limit", strconv.Itoa(limit))
	params.Set("$offset", strconv.Itoa(offset))

	ok, supplied := validPoint(input.Point)
	if supplied && !ok {
		return &Result{Errors: []Error{{Code: CodeInvalidCRS, Message: "Invalid point geometry (expect EPSG:4326)."}}}, nil
	}
	switch {
	case ok:
		params.Set("$where", fmt.Sprintf("within_circle(%s, %v, %v, %d)", geometryField, input.Point.Lat, input.Point.Lon, radiusMeters))
	case input.Geometry != nil:
		wkt, werr := input.Geometry.WKT()
		if werr != nil {
			return nil, eris.Wrap(werr, "socrata: encode polygon")
		}
		params.Set("$where", fmt.Sprintf("within_polygon(%s, '%s')", geometryField, wkt))
	default:
		return &Result{Errors: []Error{{Code: CodeMissingGeometry, Message: "No geometry supplied."}}}, nil
	}
	return p.queryRows(ctx, input.DatasetID, params)
}

// radiusMeters is the fixed search radius for point queries.
const radiusMeters = 25

// socrataGeometry normalizes a row's geometry column: GeoJSON passes
// through, points and split lat/lon columns lift into degenerate polygons.
func socrataGeometry(v any) *geo.Geometry {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	if t := asString(m["type"]); t != "" && m["coordinates"] != nil {
		g, err := geo.FromValue(m)
		if err != nil {
			zap.L().Debug("socrata: unparseable geometry", zap.Error(err))
			return nil
		}
		return g
	}
	lat, okLat := numeric(m["latitude"])
	lon, okLon := numeric(m["longitude"])
	if okLat && okLon {
		return geo.PointGeometry(lat, lon)
	}
	return nil
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

// coalesce returns the first non-nil value.
func coalesce(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
