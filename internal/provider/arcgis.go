package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/evidence-cli/internal/fetcher"
	"github.com/sells-group/evidence-cli/internal/geo"
	"github.com/sells-group/evidence-cli/internal/model"
)

// arcgisProvider speaks the feature-service protocol: item search under
// /sharing/rest, layer resolution, and layer /query calls. All geometry
// output is requested in WGS-84 regardless of the service's native
// projection.
type arcgisProvider struct {
	portalURL string
	deps      Deps
	interval  fetcher.RequestContext
}

func newArcGIS(portalURL string, deps Deps) *arcgisProvider {
	base := normalizePortalURL(portalURL)
	return &arcgisProvider{
		portalURL: base,
		deps:      deps,
		interval: fetcher.RequestContext{
			PortalType:  model.PortalArcGIS,
			PortalURL:   base,
			MinInterval: fetcher.RateInterval(model.PortalArcGIS, deps.Auth.ArcGISAPIKey != ""),
		},
	}
}

func (p *arcgisProvider) Type() model.PortalType { return model.PortalArcGIS }
func (p *arcgisProvider) PortalURL() string      { return p.portalURL }

// withToken appends the API key when configured.
func (p *arcgisProvider) withToken(rawURL string) string {
	if p.deps.Auth.ArcGISAPIKey == "" {
		return rawURL
	}
	joiner := "?"
	if strings.Contains(rawURL, "?") {
		joiner = "&"
	}
	return rawURL + joiner + "token=" + url.QueryEscape(p.deps.Auth.ArcGISAPIKey)
}

type arcgisItem struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Name               string `json:"name"`
	Snippet            string `json:"snippet"`
	Description        string `json:"description"`
	Owner              string `json:"owner"`
	OrgID              string `json:"orgId"`
	AccessInformation  string `json:"accessInformation"`
	Access             any    `json:"access"`
	AccessLevel        any    `json:"accessLevel"`
	AccessLevelComment any    `json:"accessLevelComment"`
	AccessRights       any    `json:"accessRights"`
	Rights             any    `json:"rights"`
	Constraints        any    `json:"constraints"`
	LicenseInfo        any    `json:"licenseInfo"`
	License            any    `json:"license"`
	TermsOfUse         any    `json:"termsOfUse"`
	TermsOfService     any    `json:"termsOfService"`
	Terms              any    `json:"terms"`
	Modified           any    `json:"modified"`
	Created            any    `json:"created"`
	URL                string `json:"url"`
	Type               string `json:"type"`
	Tags               any    `json:"tags"`
}

func (p *arcgisProvider) DiscoverDatasets(ctx context.Context, query string, limit int) ([]model.Dataset, error) {
	if limit <= 0 || limit > MaxDiscoveryDatasets {
		limit = MaxDiscoveryDatasets
	}
	searchURL := fmt.Sprintf(`%s/sharing/rest/search?f=json&q=%s+AND+type%%3A%%22Feature%%20Service%%22&num=%d`,
		p.portalURL, url.QueryEscape(query), limit)

	var body struct {
		Results []arcgisItem `json:"results"`
	}
	if _, err := p.deps.Client.GetJSON(ctx, p.withToken(searchURL), nil, p.interval, &body); err != nil {
		return nil, eris.Wrap(err, "arcgis: discover datasets")
	}

	var datasets []model.Dataset
	itemFetches := 0
	for _, entry := range body.Results {
		license, licenseURL := licenseDetails(coalesce(entry.LicenseInfo, entry.License))
		terms, termsURL := termsDetails(coalesce(entry.TermsOfUse, entry.TermsOfService, entry.Terms))
		constraints := accessConstraints(
			entry.Access, entry.AccessInformation, entry.AccessLevel,
			entry.AccessLevelComment, entry.AccessRights, entry.Rights, entry.Constraints,
		)
		dataURL := entry.URL

		// One extra metadata fetch per hit fills gaps in the search result,
		// bounded to cap fan-out.
		if entry.ID != "" && itemFetches < MaxItemFetches {
			itemFetches++
			if item, err := p.fetchItem(ctx, entry.ID); err == nil && item != nil {
				if license == "" || licenseURL == "" {
					l, lu := licenseDetails(coalesce(item.LicenseInfo, item.License))
					if license == "" {
						license = l
					}
					if licenseURL == "" {
						licenseURL = lu
					}
				}
				if terms == "" || termsURL == "" {
					tm, tu := termsDetails(coalesce(item.TermsOfUse, item.TermsOfService, item.Terms))
					if terms == "" {
						terms = tm
					}
					if termsURL == "" {
						termsURL = tu
					}
				}
				constraints = mergeUnique(constraints, accessConstraints(
					item.Access, item.AccessInformation, item.AccessLevel,
					item.AccessLevelComment, item.AccessRights, item.Rights, item.Constraints,
				))
				if dataURL == "" {
					dataURL = item.URL
				}
			}
		}

		homepage := ""
		if entry.ID != "" {
			homepage = fmt.Sprintf("%s/home/item.html?id=%s", p.portalURL, entry.ID)
		}
		d, ok := newDataset(model.Dataset{
			PortalType:        model.PortalArcGIS,
			PortalURL:         p.portalURL,
			ID:                entry.ID,
			Title:             firstString(entry.Title, entry.Name),
			Description:       firstString(entry.Snippet, entry.Description),
			Source:            firstString(entry.Owner, entry.OrgID, entry.AccessInformation),
			LastUpdated:       isoDate(coalesce(entry.Modified, entry.Created)),
			License:           license,
			LicenseURL:        licenseURL,
			Terms:             terms,
			TermsURL:          termsURL,
			AccessConstraints: constraints,
			DataURL:           dataURL,
			HomepageURL:       homepage,
			Tags:              stringTags(entry.Tags),
			ResourceType:      entry.Type,
		})
		if ok {
			datasets = append(datasets, d)
		}
	}
	return datasets, nil
}

func (p *arcgisProvider) fetchItem(ctx context.Context, itemID string) (*arcgisItem, error) {
	itemURL := fmt.Sprintf("%s/sharing/rest/content/items/%s?f=json", p.portalURL, url.PathEscape(itemID))
	var item arcgisItem
	if _, err := p.deps.Client.GetJSON(ctx, p.withToken(itemURL), nil, p.interval, &item); err != nil {
		return nil, eris.Wrap(err, "arcgis: fetch item")
	}
	return &item, nil
}

func (p *arcgisProvider) FetchMetadata(ctx context.Context, datasetID string) (*model.Dataset, error) {
	if datasetID == "" {
		return nil, nil
	}
	item, err := p.fetchItem(ctx, datasetID)
	if err != nil || item == nil {
		return nil, err
	}
	license, licenseURL := licenseDetails(coalesce(item.LicenseInfo, item.License))
	terms, termsURL := termsDetails(coalesce(item.TermsOfUse, item.TermsOfService, item.Terms))
	d, ok := newDataset(model.Dataset{
		PortalType:        model.PortalArcGIS,
		PortalURL:         p.portalURL,
		ID:                datasetID,
		Title:             item.Title,
		Description:       firstString(item.Description, item.Snippet),
		Source:            firstString(item.Owner, item.OrgID, item.AccessInformation),
		LastUpdated:       isoDate(coalesce(item.Modified, item.Created)),
		License:           license,
		LicenseURL:        licenseURL,
		Terms:             terms,
		TermsURL:          termsURL,
		AccessConstraints: accessConstraints(item.Access, item.AccessInformation, item.AccessRights),
		DataURL:           item.URL,
		HomepageURL:       fmt.Sprintf("%s/home/item.html?id=%s", p.portalURL, datasetID),
		Tags:              stringTags(item.Tags),
		ResourceType:      item.Type,
	})
	if !ok {
		return nil, nil
	}
	return &d, nil
}

type arcgisLayer struct {
	ID           int
	Name         string
	URL          string
	GeometryType string
}

// fetchLayers resolves the service's layer list; field introspection and
// queries always target a concrete layer, not the service root.
func (p *arcgisProvider) fetchLayers(ctx context.Context, datasetID string) ([]arcgisLayer, error) {
	meta, err := p.FetchMetadata(ctx, datasetID)
	if err != nil || meta == nil || meta.DataURL == "" {
		return nil, err
	}
	var body struct {
		Layers []struct {
			ID           json.Number `json:"id"`
			Name         string      `json:"name"`
			GeometryType string      `json:"geometryType"`
		} `json:"layers"`
	}
	if _, err := p.deps.Client.GetJSON(ctx, p.withToken(meta.DataURL+"?f=json"), nil, p.interval, &body); err != nil {
		return nil, eris.Wrap(err, "arcgis: fetch layers")
	}
	var layers []arcgisLayer
	for _, l := range body.Layers {
		id, err := l.ID.Int64()
		if err != nil {
			continue
		}
		layers = append(layers, arcgisLayer{
			ID:           int(id),
			Name:         l.Name,
			URL:          fmt.Sprintf("%s/%d", meta.DataURL, id),
			GeometryType: l.GeometryType,
		})
	}
	return layers, nil
}

func (p *arcgisProvider) ListFields(ctx context.Context, datasetID string) ([]model.Field, error) {
	layers, err := p.fetchLayers(ctx, datasetID)
	if err != nil || len(layers) == 0 {
		return nil, err
	}
	var body struct {
		Fields []struct {
			Name  string `json:"name"`
			Type  string `json:"type"`
			Alias string `json:"alias"`
		} `json:"fields"`
	}
	if _, err := p.deps.Client.GetJSON(ctx, p.withToken(layers[0].URL+"?f=json"), nil, p.interval, &body); err != nil {
		return nil, eris.Wrap(err, "arcgis: list fields")
	}
	var fields []model.Field
	for _, f := range body.Fields {
		if f.Name == "" {
			continue
		}
		fields = append(fields, model.Field{
			Name:        f.Name,
			Type:        f.Type,
			Description: f.Alias,
			IsGeometry:  strings.Contains(f.Type, "Geometry"),
		})
	}
	return fields, nil
}

func (p *arcgisProvider) GetDistributions(ctx context.Context, datasetID string) ([]model.Distribution, error) {
	meta, err := p.FetchMetadata(ctx, datasetID)
	if err != nil || meta == nil || meta.DataURL == "" {
		return nil, err
	}
	return []model.Distribution{{Format: "Feature Service", AccessURL: meta.DataURL}}, nil
}

func (p *arcgisProvider) queryLayer(ctx context.Context, layerURL string, params url.Values) (*Result, error) {
	params.Set("f", "json")
	queryURL := layerURL + "/query?" + params.Encode()

	var body struct {
		Features []struct {
			Attributes map[string]any  `json:"attributes"`
			Geometry   json.RawMessage `json:"geometry"`
		} `json:"features"`
		ExceededTransferLimit bool `json:"exceededTransferLimit"`
	}
	resp, err := p.deps.Client.GetJSON(ctx, p.withToken(queryURL), nil, p.interval, &body)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.Status
		}
		return queryFailedResult(err, status), nil
	}

	result := &Result{Records: make([]Record, 0, len(body.Features))}
	for _, f := range body.Features {
		attrs := f.Attributes
		if attrs == nil {
			attrs = map[string]any{}
		}
		result.Records = append(result.Records, Record{
			ID:         firstString(attrs["OBJECTID"]),
			Attributes: attrs,
			Geometry:   esriGeometry(f.Geometry),
		})
	}
	if !body.ExceededTransferLimit {
		total := len(body.Features)
		result.Total = &total
	}
	return result, nil
}

func (p *arcgisProvider) QueryByText(ctx context.Context, input QueryInput) (*Result, error) {
	limit := clampLimit(input.Limit)
	offset := max(0, input.Offset)
	if exceedsPageLimit(offset, limit) {
		return pageLimitResult(), nil
	}
	layers, err := p.fetchLayers(ctx, input.DatasetID)
	if err != nil {
		return nil, err
	}
	if len(layers) == 0 {
		return &Result{Errors: []Error{{Code: CodeNoLayers, Message: "No layers found."}}}, nil
	}
	fields, err := p.ListFields(ctx, input.DatasetID)
	if err != nil {
		return nil, err
	}
	addressField := ""
	for _, f := range fields {
		if containsAddressToken(f.Name) {
			addressField = f.Name
			break
		}
	}
	where := "1=1"
	if addressField != "" && input.SearchText != "" {
		literal := strings.ToUpper(strings.ReplaceAll(input.SearchText, "'", "''"))
		where = fmt.Sprintf("UPPER(%s) LIKE '%%%s%%'", addressField, literal)
	}
	params := url.Values{}
	params.Set("where", where)
	params.Set("outFields", "*")
	params.Set("resultOffset", strconv.Itoa(offset))
	params.Set("resultRecordCount", strconv.Itoa(limit))
	params.Set("outSR", "4326")
	return p.queryLayer(ctx, layers[0].URL, params)
}

func (p *arcgisProvider) QueryByGeometry(ctx context.Context, input QueryInput) (*Result, error) {
	limit := clampLimit(input.Limit)
	offset := max(0, input.Offset)
	if exceedsPageLimit(offset, limit) {
		return pageLimitResult(), nil
	}
	layers, err := p.fetchLayers(ctx, input.DatasetID)
	if err != nil {
		return nil, err
	}
	if len(layers) == 0 {
		return &Result{Errors: []Error{{Code: CodeNoLayers, Message: "No layers found."}}}, nil
	}
	if input.Point == nil && input.Geometry == nil {
		return &Result{Errors: []Error{{Code: CodeMissingGeometry, Message: "No geometry supplied."}}}, nil
	}
	ok, supplied := validPoint(input.Point)
	if supplied && !ok {
		return &Result{Errors: []Error{{Code: CodeInvalidCRS, Message: "Invalid point geometry (expect EPSG:4326)."}}}, nil
	}

	var geometry string
	var geometryType string
	if ok {
		encoded, merr := json.Marshal(map[string]any{
			"x":                input.Point.Lon,
			"y":                input.Point.Lat,
			"spatialReference": map[string]any{"wkid": 4326},
		})
		if merr != nil {
			return nil, eris.Wrap(merr, "arcgis: encode point")
		}
		geometry = string(encoded)
		geometryType = "esriGeometryPoint"
	} else {
		encoded, merr := json.Marshal(esriPolygon(input.Geometry))
		if merr != nil {
			return nil, eris.Wrap(merr, "arcgis: encode polygon")
		}
		geometry = string(encoded)
		geometryType = "esriGeometryPolygon"
	}

	params := url.Values{}
	params.Set("where", "1=1")
	params.Set("geometry", geometry)
	params.Set("geometryType", geometryType)
	params.Set("spatialRel", "esriSpatialRelIntersects")
	params.Set("outFields", "*")
	params.Set("resultOffset", strconv.Itoa(offset))
	params.Set("resultRecordCount", strconv.Itoa(limit))
	params.Set("outSR", "4326")
	return p.queryLayer(ctx, layers[0].URL, params)
}

// esriPolygon renders the internal geometry as an Esri polygon JSON object.
func esriPolygon(g *geo.Geometry) map[string]any {
	var rings []geo.Ring
	switch g.Type {
	case geo.TypePolygon:
		rings = g.Rings
	case geo.TypeMultiPolygon:
		for _, poly := range g.Polygons {
			rings = append(rings, poly...)
		}
	}
	return map[string]any{
		"rings":            rings,
		"spatialReference": map[string]any{"wkid": 4326},
	}
}

// esriGeometry decodes a feature geometry: ring-based polygons or x/y
// points, the latter lifted into degenerate polygons.
func esriGeometry(raw json.RawMessage) *geo.Geometry {
	if len(raw) == 0 {
		return nil
	}
	var shape struct {
		Rings [][][2]float64 `json:"rings"`
		X     *float64       `json:"x"`
		Y     *float64       `json:"y"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil
	}
	if len(shape.Rings) > 0 {
		return geo.FromEsriRings(shape.Rings)
	}
	if shape.X != nil && shape.Y != nil {
		return geo.PointGeometry(*shape.Y, *shape.X)
	}
	return nil
}

func containsAddressToken(name string) bool {
	lower := strings.ToLower(name)
	for _, token := range []string{"address", "situs", "site", "location"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
