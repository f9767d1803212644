// Package provider hides three incompatible open-data wire protocols (a
// tabular query API, a GIS feature service, and a DCAT catalog manifest)
// behind one capability interface. New protocols are added by implementing
// Provider, never by branching in callers.
package provider

import (
	"context"
	"strings"

	"github.com/sells-group/evidence-cli/internal/fetcher"
	"github.com/sells-group/evidence-cli/internal/geo"
	"github.com/sells-group/evidence-cli/internal/model"
)

// Bounds on provider fan-out and result size.
const (
	MaxDiscoveryDatasets = 25
	MaxItemFetches       = 5
	MaxRecords           = 100
	MaxPages             = 20
	DCATMaxDownloadBytes = 10 << 20
)

// Error codes returned inside query results. Provider failures surface as
// structured errors, never as panics or opaque error chains.
const (
	CodeQueryFailed      = "query_failed"
	CodePageLimit        = "page_limit"
	CodeInvalidCRS       = "invalid_crs"
	CodeNoGeometry       = "no_geometry"
	CodeMissingGeometry  = "missing_geometry"
	CodeNoLayers         = "no_layers"
	CodeNoDistribution   = "no_distribution"
	CodeTooManyFeatures  = "too_many_features"
	CodeDownloadTooLarge = "download_too_large"
)

// Error is one structured provider failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

// Record is one row returned by a portal.
type Record struct {
	ID         string         `json:"id,omitempty"`
	Attributes map[string]any `json:"attributes"`
	Geometry   *geo.Geometry  `json:"geometry,omitempty"`
}

// Result is the outcome of one query.
type Result struct {
	Records    []Record      `json:"records"`
	Fields     []model.Field `json:"fields,omitempty"`
	Total      *int          `json:"total,omitempty"`
	NextOffset *int          `json:"nextOffset,omitempty"`
	Errors     []Error       `json:"errors,omitempty"`
}

// Failed reports whether the result carries any structured errors.
func (r *Result) Failed() bool { return len(r.Errors) > 0 }

// QueryInput describes one record query.
type QueryInput struct {
	DatasetID  string        `json:"datasetId"`
	SearchText string        `json:"searchText,omitempty"`
	Point      *geo.Point    `json:"point,omitempty"`
	Geometry   *geo.Geometry `json:"geometry,omitempty"`
	Limit      int           `json:"limit,omitempty"`
	Offset     int           `json:"offset,omitempty"`
}

// Provider is the single query interface over all portal protocols.
type Provider interface {
	Type() model.PortalType
	PortalURL() string
	DiscoverDatasets(ctx context.Context, query string, limit int) ([]model.Dataset, error)
	FetchMetadata(ctx context.Context, datasetID string) (*model.Dataset, error)
	ListFields(ctx context.Context, datasetID string) ([]model.Field, error)
	GetDistributions(ctx context.Context, datasetID string) ([]model.Distribution, error)
	QueryByText(ctx context.Context, input QueryInput) (*Result, error)
	QueryByGeometry(ctx context.Context, input QueryInput) (*Result, error)
}

// Auth holds optional portal credentials. Tokens only raise rate-limit
// headroom; nothing requires them.
type Auth struct {
	SocrataAppToken string
	ArcGISAPIKey    string
}

// Deps carries shared infrastructure into drivers.
type Deps struct {
	Client *fetcher.Client
	Auth   Auth
}

// New builds the driver for the portal, resolving an unknown type from the
// URL shape. Active probing is the caller's job (see Probe); an unresolvable
// portal falls back to the catalog driver, which degrades gracefully.
func New(portal model.Portal, deps Deps) Provider {
	t := portal.Type
	if t == "" || t == model.PortalUnknown {
		t = Detect(portal.URL)
	}
	switch t {
	case model.PortalSocrata:
		return newSocrata(portal.URL, deps)
	case model.PortalArcGIS:
		return newArcGIS(portal.URL, deps)
	default:
		return newDCAT(portal.URL, deps)
	}
}

// Detect sniffs the portal type from URL keywords alone, without touching
// the network.
func Detect(portalURL string) model.PortalType {
	normalized := strings.ToLower(portalURL)
	if strings.Contains(normalized, "arcgis") {
		return model.PortalArcGIS
	}
	if strings.Contains(normalized, "socrata") || strings.Contains(normalized, "data.") || strings.Contains(normalized, "opendata") {
		return model.PortalSocrata
	}
	if strings.Contains(normalized, "data.json") || strings.Contains(normalized, "catalog.json") {
		return model.PortalDCAT
	}
	return model.PortalUnknown
}

// Probe actively identifies a portal by trying each protocol's cheapest
// discovery endpoint in order. Probes run with a zero retry budget so an
// unreachable portal fails fast.
func Probe(ctx context.Context, portalURL string, deps Deps) model.PortalType {
	base := normalizePortalURL(portalURL)
	rc := func() fetcher.RequestContext {
		return fetcher.RequestContext{PortalType: model.PortalUnknown, PortalURL: base}
	}

	var socrataBody struct {
		Results []any `json:"results"`
	}
	if _, err := deps.Client.GetJSON(ctx, base+"/api/search/views?q=parcel&limit=1", nil, rc(), &socrataBody); err == nil && socrataBody.Results != nil {
		return model.PortalSocrata
	}

	var arcgisBody struct {
		Results []any `json:"results"`
	}
	if _, err := deps.Client.GetJSON(ctx, base+`/sharing/rest/search?f=json&q=type%3A%22Feature%20Service%22&num=1`, nil, rc(), &arcgisBody); err == nil && arcgisBody.Results != nil {
		return model.PortalArcGIS
	}

	var dcatBody struct {
		Dataset  []any `json:"dataset"`
		Datasets []any `json:"datasets"`
	}
	if _, err := deps.Client.GetJSON(ctx, base+"/data.json", nil, rc(), &dcatBody); err == nil && (dcatBody.Dataset != nil || dcatBody.Datasets != nil) {
		return model.PortalDCAT
	}
	return model.PortalUnknown
}

// normalizePortalURL trims trailing slashes and defaults to HTTPS.
func normalizePortalURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		trimmed = "https://" + trimmed
	}
	return strings.TrimRight(trimmed, "/")
}

// clampLimit bounds the requested page size to [1, MaxRecords].
func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > MaxRecords {
		return MaxRecords
	}
	return limit
}

// exceedsPageLimit enforces the pagination ceiling: offset/limit pages past
// MaxPages are rejected to bound cost.
func exceedsPageLimit(offset, limit int) bool {
	if limit <= 0 {
		return true
	}
	return offset/limit >= MaxPages
}

func pageLimitResult() *Result {
	return &Result{Errors: []Error{{Code: CodePageLimit, Message: "Pagination limit reached."}}}
}

func queryFailedResult(err error, status int) *Result {
	msg := "query failed"
	if err != nil {
		msg = err.Error()
	}
	return &Result{Errors: []Error{{Code: CodeQueryFailed, Message: msg, Status: status}}}
}

// validPoint rejects coordinates outside WGS-84 bounds. A supplied but
// invalid point is a hard CRS error, never a silent skip.
func validPoint(p *geo.Point) (ok, supplied bool) {
	if p == nil {
		return false, false
	}
	return p.Valid(), true
}

// SanitizeLiteral prepares untrusted text for inclusion in a portal filter
// expression: quotes are doubled and wildcard characters stripped.
func SanitizeLiteral(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	s = strings.ReplaceAll(s, "%", "")
	s = strings.ReplaceAll(s, "_", "")
	return strings.TrimSpace(s)
}
