// Package geocode resolves street addresses to WGS-84 points through the
// public Nominatim service, with a store-backed cache in front of it.
package geocode

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/evidence-cli/internal/address"
	"github.com/sells-group/evidence-cli/internal/fetcher"
	"github.com/sells-group/evidence-cli/internal/geo"
	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/store"
)

const (
	nominatimEndpoint = "https://nominatim.openstreetmap.org/search"

	// Nominatim usage policy: identify the application and stay at or
	// under one request per second.
	requestInterval = time.Second

	// DefaultCacheTTL bounds how long a cached geocode stays usable.
	DefaultCacheTTL = 30 * 24 * time.Hour
)

// Result is one resolved address.
type Result struct {
	Point             geo.Point `json:"point"`
	NormalizedAddress string    `json:"normalizedAddress"`
	Provider          string    `json:"provider"`
	Confidence        float64   `json:"confidence,omitempty"`
	FromCache         bool      `json:"fromCache,omitempty"`
}

// Options configures a Client.
type Options struct {
	// Email identifies the operator to Nominatim per its usage policy.
	Email string
	// Endpoint overrides the Nominatim URL; tests point it at a local
	// server.
	Endpoint string
	CacheTTL time.Duration
	// Store caches results when set.
	Store store.Store
}

// Client geocodes addresses with caching and the mandated rate limit.
type Client struct {
	http    *fetcher.Client
	opts    Options
	limiter *rate.Limiter
}

// New creates a Client on top of the shared HTTP layer.
func New(httpClient *fetcher.Client, opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = nominatimEndpoint
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	return &Client{
		http:    httpClient,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(requestInterval), 1),
	}
}

type nominatimHit struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
}

// Geocode resolves one address. A nil result with a nil error means the
// service had no match.
func (c *Client) Geocode(ctx context.Context, addr string) (*Result, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}

	key := cacheKey(addr)
	if cached := c.cached(ctx, key); cached != nil {
		return cached, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit wait")
	}

	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("addressdetails", "1")
	params.Set("limit", "1")
	params.Set("q", addr)
	if c.opts.Email != "" {
		params.Set("email", c.opts.Email)
	}

	var hits []nominatimHit
	_, err := c.http.GetJSON(ctx, c.opts.Endpoint+"?"+params.Encode(), nil, fetcher.RequestContext{
		PortalType: model.PortalUnknown,
		PortalURL:  c.opts.Endpoint,
	}, &hits)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim search")
	}
	if len(hits) == 0 {
		return nil, nil
	}

	lat, latErr := strconv.ParseFloat(hits[0].Lat, 64)
	lon, lonErr := strconv.ParseFloat(hits[0].Lon, 64)
	if latErr != nil || lonErr != nil {
		return nil, nil
	}
	point := geo.Point{Lat: lat, Lon: lon}
	if !point.Valid() {
		return nil, nil
	}

	result := &Result{
		Point:             point,
		NormalizedAddress: hits[0].DisplayName,
		Provider:          "nominatim",
		Confidence:        hits[0].Importance,
	}
	if result.NormalizedAddress == "" {
		result.NormalizedAddress = addr
	}
	c.persist(ctx, key, point)
	return result, nil
}

// Resolution bundles a geocode with the address variants generated for
// portal queries.
type Resolution struct {
	NormalizedAddress string
	AddressVariants   []string
	Geocode           *Result
}

// Resolve normalizes an address, generates its variants, and geocodes
// the primary form.
func (c *Client) Resolve(ctx context.Context, addr string) (*Resolution, error) {
	variants := address.Variants(addr)
	normalized := addr
	if len(variants) > 0 {
		normalized = variants[0]
	}
	result, err := c.Geocode(ctx, normalized)
	if err != nil {
		return nil, err
	}
	return &Resolution{
		NormalizedAddress: normalized,
		AddressVariants:   variants,
		Geocode:           result,
	}, nil
}

func (c *Client) cached(ctx context.Context, key string) *Result {
	if c.opts.Store == nil {
		return nil
	}
	entry, err := c.opts.Store.GetGeocode(ctx, key, c.opts.CacheTTL)
	if err != nil {
		zap.L().Warn("geocode: cache read failed", zap.Error(err))
		return nil
	}
	if entry == nil {
		return nil
	}
	return &Result{
		Point:             geo.Point{Lat: entry.Lat, Lon: entry.Lon},
		NormalizedAddress: key,
		Provider:          "cache",
		FromCache:         true,
	}
}

func (c *Client) persist(ctx context.Context, key string, point geo.Point) {
	if c.opts.Store == nil {
		return
	}
	err := c.opts.Store.SetGeocode(ctx, store.GeocodeEntry{
		Query:    key,
		Lat:      point.Lat,
		Lon:      point.Lon,
		CachedAt: time.Now().UTC(),
	})
	if err != nil {
		zap.L().Warn("geocode: cache write failed", zap.Error(err))
	}
}

func cacheKey(addr string) string {
	return strings.Join(strings.Fields(strings.ToLower(addr)), " ")
}
