package store

import (
	"context"
	"time"

	"github.com/sells-group/evidence-cli/internal/model"
)

// DatasetFilter specifies criteria for listing indexed datasets.
type DatasetFilter struct {
	PortalURL  string           `json:"portal_url,omitempty"`
	PortalType model.PortalType `json:"portal_type,omitempty"`
	Limit      int              `json:"limit,omitempty"`
	Offset     int              `json:"offset,omitempty"`
}

// SchemaEntry is one cached field map keyed by dataset and schema hash.
type SchemaEntry struct {
	DatasetKey string            `json:"datasetKey"`
	SchemaHash string            `json:"schemaHash"`
	FieldMap   map[string]string `json:"fieldMap"`
	CachedAt   time.Time         `json:"cachedAt"`
}

// GeocodeEntry is one cached forward-geocode result.
type GeocodeEntry struct {
	Query    string    `json:"query"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	CachedAt time.Time `json:"cachedAt"`
}

// Store defines the persistence interface for the evidence pipeline.
type Store interface {
	// Dataset index. Upserts are idempotent on the dataset identity key.
	UpsertDataset(ctx context.Context, d model.Dataset) error
	GetDataset(ctx context.Context, key string) (*model.Dataset, error)
	ListDatasets(ctx context.Context, filter DatasetFilter) ([]model.Dataset, error)

	// Schema cache
	GetSchema(ctx context.Context, datasetKey string) (*SchemaEntry, error)
	SetSchema(ctx context.Context, entry SchemaEntry) error

	// Geocode cache
	GetGeocode(ctx context.Context, query string, maxAge time.Duration) (*GeocodeEntry, error)
	SetGeocode(ctx context.Context, entry GeocodeEntry) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
