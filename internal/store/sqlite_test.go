package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/evidence-cli/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "evidence.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertDatasetIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := model.Dataset{
		ID:         "qv6i-rri7",
		PortalURL:  "https://www.dallasopendata.com",
		PortalType: model.PortalSocrata,
		Title:      "Police Incidents",
	}
	require.NoError(t, s.UpsertDataset(ctx, d))

	d.Description = "Incident reports"
	require.NoError(t, s.UpsertDataset(ctx, d))

	all, err := s.ListDatasets(ctx, DatasetFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Incident reports", all[0].Description)

	got, err := s.GetDataset(ctx, d.IndexKey())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Police Incidents", got.Title)
}

func TestGetDatasetMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetDataset(context.Background(), "socrata|https://example.com|nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListDatasetsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDataset(ctx, model.Dataset{
		ID: "a", PortalURL: "https://a.gov", PortalType: model.PortalSocrata, Title: "A",
	}))
	require.NoError(t, s.UpsertDataset(ctx, model.Dataset{
		ID: "b", PortalURL: "https://b.gov", PortalType: model.PortalArcGIS, Title: "B",
	}))

	got, err := s.ListDatasets(ctx, DatasetFilter{PortalType: model.PortalArcGIS})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)

	got, err = s.ListDatasets(ctx, DatasetFilter{PortalURL: "https://a.gov"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestSchemaCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := SchemaEntry{
		DatasetKey: "socrata|https://www.dallasopendata.com|qv6i-rri7",
		SchemaHash: "address:text|date:calendar_date",
		FieldMap:   map[string]string{"address": "incident_address", "date": "date1"},
	}
	require.NoError(t, s.SetSchema(ctx, entry))

	got, err := s.GetSchema(ctx, entry.DatasetKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.SchemaHash, got.SchemaHash)
	assert.Equal(t, "incident_address", got.FieldMap["address"])
	assert.False(t, got.CachedAt.IsZero())

	// Replacing on schema drift keeps one row per dataset.
	entry.SchemaHash = "address:text"
	require.NoError(t, s.SetSchema(ctx, entry))
	got, err = s.GetSchema(ctx, entry.DatasetKey)
	require.NoError(t, err)
	assert.Equal(t, "address:text", got.SchemaHash)
}

func TestGeocodeCacheTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := GeocodeEntry{
		Query:    "819 s van buren ave, dallas, tx",
		Lat:      32.74,
		Lon:      -96.82,
		CachedAt: time.Now().UTC().Add(-48 * time.Hour),
	}
	require.NoError(t, s.SetGeocode(ctx, old))

	got, err := s.GetGeocode(ctx, old.Query, 24*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.GetGeocode(ctx, old.Query, 7*24*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 32.74, got.Lat, 1e-9)

	got, err = s.GetGeocode(ctx, "unknown query", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, got)
}
