package evidencepack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/evidence-cli/internal/fetcher"
	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/store"
	"github.com/sells-group/evidence-cli/pkg/geocode"
)

type fakeDataset struct {
	id          string
	title       string
	viewType    string
	private     bool
	columns     []map[string]any
	addressRows []map[string]any
	radiusRows  []map[string]any
}

func col(name, dataType string) map[string]any {
	return map[string]any{"fieldName": name, "dataTypeName": dataType}
}

// newPortal serves the discovery, metadata, and row endpoints the pack
// hits, plus a forward-geocode endpoint for the radius fallback.
func newPortal(t *testing.T, datasets []fakeDataset) *httptest.Server {
	t.Helper()
	byID := make(map[string]fakeDataset, len(datasets))
	for _, ds := range datasets {
		byID[ds.id] = ds
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/search/views", func(w http.ResponseWriter, r *http.Request) {
		q := strings.ToLower(r.URL.Query().Get("q"))
		var results []map[string]any
		for _, ds := range datasets {
			if !strings.Contains(strings.ToLower(ds.title), q) {
				continue
			}
			results = append(results, map[string]any{
				"resource": map[string]any{
					"id":   ds.id,
					"name": ds.title,
					"type": "dataset",
				},
			})
		}
		writeJSON(t, w, map[string]any{"results": results})
	})
	mux.HandleFunc("/api/views/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/views/"), ".json")
		ds, ok := byID[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		viewType := ds.viewType
		if viewType == "" {
			viewType = "tabular"
		}
		writeJSON(t, w, map[string]any{
			"id":       ds.id,
			"name":     ds.title,
			"viewType": viewType,
			"private":  ds.private,
			"columns":  ds.columns,
		})
	})
	mux.HandleFunc("/resource/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/resource/"), ".json")
		ds, ok := byID[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		where := r.URL.Query().Get("$where")
		switch {
		case strings.Contains(where, "within_circle"):
			writeJSON(t, w, ds.radiusRows)
		case strings.Contains(where, "LIKE"):
			writeJSON(t, w, ds.addressRows)
		default:
			writeJSON(t, w, []map[string]any{})
		}
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{{
			"lat":          "32.7002",
			"lon":          "-96.7998",
			"display_name": "819, South Van Buren Avenue, Dallas, TX",
			"importance":   0.71,
		}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestPack(t *testing.T, portalURL string, opts Options) *Pack {
	t.Helper()
	opts.PortalURL = portalURL
	client := fetcher.NewClient(fetcher.Options{MinDelay: time.Millisecond, AllowLocal: true})
	return New(client, opts)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dallas() model.Jurisdiction {
	return model.Jurisdiction{Country: "US", State: "TX", County: "Dallas County", City: "Dallas"}
}

func standardDatasets() []fakeDataset {
	return []fakeDataset{
		{
			id:    "abcd-1111",
			title: "Police Incidents",
			columns: []map[string]any{
				col("incident_number", "text"),
				col("date1", "calendar_date"),
				col("nibrs_crime", "text"),
				col("status", "text"),
				col("incident_address", "text"),
				col("geocoded_column", "location"),
			},
			addressRows: []map[string]any{{
				"incident_number":  "123456-2022",
				"date1":            "2022-06-01T00:00:00.000",
				"nibrs_crime":      "BURGLARY-RESIDENCE",
				"status":           "Closed",
				"incident_address": "819 S VAN BUREN AVE",
			}},
		},
		{
			id:    "abcd-2222",
			title: "311 Service Requests",
			columns: []map[string]any{
				col("service_request_number", "text"),
				col("created_date", "calendar_date"),
				col("service_request_type", "text"),
				col("status", "text"),
				col("address", "text"),
				col("location", "point"),
			},
			addressRows: []map[string]any{{
				"service_request_number": "22-00099887",
				"created_date":           "2022-03-15T08:00:00.000",
				"service_request_type":   "Code Concern - Litter",
				"status":                 "Closed",
				"address":                "819 S VAN BUREN AVE",
			}},
		},
		{
			id:    "abcd-3333",
			title: "Parcel Shapefile 2022",
			columns: []map[string]any{
				col("parcelid", "text"),
				col("address", "text"),
			},
			addressRows: []map[string]any{{
				"parcelid": "00000123456000000",
				"address":  "819 S VAN BUREN AVE",
			}},
		},
	}
}

func TestApplies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		j    model.Jurisdiction
		want bool
	}{
		{"dallas city", model.Jurisdiction{City: "Dallas", State: "TX"}, true},
		{"dallas county", model.Jurisdiction{County: "Dallas County", State: "Texas"}, true},
		{"no state", model.Jurisdiction{City: "Dallas"}, true},
		{"wrong state", model.Jurisdiction{City: "Dallas", State: "GA"}, false},
		{"other city", model.Jurisdiction{City: "Houston", State: "TX"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Applies(tc.j))
		})
	}
}

func TestRunOutsideDallas(t *testing.T) {
	t.Parallel()

	pack := newTestPack(t, "http://127.0.0.1:1", Options{})
	result, err := pack.Run(context.Background(), Input{
		Address:      "100 Main St",
		Jurisdiction: model.Jurisdiction{City: "Austin", State: "TX"},
	})
	require.NoError(t, err)
	assert.Empty(t, result.FindingsText)
	assert.Empty(t, result.Sources)
	assert.Empty(t, result.DataGaps)
	assert.Empty(t, result.QueryAttempts)
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	srv := newPortal(t, standardDatasets())
	pack := newTestPack(t, srv.URL, Options{})

	result, err := pack.Run(context.Background(), Input{
		Address:      "819 S Van Buren Ave, Dallas, TX",
		Jurisdiction: dallas(),
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.FindingsText)
	lines := strings.Split(result.FindingsText, "\n")
	assert.Equal(t, "Dallas Open Data Evidence (PII-redacted, block-level addresses only).", lines[0])
	assert.Contains(t, result.FindingsText, "Police Incidents (abcd-1111): 1 records matched")
	assert.Contains(t, result.FindingsText, "311 Service Requests (abcd-2222): 1 records matched")
	assert.Contains(t, result.FindingsText, "Parcel Shapefile (abcd-3333): 1 records matched")

	// Street numbers are coarsened to the hundred block everywhere.
	assert.Contains(t, result.FindingsText, "800 block S VAN BUREN AVE")
	assert.NotContains(t, result.FindingsText, "819 S VAN BUREN AVE")

	assert.Len(t, result.Sources, 3)
	for _, src := range result.Sources {
		assert.Contains(t, src.URI, "/resource/abcd-")
	}
	assert.Empty(t, result.DataGaps)

	var addressAttempts int
	for _, attempt := range result.QueryAttempts {
		if attempt.QueryType == "address" {
			addressAttempts++
			assert.Contains(t, attempt.Query, "VAN BUREN")
			if attempt.Kind != KindParcel {
				assert.Contains(t, attempt.Query, pre2023Cutoff)
			}
		}
	}
	assert.Equal(t, 3, addressAttempts)
}

func TestRunRadiusFallback(t *testing.T) {
	t.Parallel()

	datasets := standardDatasets()
	// Address queries miss; only the geometry radius query matches.
	datasets[0].radiusRows = datasets[0].addressRows
	datasets[0].addressRows = nil
	srv := newPortal(t, datasets)

	geocoder := geocode.New(
		fetcher.NewClient(fetcher.Options{MinDelay: time.Millisecond, AllowLocal: true}),
		geocode.Options{Email: "test@example.com", Endpoint: srv.URL + "/search"},
	)
	pack := newTestPack(t, srv.URL, Options{Geocoder: geocoder})

	result, err := pack.Run(context.Background(), Input{
		Address:      "819 S Van Buren Ave, Dallas, TX",
		Jurisdiction: dallas(),
	})
	require.NoError(t, err)

	assert.Contains(t, result.FindingsText, "Police Incidents (abcd-1111): 1 records matched")
	assert.Contains(t, result.FindingsText, "radius query")

	var radius []QueryAttempt
	for _, attempt := range result.QueryAttempts {
		if attempt.QueryType == "radius" {
			radius = append(radius, attempt)
		}
	}
	require.NotEmpty(t, radius)
	assert.Contains(t, radius[0].Query, "within_circle")
	assert.Contains(t, radius[0].Query, "geocoded_column")
}

func TestRunRecordsNoRecordsGap(t *testing.T) {
	t.Parallel()

	datasets := standardDatasets()
	for i := range datasets {
		datasets[i].addressRows = nil
	}
	srv := newPortal(t, datasets)
	pack := newTestPack(t, srv.URL, Options{})

	result, err := pack.Run(context.Background(), Input{
		Address:      "819 S Van Buren Ave, Dallas, TX",
		Jurisdiction: dallas(),
	})
	require.NoError(t, err)

	assert.Contains(t, result.FindingsText, "query returned 0 records")
	require.Len(t, result.DataGaps, 3)
	for _, gap := range result.DataGaps {
		assert.Equal(t, model.GapNoRecords, gap.Code)
		assert.Equal(t, model.GapStatusMissing, gap.Status)
		assert.NotEmpty(t, gap.ID)
		assert.NotEmpty(t, gap.DatasetID)
		require.Len(t, gap.ExpectedSources, 1)
		assert.Contains(t, gap.ExpectedSources[0].Endpoint, gap.DatasetID)
	}
}

func TestRunPrivateDatasetRestrictedGap(t *testing.T) {
	t.Parallel()

	datasets := standardDatasets()
	datasets[0].private = true
	srv := newPortal(t, datasets)
	pack := newTestPack(t, srv.URL, Options{})

	result, err := pack.Run(context.Background(), Input{
		Address:      "819 S Van Buren Ave, Dallas, TX",
		Jurisdiction: dallas(),
	})
	require.NoError(t, err)

	var restricted *model.DataGap
	for i := range result.DataGaps {
		if result.DataGaps[i].Code == model.GapAccessRestrict {
			restricted = &result.DataGaps[i]
			break
		}
	}
	require.NotNil(t, restricted)
	assert.Equal(t, model.GapStatusRestricted, restricted.Status)
	assert.Equal(t, "abcd-1111", restricted.DatasetID)

	// The other two datasets still report.
	assert.Contains(t, result.FindingsText, "311 Service Requests (abcd-2222)")
	assert.Contains(t, result.FindingsText, "Parcel Shapefile (abcd-3333)")
}

func TestRunMapLayerSkipped(t *testing.T) {
	t.Parallel()

	datasets := standardDatasets()
	datasets[2].viewType = "geoMap"
	srv := newPortal(t, datasets)
	pack := newTestPack(t, srv.URL, Options{})

	result, err := pack.Run(context.Background(), Input{
		Address:      "819 S Van Buren Ave, Dallas, TX",
		Jurisdiction: dallas(),
	})
	require.NoError(t, err)

	var gotNonTabular bool
	for _, gap := range result.DataGaps {
		if gap.Code == model.GapNoDataset && gap.DatasetID == "abcd-3333" {
			gotNonTabular = true
			assert.Equal(t, model.GapStatusUnavailable, gap.Status)
		}
	}
	assert.True(t, gotNonTabular)
}

func TestSchemaCacheAndDriftGap(t *testing.T) {
	t.Parallel()

	srv := newPortal(t, standardDatasets())
	s := newTestStore(t)

	// Seed a stale hash for the police dataset so the run flags drift.
	key := srv.URL + "|abcd-1111"
	require.NoError(t, s.SetSchema(context.Background(), store.SchemaEntry{
		DatasetKey: key,
		SchemaHash: "stale-hash",
		FieldMap:   map[string]string{"address": "old_address"},
		CachedAt:   time.Now().UTC().Add(-time.Hour),
	}))

	pack := newTestPack(t, srv.URL, Options{Store: s})
	result, err := pack.Run(context.Background(), Input{
		Address:      "819 S Van Buren Ave, Dallas, TX",
		Jurisdiction: dallas(),
	})
	require.NoError(t, err)

	var drift *model.DataGap
	for i := range result.DataGaps {
		if result.DataGaps[i].Code == model.GapStaleSchema {
			drift = &result.DataGaps[i]
			break
		}
	}
	require.NotNil(t, drift)
	assert.Equal(t, model.GapStatusStale, drift.Status)
	assert.Equal(t, "abcd-1111", drift.DatasetID)

	// The cache now holds the live schema's hash and field map.
	entry, err := s.GetSchema(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.NotEqual(t, "stale-hash", entry.SchemaHash)
	assert.Equal(t, "incident_address", entry.FieldMap["address"])
}

func TestInferFieldMap(t *testing.T) {
	t.Parallel()

	t.Run("police", func(t *testing.T) {
		t.Parallel()
		fields := []model.Field{
			{Name: "incident_number", Type: "text"},
			{Name: "date1", Type: "calendar_date"},
			{Name: "nibrs_crime", Type: "text"},
			{Name: "status", Type: "text"},
			{Name: "incident_address", Type: "text"},
			{Name: "geocoded_column", Type: "location"},
		}
		fm := InferFieldMap(fields, KindPolice)
		assert.Equal(t, "incident_address", fm.Address)
		assert.Equal(t, "date1", fm.Date)
		assert.Equal(t, "nibrs_crime", fm.Type)
		assert.Equal(t, "status", fm.Status)
		assert.Equal(t, "geocoded_column", fm.Geometry)
	})

	t.Run("service311 prefers request type over generic description", func(t *testing.T) {
		t.Parallel()
		fields := []model.Field{
			{Name: "description", Type: "text"},
			{Name: "service_request_type", Type: "text"},
			{Name: "created_date", Type: "calendar_date"},
			{Name: "service_request_number", Type: "text"},
		}
		fm := InferFieldMap(fields, KindService311)
		assert.Equal(t, "service_request_type", fm.Type)
		assert.Equal(t, "created_date", fm.Date)
		assert.Equal(t, "service_request_number", fm.ID)
	})

	t.Run("parcel", func(t *testing.T) {
		t.Parallel()
		fields := []model.Field{
			{Name: "parcelid", Type: "text"},
			{Name: "situs_address", Type: "text"},
		}
		fm := InferFieldMap(fields, KindParcel)
		assert.Equal(t, "situs_address", fm.Address)
		assert.Equal(t, "parcelid", fm.ID)
	})

	t.Run("empty schema", func(t *testing.T) {
		t.Parallel()
		assert.True(t, InferFieldMap(nil, KindPolice).Empty())
	})
}

func TestCoarsenAddress(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"819 S Van Buren Ave", "800 block S Van Buren Ave"},
		{"12023 MAIN ST", "12000 block MAIN ST"},
		{"50 Elm", "0 block Elm"},
		{"Elm Street", "Elm Street"},
		{"  819 S Van Buren Ave  ", "800 block S Van Buren Ave"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, coarsenAddress(tc.in), tc.in)
	}
}

func TestSanitizeRecords(t *testing.T) {
	t.Parallel()

	fm := FieldMap{
		ID:      "incident_number",
		Date:    "date1",
		Type:    "nibrs_crime",
		Status:  "status",
		Address: "incident_address",
	}
	rows := []map[string]any{
		{
			"incident_number":  "123456-2022",
			"date1":            "2022-06-01T00:00:00.000",
			"nibrs_crime":      "BURGLARY",
			"status":           "Closed",
			"incident_address": "819 S VAN BUREN AVE",
			"comp_name":        "JANE DOE",
			"officer_badge":    "1234",
		},
		{"unmapped": "ignored"},
	}

	clean := sanitizeRecords(rows, fm)
	require.Len(t, clean, 1)
	assert.Equal(t, "800 block S VAN BUREN AVE", clean[0]["incident_address"])
	assert.Equal(t, "123456-2022", clean[0]["incident_number"])
	assert.NotContains(t, clean[0], "comp_name")
	assert.NotContains(t, clean[0], "officer_badge")
}
