package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/evidence-cli/internal/geo"
)

func socrataTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/search/views", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"results": [
				{
					"resource": {
						"id": "qv6i-rri7",
						"name": "Police Incidents",
						"description": "Reported incidents",
						"attribution": "City of Dallas",
						"updatedAt": "2026-01-15T10:00:00Z"
					},
					"metadata": {"license": "Public Domain", "accessLevel": "public"},
					"permalink": "https://www.dallasopendata.com/d/qv6i-rri7",
					"tags": ["police", "public-safety"]
				},
				{"resource": {"id": "no-title"}}
			]
		}`))
	})
	mux.HandleFunc("/api/views/qv6i-rri7.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"name": "Police Incidents",
			"description": "Reported incidents",
			"attribution": "City of Dallas",
			"columns": [
				{"fieldName": "incident_address", "dataTypeName": "text"},
				{"fieldName": "geocoded_column", "dataTypeName": "point"},
				{"fieldName": "date1", "dataTypeName": "calendar_date"}
			]
		}`))
	})
	mux.HandleFunc("/resource/qv6i-rri7.json", func(w http.ResponseWriter, r *http.Request) {
		where := r.URL.Query().Get("$where")
		if where != "" {
			assert.Contains(t, where, "within_circle(geocoded_column, 32.77, -96.79, 25)")
		}
		_, _ = w.Write([]byte(`[
			{"incident_address": "819 S VAN BUREN AVE", "geocoded_column": {"type": "Point", "coordinates": [-96.79, 32.77]}},
			{"incident_address": "100 MAIN ST", "latitude": "32.78", "longitude": "-96.80"}
		]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSocrataDiscoverDatasets(t *testing.T) {
	srv := socrataTestServer(t)
	p := newSocrata(srv.URL, testDeps())

	datasets, err := p.DiscoverDatasets(context.Background(), "police", 10)
	require.NoError(t, err)
	// The untitled entry is dropped.
	require.Len(t, datasets, 1)

	d := datasets[0]
	assert.Equal(t, "qv6i-rri7", d.ID)
	assert.Equal(t, "Police Incidents", d.Title)
	assert.Equal(t, "City of Dallas", d.Source)
	assert.Equal(t, "Public Domain", d.License)
	assert.Equal(t, []string{"public"}, d.AccessConstraints)
	assert.Equal(t, "2026-01-15", d.LastUpdated)
	assert.Equal(t, []string{"police", "public-safety"}, d.Tags)
	assert.False(t, d.RetrievedAt.IsZero())
}

func TestSocrataListFields(t *testing.T) {
	srv := socrataTestServer(t)
	p := newSocrata(srv.URL, testDeps())

	fields, err := p.ListFields(context.Background(), "qv6i-rri7")
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, "incident_address", fields[0].Name)
	assert.False(t, fields[0].IsGeometry)
	assert.True(t, fields[1].IsGeometry)
}

func TestSocrataQueryByGeometry(t *testing.T) {
	srv := socrataTestServer(t)
	p := newSocrata(srv.URL, testDeps())

	res, err := p.QueryByGeometry(context.Background(), QueryInput{
		DatasetID: "qv6i-rri7",
		Point:     &geo.Point{Lat: 32.77, Lon: -96.79},
	})
	require.NoError(t, err)
	require.False(t, res.Failed())
	require.Len(t, res.Records, 2)

	// GeoJSON point column lifts into a degenerate polygon.
	require.NotNil(t, res.Records[0].Geometry)
	assert.Equal(t, geo.TypePolygon, res.Records[0].Geometry.Type)
	// Split lat/lon string columns are lifted too.
	require.NotNil(t, res.Records[1].Geometry)
}

func TestSocrataQueryByGeometryInvalidPoint(t *testing.T) {
	srv := socrataTestServer(t)
	p := newSocrata(srv.URL, testDeps())

	res, err := p.QueryByGeometry(context.Background(), QueryInput{
		DatasetID: "qv6i-rri7",
		Point:     &geo.Point{Lat: 132.0, Lon: -96.79},
	})
	require.NoError(t, err)
	require.True(t, res.Failed())
	assert.Equal(t, CodeInvalidCRS, res.Errors[0].Code)
}

func TestSocrataQueryByTextPagination(t *testing.T) {
	srv := socrataTestServer(t)
	p := newSocrata(srv.URL, testDeps())

	res, err := p.QueryByText(context.Background(), QueryInput{
		DatasetID: "qv6i-rri7",
		Limit:     2,
	})
	require.NoError(t, err)
	require.False(t, res.Failed())
	require.Len(t, res.Records, 2)
	// A full page advertises the next offset.
	require.NotNil(t, res.NextOffset)
	assert.Equal(t, 2, *res.NextOffset)
}

func TestSocrataQueryFailedIsStructured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := newSocrata(srv.URL, testDeps())
	res, err := p.QueryByText(context.Background(), QueryInput{DatasetID: "qv6i-rri7"})
	require.NoError(t, err)
	require.True(t, res.Failed())
	assert.Equal(t, CodeQueryFailed, res.Errors[0].Code)
}
