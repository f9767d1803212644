package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/evidence-cli/internal/geo"
)

func dcatTestServer(t *testing.T, features int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srvURL string

	mux.HandleFunc("/data.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"dataset": [
				{
					"identifier": "parcels-2026",
					"title": "Parcel Boundaries",
					"description": "Assessor parcel polygons",
					"keyword": ["parcels", "assessor"],
					"publisher": {"name": "Dallas County"},
					"modified": "2026-02-01",
					"license": "https://creativecommons.org/publicdomain/zero/1.0/",
					"distribution": [{"downloadURL": %q, "mediaType": "application/geo+json"}]
				},
				{
					"identifier": "budget",
					"title": "Annual Budget",
					"description": "City budget workbook"
				}
			]
		}`, srvURL+"/files/parcels.geojson")
	})
	mux.HandleFunc("/files/parcels.geojson", func(w http.ResponseWriter, r *http.Request) {
		type feature struct {
			Type       string         `json:"type"`
			ID         string         `json:"id"`
			Properties map[string]any `json:"properties"`
			Geometry   map[string]any `json:"geometry"`
		}
		out := struct {
			Type     string    `json:"type"`
			Features []feature `json:"features"`
		}{Type: "FeatureCollection"}
		for i := 0; i < features; i++ {
			lon := -96.8 + float64(i)*0.001
			out.Features = append(out.Features, feature{
				Type:       "Feature",
				ID:         fmt.Sprintf("p%d", i),
				Properties: map[string]any{"apn": fmt.Sprintf("APN-%04d", i)},
				Geometry: map[string]any{
					"type": "Polygon",
					"coordinates": [][][2]float64{{
						{lon, 32.7}, {lon + 0.0005, 32.7}, {lon + 0.0005, 32.7005}, {lon, 32.7005}, {lon, 32.7},
					}},
				},
			})
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	srv := httptest.NewServer(mux)
	srvURL = srv.URL
	t.Cleanup(srv.Close)
	return srv
}

func TestDCATDiscoverFiltersByQuery(t *testing.T) {
	srv := dcatTestServer(t, 3)
	p := newDCAT(srv.URL, testDeps())

	datasets, err := p.DiscoverDatasets(context.Background(), "parcel", 10)
	require.NoError(t, err)
	require.Len(t, datasets, 1)

	d := datasets[0]
	assert.Equal(t, "parcels-2026", d.ID)
	assert.Equal(t, "Dallas County", d.Source)
	assert.Equal(t, "https://creativecommons.org/publicdomain/zero/1.0/", d.LicenseURL)
	assert.Contains(t, d.DataURL, "/files/parcels.geojson")

	// Empty query returns everything.
	all, err := p.DiscoverDatasets(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDCATFetchMetadata(t *testing.T) {
	srv := dcatTestServer(t, 1)
	p := newDCAT(srv.URL, testDeps())

	meta, err := p.FetchMetadata(context.Background(), "parcels-2026")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "Parcel Boundaries", meta.Title)

	missing, err := p.FetchMetadata(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDCATListFieldsInferredFromShape(t *testing.T) {
	srv := dcatTestServer(t, 2)
	p := newDCAT(srv.URL, testDeps())

	fields, err := p.ListFields(context.Background(), "parcels-2026")
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "apn", fields[0].Name)
}

func TestDCATQueryByGeometryLocalJoin(t *testing.T) {
	srv := dcatTestServer(t, 3)
	p := newDCAT(srv.URL, testDeps())

	res, err := p.QueryByGeometry(context.Background(), QueryInput{
		DatasetID: "parcels-2026",
		Point:     &geo.Point{Lat: 32.7002, Lon: -96.7998},
	})
	require.NoError(t, err)
	require.False(t, res.Failed())
	require.Len(t, res.Records, 1)
	assert.Equal(t, "p0", res.Records[0].ID)
}

func TestDCATQueryByGeometryTooManyFeatures(t *testing.T) {
	srv := dcatTestServer(t, geo.MaxLocalJoinFeatures+1)
	p := newDCAT(srv.URL, testDeps())

	res, err := p.QueryByGeometry(context.Background(), QueryInput{
		DatasetID: "parcels-2026",
		Point:     &geo.Point{Lat: 32.7, Lon: -96.8},
	})
	require.NoError(t, err)
	require.True(t, res.Failed())
	assert.Equal(t, CodeTooManyFeatures, res.Errors[0].Code)
}

func TestDCATQueryByTextSubstring(t *testing.T) {
	srv := dcatTestServer(t, 5)
	p := newDCAT(srv.URL, testDeps())

	res, err := p.QueryByText(context.Background(), QueryInput{
		DatasetID:  "parcels-2026",
		SearchText: "apn-0003",
	})
	require.NoError(t, err)
	require.False(t, res.Failed())
	require.Len(t, res.Records, 1)
	assert.Equal(t, "APN-0003", res.Records[0].Attributes["apn"])
}

func TestDCATDownloadTooLarge(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"dataset": [{"identifier": "big", "title": "Big Dump", "distribution": [{"downloadURL": %q}]}]}`, srvURL+"/files/big.json")
	})
	mux.HandleFunc("/files/big.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[" + strings.Repeat(`{"a":1},`, 2<<20)))
	})
	srv := httptest.NewServer(mux)
	srvURL = srv.URL
	defer srv.Close()

	p := newDCAT(srv.URL, testDeps())
	res, err := p.QueryByText(context.Background(), QueryInput{DatasetID: "big"})
	require.NoError(t, err)
	require.True(t, res.Failed())
	assert.Equal(t, CodeDownloadTooLarge, res.Errors[0].Code)
}

func TestParseCSVDistribution(t *testing.T) {
	t.Parallel()

	records := decodeDistribution([]byte("apn,latitude,longitude\n\"APN-1\",32.7,-96.8\nAPN-2,32.8,-96.9\n"))
	require.Len(t, records, 2)
	assert.Equal(t, "APN-1", records[0].Attributes["apn"])
	require.NotNil(t, records[0].Geometry)

	assert.Nil(t, decodeDistribution([]byte("just some text")))
}
