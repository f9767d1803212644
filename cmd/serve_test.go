package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/evidence-cli/internal/fetcher"
	"github.com/sells-group/evidence-cli/internal/telemetry"
)

func newRouterClient(t *testing.T, allowLocal bool) http.Handler {
	t.Helper()
	client := fetcher.NewClient(fetcher.Options{
		MinDelay:   time.Millisecond,
		AllowLocal: allowLocal,
	})
	return newServeRouter(client, telemetry.NewRecorder(), nil)
}

func postProxy(t *testing.T, router http.Handler, body proxyRequest) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/open-data/fetch", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestServeHealth(t *testing.T) {
	router := newRouterClient(t, false)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestServeTelemetry(t *testing.T) {
	router := newRouterClient(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/telemetry", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total"`)
}

func TestProxyFetchForwardsUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-App-Token"))
		assert.Empty(t, r.Header.Get("X-Internal-Secret"))
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"rows":[]}`))
	}))
	defer upstream.Close()

	router := newRouterClient(t, true)
	rec := postProxy(t, router, proxyRequest{
		URL: upstream.URL + "/resource/abcd.json",
		Headers: map[string]string{
			"X-App-Token":       "test-token",
			"X-Internal-Secret": "must-not-forward",
		},
		PortalType: "socrata",
		PortalURL:  upstream.URL,
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"rows":[]}`, rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Upstream"))
}

func TestProxyFetchRejectsLoopback(t *testing.T) {
	router := newRouterClient(t, false)
	rec := postProxy(t, router, proxyRequest{URL: "http://127.0.0.1:9/admin"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "egress blocked")
}

func TestProxyFetchRejectsNonHTTPScheme(t *testing.T) {
	router := newRouterClient(t, false)
	rec := postProxy(t, router, proxyRequest{URL: "ftp://example.com/data.csv"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProxyFetchRequiresURL(t *testing.T) {
	router := newRouterClient(t, false)
	rec := postProxy(t, router, proxyRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "url is required")
}

func TestProxyFetchInvalidBody(t *testing.T) {
	router := newRouterClient(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/open-data/fetch", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSanitizeProxyHeaders(t *testing.T) {
	out := sanitizeProxyHeaders(map[string]string{
		"Accept":               "application/json",
		"X-App-Token":          "  token  ",
		"Cookie":               "session=abc",
		"X-Esri-Authorization": "Bearer key",
		"Empty":                "",
	})
	assert.Equal(t, map[string]string{
		"Accept":               "application/json",
		"X-App-Token":          "token",
		"X-Esri-Authorization": "Bearer key",
	}, out)

	assert.Nil(t, sanitizeProxyHeaders(nil))
	assert.Nil(t, sanitizeProxyHeaders(map[string]string{"Cookie": "x"}))
}
