package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/evidence-cli/internal/fetcher"
	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/telemetry"
)

func testDeps() Deps {
	return Deps{
		Client: fetcher.NewClient(fetcher.Options{
			Retries:    1,
			MinDelay:   time.Millisecond,
			Recorder:   telemetry.NewRecorder(),
			AllowLocal: true,
		}),
	}
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want model.PortalType
	}{
		{"https://gis.example.com/arcgis", model.PortalArcGIS},
		{"https://hub.opendata.arcgis.com", model.PortalArcGIS},
		{"https://data.cityofchicago.org", model.PortalSocrata},
		{"https://www.dallasopendata.com", model.PortalSocrata},
		{"https://example.socrata.com", model.PortalSocrata},
		{"https://example.org/catalog.json", model.PortalDCAT},
		{"https://example.org", model.PortalUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Detect(tt.url), tt.url)
	}
}

func TestNewSelectsDriver(t *testing.T) {
	t.Parallel()

	deps := testDeps()

	p := New(model.Portal{URL: "https://www.dallasopendata.com", Type: model.PortalSocrata}, deps)
	assert.Equal(t, model.PortalSocrata, p.Type())

	// Unknown type falls back to URL sniffing.
	p = New(model.Portal{URL: "https://gis.example.com/arcgis"}, deps)
	assert.Equal(t, model.PortalArcGIS, p.Type())

	// Unresolvable portals get the catalog driver.
	p = New(model.Portal{URL: "https://example.org"}, deps)
	assert.Equal(t, model.PortalDCAT, p.Type())
}

func TestNormalizePortalURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://example.org", normalizePortalURL("example.org/"))
	assert.Equal(t, "https://example.org", normalizePortalURL("https://example.org"))
	assert.Equal(t, "http://example.org", normalizePortalURL("http://example.org/"))
	assert.Equal(t, "", normalizePortalURL("  "))
}

func TestExceedsPageLimit(t *testing.T) {
	t.Parallel()

	assert.False(t, exceedsPageLimit(0, 50))
	assert.False(t, exceedsPageLimit((MaxPages-1)*50, 50))
	assert.True(t, exceedsPageLimit(MaxPages*50, 50))
	assert.True(t, exceedsPageLimit(0, 0))
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 50, clampLimit(0))
	assert.Equal(t, 1, clampLimit(1))
	assert.Equal(t, MaxRecords, clampLimit(MaxRecords+500))
}

func TestSanitizeLiteral(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "O''BRIEN ST", SanitizeLiteral("O'BRIEN ST"))
	assert.Equal(t, "MAIN", SanitizeLiteral("MAIN%_"))
	assert.Equal(t, "819 S VAN BUREN", SanitizeLiteral(" 819 S VAN BUREN "))
}

func TestQueryByTextRejectsDeepPagination(t *testing.T) {
	t.Parallel()

	// Page-limit enforcement happens before any network traffic, so a
	// provider pointed at an unreachable portal still answers.
	p := newSocrata("https://www.dallasopendata.com", testDeps())
	res, err := p.QueryByText(context.Background(), QueryInput{
		DatasetID: "qv6i-rri7",
		Limit:     10,
		Offset:    10 * MaxPages,
	})
	assert.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, CodePageLimit, res.Errors[0].Code)
}
