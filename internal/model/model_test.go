package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePortalType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want PortalType
	}{
		{"socrata", PortalSocrata},
		{"Socrata", PortalSocrata},
		{"esri", PortalArcGIS},
		{"arcgis", PortalArcGIS},
		{"ckan", PortalDCAT},
		{"dcat", PortalDCAT},
		{"", PortalUnknown},
		{"tabular", PortalUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParsePortalType(tt.in), tt.in)
	}
}

func TestPortalDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want string
	}{
		{"https://www.dallasopendata.com", "www.dallasopendata.com"},
		{"https://Data.Example.Gov/catalog?x=1", "data.example.gov"},
		{"http://gis.example.org:6443/arcgis", "gis.example.org"},
		{"data.example.org/data.json", "data.example.org"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Portal{URL: tt.url}.Domain(), tt.url)
	}
}

func TestDatasetIndexKey(t *testing.T) {
	t.Parallel()

	d := Dataset{ID: "Qv6i-RRI7", PortalURL: "https://www.dallasopendata.com", PortalType: PortalSocrata}
	assert.Equal(t, "socrata|https://www.dallasopendata.com|qv6i-rri7", d.IndexKey())

	// Falls back to title when the portal assigns no id.
	d2 := Dataset{Title: "Building Permits", PortalURL: "https://data.example.gov/data.json", PortalType: PortalDCAT}
	assert.Equal(t, "dcat|https://data.example.gov/data.json|building permits", d2.IndexKey())
}

func TestSchemaHashStable(t *testing.T) {
	t.Parallel()

	a := Dataset{Fields: []Field{{Name: "APN", Type: "Text"}, {Name: "value", Type: "number"}}}
	b := Dataset{Fields: []Field{{Name: "value", Type: "number"}, {Name: "apn", Type: "text"}}}
	assert.Equal(t, a.SchemaHash(), b.SchemaHash())
	assert.Equal(t, "apn:text|value:number", a.SchemaHash())

	assert.Empty(t, Dataset{}.SchemaHash())
}

func TestJurisdictionMatching(t *testing.T) {
	t.Parallel()

	dallas := Jurisdiction{Country: "US", State: "TX", County: "Dallas", City: "Dallas"}

	assert.True(t, Jurisdiction{Country: "US"}.Covers(dallas))
	assert.True(t, Jurisdiction{Country: "US", State: "TX"}.Covers(dallas))
	assert.True(t, Jurisdiction{Country: "us", State: "tx", County: "dallas"}.Covers(dallas))
	assert.False(t, Jurisdiction{Country: "US", State: "CA"}.Covers(dallas))

	assert.Equal(t, 0, Jurisdiction{}.Specificity())
	assert.Equal(t, 4, dallas.Specificity())
}
