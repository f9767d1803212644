// Package model holds the shared domain types exchanged between portal
// drivers, the evidence pipeline, and the store.
package model

import "strings"

// PortalType identifies the API family a portal speaks.
type PortalType string

const (
	PortalSocrata PortalType = "socrata"
	PortalArcGIS  PortalType = "arcgis"
	PortalDCAT    PortalType = "dcat"
	PortalUnknown PortalType = "unknown"
)

// ParsePortalType maps an operator-supplied string onto a known portal type.
func ParsePortalType(s string) PortalType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "socrata":
		return PortalSocrata
	case "arcgis", "esri":
		return PortalArcGIS
	case "dcat", "ckan":
		return PortalDCAT
	}
	return PortalUnknown
}

// Portal is one configured open-data endpoint.
type Portal struct {
	URL      string     `json:"url" yaml:"url"`
	Type     PortalType `json:"type,omitempty" yaml:"type,omitempty"`
	AppToken string     `json:"-" yaml:"app_token,omitempty"`
	Name     string     `json:"name,omitempty" yaml:"name,omitempty"`
}

// Domain returns the lowercased host portion of the portal URL.
func (p Portal) Domain() string {
	u := strings.TrimSpace(p.URL)
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	if i := strings.IndexAny(u, "/?#"); i >= 0 {
		u = u[:i]
	}
	if i := strings.Index(u, "@"); i >= 0 {
		u = u[i+1:]
	}
	if i := strings.Index(u, ":"); i >= 0 {
		u = u[:i]
	}
	return strings.ToLower(u)
}
