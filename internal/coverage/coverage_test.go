package coverage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/evidence-cli/internal/model"
)

func availabilityFor(statuses map[model.RecordType]RecordAvailability) map[model.RecordType]RecordAvailability {
	records := make(map[model.RecordType]RecordAvailability, len(model.AllRecordTypes))
	for _, rt := range model.AllRecordTypes {
		if av, ok := statuses[rt]; ok {
			records[rt] = av
		} else {
			records[rt] = RecordAvailability{Status: AvailabilityAvailable}
		}
	}
	return records
}

func TestMatrixFindMostSpecificWins(t *testing.T) {
	t.Parallel()

	matrix := Matrix{
		{
			ID:           "US",
			Jurisdiction: model.Jurisdiction{Country: "US"},
			Records:      availabilityFor(nil),
		},
		{
			ID:           "US-TX",
			Jurisdiction: model.Jurisdiction{Country: "US", State: "TX"},
			Records: availabilityFor(map[model.RecordType]RecordAvailability{
				model.RecordDeedRecorder: {Status: AvailabilityRestricted},
			}),
		},
	}
	matrix = append(matrix, DefaultMatrix()...)

	texas := model.Jurisdiction{Country: "US", State: "TX", County: "Dallas County"}
	entry := matrix.Find(texas)
	require.NotNil(t, entry)
	assert.Equal(t, "US-TX", entry.ID)
	assert.Equal(t, AvailabilityRestricted, matrix.RecordAvailability(model.RecordDeedRecorder, texas).Status)

	ohio := model.Jurisdiction{Country: "US", State: "OH"}
	entry = matrix.Find(ohio)
	require.NotNil(t, entry)
	assert.Equal(t, "US", entry.ID)

	abroad := model.Jurisdiction{Country: "CA"}
	entry = matrix.Find(abroad)
	require.NotNil(t, entry, "default entry backstops unmatched jurisdictions")
	assert.Equal(t, "US-DEFAULT", entry.ID)
	assert.Equal(t, AvailabilityUnknown, matrix.RecordAvailability(model.RecordPermits, abroad).Status)
}

func TestEvaluateCoverage(t *testing.T) {
	t.Parallel()

	matrix := Matrix{{
		ID:           "US-TX-DALLAS",
		Jurisdiction: model.Jurisdiction{Country: "US", State: "TX", County: "Dallas County"},
		Records: availabilityFor(map[model.RecordType]RecordAvailability{
			model.RecordDeedRecorder: {
				Status:            AvailabilityUnavailable,
				UnavailableReason: ReasonNotDigitized,
				LastChecked:       "2026-06-01",
			},
		}),
	}}
	matrix = append(matrix, DefaultMatrix()...)
	dallas := model.Jurisdiction{Country: "US", State: "TX", County: "Dallas County"}

	zoning := model.Source{
		URI:    "https://gis.dallastx.gov/zoning/map",
		Domain: "gis.dallastx.gov",
		Title:  "Zoning districts map",
	}
	report := Evaluate([]model.Source{zoning}, dallas, matrix)

	byType := make(map[model.RecordType]Entry, len(report.Entries))
	for _, e := range report.Entries {
		byType[e.RecordType] = e
	}

	assert.Equal(t, StatusCovered, byType[model.RecordZoningGIS].Status)
	assert.Equal(t, []string{zoning.URI}, byType[model.RecordZoningGIS].MatchedSources)

	assert.Equal(t, StatusUnavailable, byType[model.RecordDeedRecorder].Status)
	assert.Contains(t, byType[model.RecordDeedRecorder].AvailabilityDetails, "not_digitized")

	for _, rt := range []model.RecordType{
		model.RecordAssessorParcel,
		model.RecordTaxCollector,
		model.RecordPermits,
		model.RecordCodeEnforcement,
	} {
		assert.Equal(t, StatusMissing, byType[rt].Status, string(rt))
	}

	assert.False(t, report.Complete)
	assert.Len(t, report.Missing, 4)
	assert.Equal(t, []model.RecordType{model.RecordDeedRecorder}, report.Unavailable)
}

func TestEvaluateAuthorityFloor(t *testing.T) {
	t.Parallel()

	weak := model.Source{
		URI:    "https://zillow.com/advice/zoning",
		Domain: "zillow.com",
		Title:  "Zoning info for buyers",
	}
	report := Evaluate([]model.Source{weak}, model.Jurisdiction{Country: "US"}, nil)

	for _, e := range report.Entries {
		if e.RecordType == model.RecordZoningGIS {
			assert.NotEqual(t, StatusCovered, e.Status, "low-authority match must not cover")
			assert.Empty(t, e.MatchedSources)
		}
	}
}

func TestEvaluateAvailabilityStatusMapping(t *testing.T) {
	t.Parallel()

	matrix := Matrix{{
		ID:           "US-TEST",
		Jurisdiction: model.Jurisdiction{Country: "US"},
		Records: availabilityFor(map[model.RecordType]RecordAvailability{
			model.RecordPermits:      {Status: AvailabilityRestricted},
			model.RecordTaxCollector: {Status: AvailabilityPartial},
			model.RecordZoningGIS:    {Status: AvailabilityUnknown},
		}),
	}}

	report := Evaluate(nil, model.Jurisdiction{Country: "US"}, matrix)
	byType := make(map[model.RecordType]Status, len(report.Entries))
	for _, e := range report.Entries {
		byType[e.RecordType] = e.Status
	}

	assert.Equal(t, StatusRestricted, byType[model.RecordPermits])
	assert.Equal(t, StatusPartial, byType[model.RecordTaxCollector])
	assert.Equal(t, StatusUnknown, byType[model.RecordZoningGIS])
	assert.Equal(t, StatusMissing, byType[model.RecordAssessorParcel])
}

func TestLoadMatrix(t *testing.T) {
	t.Parallel()

	doc := `
- id: US-TX
  jurisdiction:
    country: US
    state: TX
  records:
    deed_recorder:
      status: unavailable
      unavailableReason: requires_in_person
`
	path := filepath.Join(t.TempDir(), "matrix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	matrix, err := LoadMatrix(path)
	require.NoError(t, err)

	texas := model.Jurisdiction{Country: "US", State: "TX"}
	av := matrix.RecordAvailability(model.RecordDeedRecorder, texas)
	assert.Equal(t, AvailabilityUnavailable, av.Status)
	assert.Equal(t, ReasonRequiresInPerson, av.UnavailableReason)

	entry := matrix.Find(model.Jurisdiction{Country: "US", State: "WA"})
	require.NotNil(t, entry)
	assert.Equal(t, "US-DEFAULT", entry.ID)
}
