package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/evidence-cli/internal/model"
)

func TestResolveCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		kind   ErrorKind
		want   ErrorCode
	}{
		{0, KindNetwork, CodeNetworkError},
		{0, KindInvalidJSON, CodeInvalidJSON},
		{401, "", CodeHTTP401},
		{403, "", CodeHTTP403},
		{404, "", CodeHTTP404},
		{429, "", CodeHTTP429},
		{500, "", CodeHTTP500},
		{503, "", CodeHTTP503},
		{502, "", CodeHTTP5xx},
		{504, "", CodeHTTP5xx},
		{418, "", CodeHTTPOther},
		{0, "", CodeHTTPOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveCode(tt.status, tt.kind))
	}
}

func TestRetryableFlags(t *testing.T) {
	t.Parallel()

	assert.True(t, Retryable(CodeNetworkError))
	assert.True(t, Retryable(CodeHTTP429))
	assert.True(t, Retryable(CodeHTTP5xx))
	assert.False(t, Retryable(CodeInvalidJSON))
	assert.False(t, Retryable(CodeHTTP404))
	assert.False(t, Retryable(CodeHTTPOther))
}

func TestRecorderAggregates(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	assert.Nil(t, r.Snapshot())

	r.Record(Event{Status: 503, PortalType: model.PortalSocrata, PortalURL: "https://www.dallasopendata.com", Endpoint: "/resource/qv6i-rri7.json"})
	r.Record(Event{Status: 503})
	r.Record(Event{Kind: KindInvalidJSON})

	m := r.Snapshot()
	require.NotNil(t, m)
	assert.Equal(t, 3, m.Total)
	assert.Equal(t, 2, m.ByCode[CodeHTTP503])
	assert.Equal(t, 1, m.ByCode[CodeInvalidJSON])
	assert.Equal(t, 2, m.ByStatus["503"])
	require.Len(t, m.Samples, 3)
	assert.Equal(t, model.PortalSocrata, m.Samples[0].PortalType)

	// Snapshot is a copy.
	m.ByCode[CodeHTTP503] = 99
	assert.Equal(t, 2, r.Snapshot().ByCode[CodeHTTP503])
}

func TestRecorderSampleCap(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	for i := 0; i < 10; i++ {
		r.Record(Event{Status: 500})
	}
	m := r.Snapshot()
	require.NotNil(t, m)
	assert.Equal(t, 10, m.Total)
	assert.Len(t, m.Samples, 6)
}

func TestRecorderReset(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.Record(Event{Status: 404})
	r.Reset()
	assert.Nil(t, r.Snapshot())
}
