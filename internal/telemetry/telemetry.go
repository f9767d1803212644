// Package telemetry classifies portal failures into a fixed error taxonomy
// and aggregates them into process-wide counters.
package telemetry

import (
	"strconv"
	"sync"
	"time"

	"github.com/sells-group/evidence-cli/internal/model"
)

// ErrorCode is one entry in the portal error taxonomy.
type ErrorCode string

const (
	CodeNetworkError ErrorCode = "network_error"
	CodeInvalidJSON  ErrorCode = "invalid_json"
	CodeHTTP401      ErrorCode = "http_401"
	CodeHTTP403      ErrorCode = "http_403"
	CodeHTTP404      ErrorCode = "http_404"
	CodeHTTP429      ErrorCode = "http_429"
	CodeHTTP500      ErrorCode = "http_500"
	CodeHTTP503      ErrorCode = "http_503"
	CodeHTTP5xx      ErrorCode = "http_5xx"
	CodeHTTPOther    ErrorCode = "http_other"
)

// Severity ranks a taxonomy entry.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// TaxonomyEntry describes one error code.
type TaxonomyEntry struct {
	Code      ErrorCode
	Severity  Severity
	Summary   string
	Retryable bool
}

// Taxonomy maps every error code to its classification.
var Taxonomy = map[ErrorCode]TaxonomyEntry{
	CodeNetworkError: {CodeNetworkError, SeverityError, "Network failure reaching portal endpoint.", true},
	CodeInvalidJSON:  {CodeInvalidJSON, SeverityWarning, "Portal response was not valid JSON.", false},
	CodeHTTP401:      {CodeHTTP401, SeverityWarning, "Portal returned HTTP 401 (unauthorized).", false},
	CodeHTTP403:      {CodeHTTP403, SeverityWarning, "Portal returned HTTP 403 (forbidden).", false},
	CodeHTTP404:      {CodeHTTP404, SeverityWarning, "Portal endpoint not found (404).", false},
	CodeHTTP429:      {CodeHTTP429, SeverityWarning, "Portal rate limited the request (429).", true},
	CodeHTTP500:      {CodeHTTP500, SeverityError, "Portal returned HTTP 500 (server error).", true},
	CodeHTTP503:      {CodeHTTP503, SeverityError, "Portal returned HTTP 503 (service unavailable).", true},
	CodeHTTP5xx:      {CodeHTTP5xx, SeverityError, "Portal returned HTTP 5xx server error.", true},
	CodeHTTPOther:    {CodeHTTPOther, SeverityWarning, "Portal returned unexpected HTTP status.", false},
}

// ErrorKind distinguishes non-HTTP failure modes.
type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"
	KindInvalidJSON ErrorKind = "invalid_json"
)

// ResolveCode maps a status code or failure kind onto a taxonomy code.
func ResolveCode(status int, kind ErrorKind) ErrorCode {
	switch kind {
	case KindNetwork:
		return CodeNetworkError
	case KindInvalidJSON:
		return CodeInvalidJSON
	}
	switch {
	case status == 401:
		return CodeHTTP401
	case status == 403:
		return CodeHTTP403
	case status == 404:
		return CodeHTTP404
	case status == 429:
		return CodeHTTP429
	case status == 500:
		return CodeHTTP500
	case status == 503:
		return CodeHTTP503
	case status >= 500 && status < 600:
		return CodeHTTP5xx
	}
	return CodeHTTPOther
}

// Retryable reports whether the taxonomy marks the code as safe to retry.
func Retryable(code ErrorCode) bool {
	return Taxonomy[code].Retryable
}

// maxSamples caps how many concrete failures metrics retain for reporting.
const maxSamples = 6

// Sample is one captured failure.
type Sample struct {
	Code       ErrorCode        `json:"code"`
	Status     int              `json:"status,omitempty"`
	PortalType model.PortalType `json:"portalType,omitempty"`
	PortalURL  string           `json:"portalUrl,omitempty"`
	Endpoint   string           `json:"endpoint,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}

// Metrics aggregates portal failures across a run.
type Metrics struct {
	Total    int               `json:"total"`
	ByCode   map[ErrorCode]int `json:"byCode"`
	ByStatus map[string]int    `json:"byStatus,omitempty"`
	Samples  []Sample          `json:"samples,omitempty"`
}

// Event describes one failure to record.
type Event struct {
	Code       ErrorCode
	Status     int
	Kind       ErrorKind
	PortalType model.PortalType
	PortalURL  string
	Endpoint   string
}

// Recorder accumulates error metrics. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	metrics Metrics
	now     func() time.Time
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{metrics: Metrics{ByCode: map[ErrorCode]int{}}, now: time.Now}
}

// Record classifies and counts one failure.
func (r *Recorder) Record(ev Event) ErrorCode {
	code := ev.Code
	if code == "" {
		code = ResolveCode(ev.Status, ev.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics.Total++
	r.metrics.ByCode[code]++
	if ev.Status != 0 {
		if r.metrics.ByStatus == nil {
			r.metrics.ByStatus = map[string]int{}
		}
		r.metrics.ByStatus[strconv.Itoa(ev.Status)]++
	}
	if len(r.metrics.Samples) < maxSamples {
		r.metrics.Samples = append(r.metrics.Samples, Sample{
			Code:       code,
			Status:     ev.Status,
			PortalType: ev.PortalType,
			PortalURL:  ev.PortalURL,
			Endpoint:   ev.Endpoint,
			OccurredAt: r.now().UTC(),
		})
	}
	return code
}

// Snapshot returns a copy of the current metrics, or nil when nothing has
// been recorded.
func (r *Recorder) Snapshot() *Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.metrics.Total == 0 {
		return nil
	}
	out := Metrics{Total: r.metrics.Total, ByCode: make(map[ErrorCode]int, len(r.metrics.ByCode))}
	for k, v := range r.metrics.ByCode {
		out.ByCode[k] = v
	}
	if r.metrics.ByStatus != nil {
		out.ByStatus = make(map[string]int, len(r.metrics.ByStatus))
		for k, v := range r.metrics.ByStatus {
			out.ByStatus[k] = v
		}
	}
	out.Samples = append(out.Samples, r.metrics.Samples...)
	return &out
}

// Reset clears all counters.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = Metrics{ByCode: map[ErrorCode]int{}}
}

// Default is the process-wide recorder.
var Default = NewRecorder()
