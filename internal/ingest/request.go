// Package ingest implements C3, the Ingest Front of spec.md §4.3: schema
// validation, enrichment (server timestamp, fingerprint), backpressure
// checking, queue encoding, and error-level notification publish.
package ingest

import (
	"encoding/json"
	"time"
)

// Request is the wire shape of a single item in POST
// /api/v1/ingest/single or /api/v1/ingest/batch, matching
// original_source/services/gateway/gateway_service/schemas/ingestion.py's
// field set.
type Request struct {
	Timestamp        string          `json:"timestamp"`
	Level            string          `json:"level"`
	LogType          string          `json:"log_type"`
	Importance       string          `json:"importance"`
	Environment      string          `json:"environment,omitempty"`
	Release          string          `json:"release,omitempty"`
	Message          string          `json:"message,omitempty"`
	ErrorType        string          `json:"error_type,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	StackTrace       string          `json:"stack_trace,omitempty"`
	Attributes       json.RawMessage `json:"attributes,omitempty"`
	SDKVersion       string          `json:"sdk_version,omitempty"`
	Platform         string          `json:"platform,omitempty"`
	PlatformVersion  string          `json:"platform_version,omitempty"`
	ProcessingTimeMs int16           `json:"processing_time_ms,omitempty"`
}

// BatchRequest is the body of POST /api/v1/ingest/batch.
type BatchRequest struct {
	Events []Request `json:"events"`
}

// MaxBatchSize is the ceiling spec.md §4.3 names ("a batch of up to 1000
// events for one project").
const MaxBatchSize = 1000

// ParseTimestamp parses the client-supplied timestamp, requiring it resolve
// to a UTC instant per spec.md §3's LogEvent invariant.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// Result is the per-batch response spec.md §4.3 documents: accepted count,
// rejected count, and a reason per rejected item.
type Result struct {
	Accepted  int              `json:"accepted"`
	Rejected  int              `json:"rejected"`
	Rejections []RejectedItem  `json:"rejections,omitempty"`
}

type RejectedItem struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}
