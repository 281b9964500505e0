package ingest

import (
	"strings"
	"testing"
)

func validRequest() Request {
	return Request{
		Timestamp:  "2026-08-06T12:00:00Z",
		Level:      "error",
		LogType:    "exception",
		Importance: "high",
		ErrorType:  "ValueError",
		Message:    "bad input",
	}
}

func TestToLogEvent_AcceptsValidRequest(t *testing.T) {
	r := validRequest()
	e, err := ToLogEvent(r)
	if err != nil {
		t.Fatalf("expected valid request to pass, got %v", err)
	}
	if e.ErrorType != "ValueError" {
		t.Fatalf("unexpected error type: %q", e.ErrorType)
	}
}

func TestToLogEvent_RejectsInvalidLevel(t *testing.T) {
	r := validRequest()
	r.Level = "verbose"
	if _, err := ToLogEvent(r); err == nil {
		t.Fatalf("expected rejection of invalid level")
	}
}

func TestToLogEvent_RejectsInvalidLogType(t *testing.T) {
	r := validRequest()
	r.LogType = "unknown"
	if _, err := ToLogEvent(r); err == nil {
		t.Fatalf("expected rejection of invalid log_type")
	}
}

func TestToLogEvent_RejectsBadTimestamp(t *testing.T) {
	r := validRequest()
	r.Timestamp = "not-a-timestamp"
	if _, err := ToLogEvent(r); err == nil {
		t.Fatalf("expected rejection of unparsable timestamp")
	}
}

func TestToLogEvent_RequiresMessageOrErrorMessage(t *testing.T) {
	r := validRequest()
	r.Message = ""
	r.ErrorMessage = ""
	if _, err := ToLogEvent(r); err == nil {
		t.Fatalf("expected rejection when neither message nor error_message is set")
	}
}

func TestToLogEvent_ExceptionRequiresErrorType(t *testing.T) {
	r := validRequest()
	r.ErrorType = ""
	if _, err := ToLogEvent(r); err == nil {
		t.Fatalf("expected exception log_type to require error_type")
	}
}

func TestToLogEvent_EndpointRequiresEndpointAttributes(t *testing.T) {
	r := validRequest()
	r.LogType = "endpoint"
	r.ErrorType = ""
	if _, err := ToLogEvent(r); err == nil {
		t.Fatalf("expected endpoint log_type without attributes.endpoint to be rejected")
	}

	r.Attributes = []byte(`{"endpoint":{"method":"GET","path":"/health"}}`)
	if _, err := ToLogEvent(r); err != nil {
		t.Fatalf("expected well-formed endpoint attributes to pass, got %v", err)
	}
}

func TestToLogEvent_RejectsOversizeMessage(t *testing.T) {
	r := validRequest()
	r.Message = strings.Repeat("x", 1<<20)
	if _, err := ToLogEvent(r); err == nil {
		t.Fatalf("expected oversize message to be rejected")
	}
}

func TestToLogEvent_RejectsMalformedAttributesJSON(t *testing.T) {
	r := validRequest()
	r.Attributes = []byte(`{not json`)
	if _, err := ToLogEvent(r); err == nil {
		t.Fatalf("expected malformed attributes JSON to be rejected")
	}
}
