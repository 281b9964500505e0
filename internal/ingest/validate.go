package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/pulsegrid/pulsegrid/internal/model"
)

// endpointEnvelope carries the required attributes.endpoint sub-object for
// log_type "endpoint" entries (SPEC_FULL.md §3.3 supplement, grounded on
// original_source's schemas.py::validate_endpoint_fields).
type endpointEnvelope struct {
	Endpoint *model.EndpointAttributes `json:"endpoint"`
}

// ToLogEvent validates r as a pure function of its bytes/fields (spec.md §9
// design note) and, on success, returns the not-yet-enriched LogEvent.
// Validation never truncates an oversize field — the event is rejected.
func ToLogEvent(r Request) (*model.LogEvent, error) {
	lvl := model.Level(r.Level)
	if !lvl.Valid() {
		return nil, fmt.Errorf("invalid level %q", r.Level)
	}
	lt := model.LogType(r.LogType)
	if !lt.Valid() {
		return nil, fmt.Errorf("invalid log_type %q", r.LogType)
	}
	imp := model.Importance(r.Importance)
	if !imp.Valid() {
		return nil, fmt.Errorf("invalid importance %q", r.Importance)
	}

	ts, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", r.Timestamp, err)
	}

	if len(r.Message) > model.MaxMessageBytes {
		return nil, fmt.Errorf("message exceeds %d bytes", model.MaxMessageBytes)
	}
	if len(r.ErrorMessage) > model.MaxErrorMessageBytes {
		return nil, fmt.Errorf("error_message exceeds %d bytes", model.MaxErrorMessageBytes)
	}
	if len(r.StackTrace) > model.MaxStackTraceBytes {
		return nil, fmt.Errorf("stack_trace exceeds %d bytes", model.MaxStackTraceBytes)
	}
	if len(r.Attributes) > model.MaxAttributesBytes {
		return nil, fmt.Errorf("attributes exceeds %d bytes", model.MaxAttributesBytes)
	}
	if len(r.ErrorType) > model.MaxErrorTypeBytes {
		return nil, fmt.Errorf("error_type exceeds %d bytes", model.MaxErrorTypeBytes)
	}
	if len(r.Environment) > model.MaxEnvironmentBytes {
		return nil, fmt.Errorf("environment exceeds %d bytes", model.MaxEnvironmentBytes)
	}
	if len(r.Release) > model.MaxReleaseBytes {
		return nil, fmt.Errorf("release exceeds %d bytes", model.MaxReleaseBytes)
	}
	if len(r.SDKVersion) > model.MaxSDKVersionBytes {
		return nil, fmt.Errorf("sdk_version exceeds %d bytes", model.MaxSDKVersionBytes)
	}
	if len(r.Platform) > model.MaxPlatformBytes {
		return nil, fmt.Errorf("platform exceeds %d bytes", model.MaxPlatformBytes)
	}

	if r.Message == "" && r.ErrorMessage == "" {
		return nil, fmt.Errorf("one of message or error_message is required")
	}

	if lt == model.LogTypeEndpoint {
		var env endpointEnvelope
		if len(r.Attributes) == 0 {
			return nil, fmt.Errorf("log_type endpoint requires attributes.endpoint")
		}
		if err := json.Unmarshal(r.Attributes, &env); err != nil || env.Endpoint == nil {
			return nil, fmt.Errorf("log_type endpoint requires a well-formed attributes.endpoint object")
		}
		if env.Endpoint.Method == "" || env.Endpoint.Path == "" {
			return nil, fmt.Errorf("attributes.endpoint requires method and path")
		}
	}

	if lt == model.LogTypeException && r.ErrorType == "" {
		return nil, fmt.Errorf("log_type exception requires error_type")
	}

	if len(r.Attributes) > 0 && !json.Valid(r.Attributes) {
		return nil, fmt.Errorf("attributes is not valid JSON")
	}

	return &model.LogEvent{
		Timestamp:        ts,
		Level:            lvl,
		LogType:          lt,
		Importance:       imp,
		Environment:      r.Environment,
		Release:          r.Release,
		Message:          r.Message,
		ErrorType:        r.ErrorType,
		ErrorMessage:     r.ErrorMessage,
		StackTrace:       r.StackTrace,
		Attributes:       r.Attributes,
		SDKVersion:       r.SDKVersion,
		Platform:         r.Platform,
		PlatformVersion:  r.PlatformVersion,
		ProcessingTimeMs: r.ProcessingTimeMs,
	}, nil
}
