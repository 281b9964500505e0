package logs

import (
	"bytes"
	"testing"
	"time"

	"github.com/pulsegrid/pulsegrid/internal/model"
)

func TestNullableString_EmptyBecomesNil(t *testing.T) {
	if got := nullableString(""); got != nil {
		t.Fatalf("expected nil for empty string, got %v", got)
	}
	if got := nullableString("x"); got != "x" {
		t.Fatalf("expected x, got %v", got)
	}
}

func TestNullableBytes_EmptyBecomesNil(t *testing.T) {
	if got := nullableBytes(nil); got != nil {
		t.Fatalf("expected nil for nil slice, got %v", got)
	}
	if got := nullableBytes([]byte{}); got != nil {
		t.Fatalf("expected nil for empty slice, got %v", got)
	}
	if got := nullableBytes([]byte("x")); !bytes.Equal(got.([]byte), []byte("x")) {
		t.Fatalf("expected x, got %v", got)
	}
}

func TestLogRow_MatchesLogColumnsOrderAndCarriesEveryField(t *testing.T) {
	e := &model.LogEvent{
		ProjectID: 1, Timestamp: time.Unix(100, 0).UTC(), IngestedAt: time.Unix(200, 0).UTC(),
		Level: model.LevelError, LogType: model.LogTypeException, Importance: model.ImportanceHigh,
		Environment: "prod", Release: "1.2.3", Message: "boom", ErrorType: "ValueError",
		ErrorMessage: "bad value", StackTrace: "at foo", Attributes: []byte(`{"a":1}`),
		SDKVersion: "1.0", Platform: "python", PlatformVersion: "3.12", ProcessingTimeMs: 42,
		ErrorFingerprint: "fp1",
	}
	row := logRow(e)
	if len(row) != len(logColumns) {
		t.Fatalf("expected %d values for %d columns, got %d", len(logColumns), len(logColumns), len(row))
	}
	if row[0] != e.ProjectID {
		t.Fatalf("expected project_id first, got %v", row[0])
	}
	if row[3] != string(e.Level) {
		t.Fatalf("expected level in position 3, got %v", row[3])
	}
	last := len(logColumns) - 1
	if logColumns[last] != "error_fingerprint" || row[last] != e.ErrorFingerprint {
		t.Fatalf("expected error_fingerprint last, got column %q value %v", logColumns[last], row[last])
	}
}

func TestLogRow_NullsOutUnsetOptionalFields(t *testing.T) {
	e := &model.LogEvent{ProjectID: 1, Timestamp: time.Now().UTC(), IngestedAt: time.Now().UTC()}
	row := logRow(e)
	for i, col := range logColumns {
		switch col {
		case "environment", "release", "message", "error_type", "error_message", "stack_trace",
			"attributes", "sdk_version", "platform", "platform_version", "error_fingerprint":
			if row[i] != nil {
				t.Errorf("expected column %q to be nil for a zero-value event, got %v", col, row[i])
			}
		}
	}
}
