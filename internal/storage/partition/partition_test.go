package partition

import (
	"testing"
	"time"
)

func TestName_UsesFirstOfMonth(t *testing.T) {
	t1 := time.Date(2026, 8, 17, 13, 45, 0, 0, time.UTC)
	if got := Name("logs", t1); got != "logs_2026_08" {
		t.Fatalf("expected logs_2026_08, got %q", got)
	}

	t2 := time.Date(2026, 8, 1, 0, 0, 0, 1, time.UTC)
	if got := Name("logs", t2); got != Name("logs", t1) {
		t.Fatalf("expected any timestamp within August to name the same partition, got %q vs %q", got, Name("logs", t1))
	}
}

func TestFirstOfMonth_NormalizesToUTCMidnight(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	t1 := time.Date(2026, 8, 17, 23, 0, 0, 0, loc)
	got := firstOfMonth(t1)
	want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRangeFor_SpansExactlyOneMonth(t *testing.T) {
	start, end := rangeFor(time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC))
	if !start.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start: %v", start)
	}
	if !end.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end: %v", end)
	}
}

func TestParsePartitionMonth_RoundTripsWithName(t *testing.T) {
	t1 := time.Date(2026, 11, 5, 0, 0, 0, 0, time.UTC)
	name := Name("ingestion_metrics", t1)
	got, ok := parsePartitionMonth("ingestion_metrics", name)
	if !ok {
		t.Fatalf("expected %q to parse", name)
	}
	if !got.Equal(firstOfMonth(t1)) {
		t.Fatalf("expected %v, got %v", firstOfMonth(t1), got)
	}
}

func TestParsePartitionMonth_RejectsUnrelatedNames(t *testing.T) {
	cases := []string{"other_table_2026_08", "logs", "logs_2026_08_extra", "logs_20AB_08"}
	for _, name := range cases {
		if _, ok := parsePartitionMonth("logs", name); ok {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}
