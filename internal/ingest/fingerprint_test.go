package ingest

import "testing"

func TestFingerprint_DeterministicForSameInputs(t *testing.T) {
	stack := "File \"/app/handlers.py\", line 42, in handle_request\nFile \"/app/db.py\", line 10, in query"
	a := Fingerprint("ValueError", stack, "python")
	b := Fingerprint("ValueError", stack, "python")
	if a != b {
		t.Fatalf("expected deterministic fingerprint, got %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected a 64-char hex sha256, got %d chars", len(a))
	}
}

func TestFingerprint_DiffersOnPlatform(t *testing.T) {
	stack := "File \"/app/handlers.py\", line 42, in handle_request"
	a := Fingerprint("ValueError", stack, "python")
	b := Fingerprint("ValueError", stack, "node")
	if a == b {
		t.Fatalf("expected different fingerprints across platforms")
	}
}

func TestFingerprint_IgnoresLineNumberChurn(t *testing.T) {
	a := Fingerprint("ValueError", "File \"/app/handlers.py\", line 42, in handle_request", "python")
	b := Fingerprint("ValueError", "File \"/app/handlers.py\", line 99, in handle_request", "python")
	if a != b {
		t.Fatalf("expected line-number-only changes to leave the fingerprint unchanged")
	}
}

func TestFingerprint_UsesOnlyFirstThreeFrames(t *testing.T) {
	base := "File \"/a.py\", line 1, in f1\nFile \"/b.py\", line 2, in f2\nFile \"/c.py\", line 3, in f3"
	withExtra := base + "\nFile \"/d.py\", line 4, in f4"
	a := Fingerprint("ValueError", base, "python")
	b := Fingerprint("ValueError", withExtra, "python")
	if a != b {
		t.Fatalf("expected a 4th frame beyond the first three to leave the fingerprint unchanged")
	}
}

func TestFingerprint_NodeFrames(t *testing.T) {
	stack := "at handleRequest (/app/server.js:10:5)\nat next (/app/router.js:20:1)"
	fp := Fingerprint("TypeError", stack, "node")
	if len(fp) != 64 {
		t.Fatalf("expected valid fingerprint, got %q", fp)
	}
}
