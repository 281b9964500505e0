package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// frame is a single normalized stack frame: file path (relative, no
// absolute-path prefix) and function name, with line/column stripped.
type frame struct {
	file     string
	function string
}

// stack-frame patterns for the languages SDKs in this system emit,
// mirroring original_source's enricher.py::parse_stack_trace but extended to
// also capture the function name, which spec.md's normalization keeps and
// enricher.py's does not (spec.md's explicit algorithm wins over the
// original per the REDESIGN-FLAGS precedence rule — see SPEC_FULL.md §3.3).
var (
	pythonFrame = regexp.MustCompile(`File "([^"]+)", line (\d+), in (\S+)`)
	nodeFrame   = regexp.MustCompile(`at (\S+) \(([^:]+):(\d+):(\d+)\)`)
	javaFrame   = regexp.MustCompile(`at (\S+)\(([^:]+):(\d+)\)`)
)

func parseStackFrames(stackTrace string) []frame {
	var frames []frame

	for _, m := range pythonFrame.FindAllStringSubmatch(stackTrace, -1) {
		frames = append(frames, frame{file: m[1], function: m[3]})
	}
	if len(frames) == 0 {
		for _, m := range nodeFrame.FindAllStringSubmatch(stackTrace, -1) {
			frames = append(frames, frame{file: m[2], function: m[1]})
		}
	}
	if len(frames) == 0 {
		for _, m := range javaFrame.FindAllStringSubmatch(stackTrace, -1) {
			frames = append(frames, frame{file: m[2], function: m[1]})
		}
	}
	return frames
}

// normalizeFile strips absolute-path prefixes, keeping only the path
// relative to whatever root the SDK ran under.
func normalizeFile(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.LastIndex(path, ":\\"); i >= 0 && i+2 < len(path) {
		path = path[i+2:]
	}
	return strings.ReplaceAll(path, "\\", "/")
}

// Fingerprint implements spec.md §4.3 step 2's algorithm exactly:
//
//	SHA-256(error_type || 0x00 || first three stack frames normalised || 0x00 || platform)
//
// Frame normalization strips line numbers and column offsets; keeps file
// path (without absolute prefixes) and function name. Deterministic given
// the same (error_type, first three frames, platform) — see spec.md §8
// property 2.
func Fingerprint(errorType, stackTrace, platform string) string {
	frames := parseStackFrames(stackTrace)
	if len(frames) > 3 {
		frames = frames[:3]
	}

	parts := make([]string, len(frames))
	for i, f := range frames {
		parts[i] = normalizeFile(f.file) + ":" + f.function
	}
	frameSig := strings.Join(parts, "|")

	h := sha256.New()
	h.Write([]byte(errorType))
	h.Write([]byte{0})
	h.Write([]byte(frameSig))
	h.Write([]byte{0})
	h.Write([]byte(platform))
	return hex.EncodeToString(h.Sum(nil))
}
