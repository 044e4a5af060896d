// Package decode recovers plain text from the attributedBody column of the
// Messages database. The column holds an NSKeyedArchiver ("streamtyped")
// blob for which no official parser exists, so recovery runs a fixed chain
// of byte-pattern heuristics and falls back to progressively looser
// strategies until one produces usable text.
package decode

import (
	"bytes"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"howett.net/plist"
)

// Strategy identifies which decoding strategy recovered the text.
type Strategy string

const (
	StrategyPrimary Strategy = "primary"
	StrategyArchive Strategy = "archive"
	StrategyPlist   Strategy = "plist"
	StrategyScan    Strategy = "scan"
	StrategyNone    Strategy = ""
)

var (
	archiveHeader = []byte("\x04\x0bstreamtyped")
	stringMarker  = []byte("NSString")

	// Observed layout: text begins 14 bytes after the NSString marker,
	// preceded by a one-byte length.
	fixedTextOffset = 14

	// The '+' delimiter that precedes the length byte in archived strings.
	lengthDelimiter = byte('+')

	// A length byte can encode at most 255, but the historical bound is
	// kept as-is for the scan variants.
	maxTextLength = 1000

	// Window after the marker within which the tight scan expects the
	// delimiter.
	tightScanWindow = 32

	minRunLength = 3
)

// artifactSubstrings are archiver class names that the heuristic scan must
// never mistake for message text.
var artifactSubstrings = []string{
	"nsstring",
	"nsattributed",
	"nsmutable",
	"nsarchive",
	"streamtyped",
	"nskeyedarchiver",
}

// plistTextKeys are searched, in order, before falling back to any string in
// the structure.
var plistTextKeys = []string{"NSString", "string", "text", "content"}

// Result is the outcome of one decode call.
type Result struct {
	Text     string
	Strategy Strategy
}

// Stats counts decode outcomes per strategy.
type Stats struct {
	PrimaryHits int64 `json:"primary_hits"`
	ArchiveHits int64 `json:"archive_hits"`
	PlistHits   int64 `json:"plist_hits"`
	ScanHits    int64 `json:"scan_hits"`
	Failures    int64 `json:"failures"`
}

// Total returns the number of decode attempts counted.
func (s Stats) Total() int64 {
	return s.PrimaryHits + s.ArchiveHits + s.PlistHits + s.ScanHits + s.Failures
}

// Decoder runs the strategy chain and tracks outcome counters. Safe for
// concurrent use.
type Decoder struct {
	mu    sync.Mutex
	stats Stats
}

// New returns a Decoder with zeroed counters.
func New() *Decoder {
	return &Decoder{}
}

// Stats returns a snapshot of the outcome counters.
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// ResetStats zeroes the outcome counters.
func (d *Decoder) ResetStats() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats = Stats{}
}

// ExtractText returns the best available text for a message row. A non-blank
// primary text always wins and the blob is not examined. An empty return
// means no strategy recovered anything; that is not an error.
func (d *Decoder) ExtractText(text string, blob []byte) string {
	return d.Extract(text, blob).Text
}

// Extract is ExtractText plus which strategy produced the result.
func (d *Decoder) Extract(text string, blob []byte) Result {
	if t := strings.TrimSpace(text); t != "" {
		d.count(StrategyPrimary)
		return Result{Text: t, Strategy: StrategyPrimary}
	}
	if len(blob) == 0 {
		return Result{Strategy: StrategyNone}
	}

	if t := decodeArchive(blob); t != "" {
		d.count(StrategyArchive)
		return Result{Text: t, Strategy: StrategyArchive}
	}
	if t := decodePlist(blob); t != "" {
		d.count(StrategyPlist)
		return Result{Text: t, Strategy: StrategyPlist}
	}
	if t := scanPrintableRuns(blob); t != "" {
		d.count(StrategyScan)
		return Result{Text: t, Strategy: StrategyScan}
	}

	d.count(StrategyNone)
	return Result{Strategy: StrategyNone}
}

func (d *Decoder) count(s Strategy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch s {
	case StrategyPrimary:
		d.stats.PrimaryHits++
	case StrategyArchive:
		d.stats.ArchiveHits++
	case StrategyPlist:
		d.stats.PlistHits++
	case StrategyScan:
		d.stats.ScanHits++
	default:
		d.stats.Failures++
	}
}

// decodeArchive handles the NSKeyedArchiver "streamtyped" layout. Three
// sub-strategies run in order of decreasing precision: the fixed offset used
// by the historical layout, a tight scan for the delimiter near the marker,
// and a loose scan for the delimiter anywhere after the marker.
func decodeArchive(data []byte) string {
	if !bytes.HasPrefix(data, archiveHeader) {
		return ""
	}

	markerIdx := bytes.Index(data, stringMarker)
	if markerIdx < 0 {
		return ""
	}
	markerEnd := markerIdx + len(stringMarker)

	if t := readAtFixedOffset(data, markerEnd); t != "" {
		return t
	}
	if t := scanForDelimiter(data, markerEnd, markerEnd+tightScanWindow); t != "" {
		return t
	}
	return scanForDelimiter(data, markerEnd, len(data))
}

// readAtFixedOffset reads the length byte at markerEnd+fixedTextOffset-1 and
// the text immediately after it.
func readAtFixedOffset(data []byte, markerEnd int) string {
	textStart := markerEnd + fixedTextOffset
	lengthPos := textStart - 1
	if lengthPos < 0 || textStart >= len(data) {
		return ""
	}
	return sliceText(data, textStart, int(data[lengthPos]))
}

// scanForDelimiter looks for the '+' delimiter in [from, to), expecting a
// one-byte length and then the text.
func scanForDelimiter(data []byte, from, to int) string {
	if from < 0 || from >= len(data) {
		return ""
	}
	if to > len(data) {
		to = len(data)
	}
	rel := bytes.IndexByte(data[from:to], lengthDelimiter)
	if rel < 0 {
		return ""
	}
	plusIdx := from + rel
	if plusIdx+2 >= len(data) {
		return ""
	}
	return sliceText(data, plusIdx+2, int(data[plusIdx+1]))
}

// sliceText validates a length-prefixed candidate: sane length, in-bounds,
// strict UTF-8, non-blank after trimming.
func sliceText(data []byte, start, length int) string {
	if length <= 0 || length > maxTextLength {
		return ""
	}
	end := start + length
	if start < 0 || end > len(data) {
		return ""
	}
	b := data[start:end]
	if !utf8.Valid(b) {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// decodePlist handles the occasional binary-plist encoding of the same
// column: parse as a generic container and search for text under known keys,
// then anywhere.
func decodePlist(data []byte) string {
	if !bytes.HasPrefix(data, []byte("bplist")) {
		return ""
	}
	var root any
	if _, err := plist.Unmarshal(data, &root); err != nil {
		return ""
	}
	return findPlistText(root)
}

func findPlistText(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case map[string]any:
		for _, key := range plistTextKeys {
			if s, ok := val[key].(string); ok {
				if t := strings.TrimSpace(s); t != "" {
					return t
				}
			}
		}
		for _, nested := range val {
			if t := findPlistText(nested); t != "" {
				return t
			}
		}
	case []any:
		for _, item := range val {
			if t := findPlistText(item); t != "" {
				return t
			}
		}
	}
	return ""
}

// scanPrintableRuns is the last resort: collect maximal runs of printable
// bytes, drop short runs and archiver artifacts, and return the longest
// survivor. Occasionally returns noise, which beats total loss.
func scanPrintableRuns(data []byte) string {
	var candidates []string
	var run []byte

	flush := func() {
		defer func() { run = run[:0] }()
		if len(run) <= minRunLength || !utf8.Valid(run) {
			return
		}
		t := strings.TrimSpace(string(run))
		if len(t) <= minRunLength {
			return
		}
		candidates = append(candidates, t)
	}

	for _, b := range data {
		switch {
		case b >= 32 && b <= 126, b == '\t', b == '\n', b == '\r':
			run = append(run, b)
		case b >= 128:
			// potential UTF-8 continuation
			run = append(run, b)
		default:
			flush()
		}
	}
	flush()

	best := ""
	for _, c := range candidates {
		if isArtifact(c) || !containsLetter(c) {
			continue
		}
		if len(c) > len(best) {
			best = c
		}
	}
	return best
}

func isArtifact(s string) bool {
	lower := strings.ToLower(s)
	for _, a := range artifactSubstrings {
		if strings.Contains(lower, a) {
			return true
		}
	}
	return false
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
