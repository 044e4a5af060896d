package decode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"howett.net/plist"
)

// fixedOffsetBlob lays out text the way current archives do: length byte 13
// bytes after the NSString marker, text immediately after.
func fixedOffsetBlob(text string) []byte {
	b := append([]byte{}, archiveHeader...)
	b = append(b, 0x84, 0x01, 0x40) // preamble filler
	b = append(b, stringMarker...)
	b = append(b, bytes.Repeat([]byte{0x01}, fixedTextOffset-1)...)
	b = append(b, byte(len(text)))
	b = append(b, text...)
	return b
}

// delimiterBlob puts the '+' delimiter right after the marker, too close to
// the end for the fixed offset to reach.
func delimiterBlob(text string) []byte {
	b := append([]byte{}, archiveHeader...)
	b = append(b, stringMarker...)
	b = append(b, 0x01, 0x02)
	b = append(b, lengthDelimiter, byte(len(text)))
	b = append(b, text...)
	return b
}

// looseBlob pushes the delimiter beyond the tight scan window; zero filler
// defeats the fixed-offset read.
func looseBlob(text string) []byte {
	b := append([]byte{}, archiveHeader...)
	b = append(b, stringMarker...)
	b = append(b, bytes.Repeat([]byte{0x00}, tightScanWindow+8)...)
	b = append(b, lengthDelimiter, byte(len(text)))
	b = append(b, text...)
	return b
}

func TestExtract_PrimaryTextWins(t *testing.T) {
	d := New()
	res := d.Extract("  Hello  ", []byte{0xde, 0xad, 0xbe, 0xef})
	require.Equal(t, "Hello", res.Text)
	require.Equal(t, StrategyPrimary, res.Strategy)
}

func TestExtract_FixedOffset(t *testing.T) {
	d := New()
	res := d.Extract("", fixedOffsetBlob("Hello"))
	require.Equal(t, "Hello", res.Text)
	require.Equal(t, StrategyArchive, res.Strategy)
}

func TestExtract_DelimiterScan(t *testing.T) {
	d := New()
	res := d.Extract("", delimiterBlob("World"))
	require.Equal(t, "World", res.Text)
	require.Equal(t, StrategyArchive, res.Strategy)
}

func TestExtract_LooseScan(t *testing.T) {
	d := New()
	res := d.Extract("", looseBlob("Hiya!"))
	require.Equal(t, "Hiya!", res.Text)
	require.Equal(t, StrategyArchive, res.Strategy)
}

func TestExtract_ArchiveRejectsZeroLength(t *testing.T) {
	blob := append([]byte{}, archiveHeader...)
	blob = append(blob, stringMarker...)
	blob = append(blob, bytes.Repeat([]byte{0x00}, 64)...)
	require.Empty(t, decodeArchive(blob))
}

func TestExtract_BinaryPlist(t *testing.T) {
	raw, err := plist.Marshal(map[string]any{
		"version":  float64(1),
		"NSString": "Grüße from a plist",
	}, plist.BinaryFormat)
	require.NoError(t, err)

	d := New()
	res := d.Extract("", raw)
	require.Equal(t, "Grüße from a plist", res.Text)
	require.Equal(t, StrategyPlist, res.Strategy)
}

func TestExtract_BinaryPlistNested(t *testing.T) {
	raw, err := plist.Marshal(map[string]any{
		"wrapper": []any{
			map[string]any{"content": "nested hello"},
		},
	}, plist.BinaryFormat)
	require.NoError(t, err)

	d := New()
	res := d.Extract("", raw)
	require.Equal(t, "nested hello", res.Text)
	require.Equal(t, StrategyPlist, res.Strategy)
}

func TestExtract_HeuristicScanFiltersArtifacts(t *testing.T) {
	blob := []byte("NSMutableAttributedString\x00hey this is the real message\x01ab")

	d := New()
	res := d.Extract("", blob)
	require.Equal(t, "hey this is the real message", res.Text)
	require.Equal(t, StrategyScan, res.Strategy)
}

func TestExtract_GarbageReturnsNothing(t *testing.T) {
	d := New()
	res := d.Extract("", []byte{0x00, 0x01, 0x02})
	require.Empty(t, res.Text)
	require.Equal(t, StrategyNone, res.Strategy)
}

func TestExtract_EmptyInputs(t *testing.T) {
	d := New()
	require.Empty(t, d.ExtractText("", nil))
	require.Empty(t, d.ExtractText("   ", nil))
	// Empty-input calls are not counted as failures.
	require.EqualValues(t, 0, d.Stats().Total())
}

func TestStatsCounting(t *testing.T) {
	d := New()
	d.ExtractText("hi", nil)
	d.ExtractText("", fixedOffsetBlob("Hello"))
	d.ExtractText("", []byte{0x00, 0x01, 0x02})

	s := d.Stats()
	require.EqualValues(t, 1, s.PrimaryHits)
	require.EqualValues(t, 1, s.ArchiveHits)
	require.EqualValues(t, 1, s.Failures)
	require.EqualValues(t, 3, s.Total())

	d.ResetStats()
	require.EqualValues(t, 0, d.Stats().Total())
}
