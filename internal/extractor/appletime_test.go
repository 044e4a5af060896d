package extractor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppleTimeToRFC3339(t *testing.T) {
	// 2024-01-01 00:00:00 UTC is 725760000s after the 2001 epoch.
	ns := int64(725760000) * 1e9
	got, err := time.Parse(time.RFC3339, appleTimeToRFC3339(ns))
	require.NoError(t, err)
	require.True(t, got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestAppleTimeToRFC3339_SubSecond(t *testing.T) {
	ns := int64(725760000)*1e9 + 500_000_000
	got, err := time.Parse(time.RFC3339, appleTimeToRFC3339(ns))
	require.NoError(t, err)
	// RFC 3339 output is truncated to seconds.
	require.True(t, got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestAppleTimeToRFC3339_NonPositiveFallsBack(t *testing.T) {
	before := time.Now().Add(-time.Minute)
	got, err := time.Parse(time.RFC3339, appleTimeToRFC3339(0))
	require.NoError(t, err)
	require.True(t, got.After(before))
}
