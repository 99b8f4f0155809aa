package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{value: "yes", want: true},
		{value: "On", want: true},
		{value: "1", want: true},
		{value: "no", want: false},
		{value: "false", want: false},
		{value: "maybe", want: true},
		{value: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("COMPACT_COUNTER", tt.value)
			assert.Equal(t, tt.want, getEnvAsBool("COMPACT_COUNTER", true))
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("AUTHORITY_URL", "https://auctions.example.com")
	t.Setenv("SEARCH_DEBOUNCE", "300ms")
	t.Setenv("RATE_LIMIT_QPS", "2.5")
	t.Setenv("GATEWAY_AUTH", "")

	config, err := loadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 300*time.Millisecond, config.SearchDebounce)
	assert.Equal(t, 2.5, config.RateLimitQPS)
	assert.Equal(t, "https://auctions.example.com", config.JWTIssuer)
	assert.Equal(t, 5*time.Second, config.RecheckDelay)

	t.Setenv("GATEWAY_AUTH", "yes")
	t.Setenv("JWT_SECRET", "")
	_, err = loadConfigFromEnv()
	assert.Error(t, err)
}

func TestSiteLocation(t *testing.T) {
	config := &Config{SiteTimezone: "+02:00"}
	loc, err := config.siteLocation()
	require.NoError(t, err)
	_, offset := time.Date(2030, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 7200, offset)

	config.SiteTimezone = "-05:30"
	loc, err = config.siteLocation()
	require.NoError(t, err)
	_, offset = time.Date(2030, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, -(5*3600 + 30*60), offset)

	config.SiteTimezone = "UTC"
	loc, err = config.siteLocation()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	config.SiteTimezone = "Mars/Olympus"
	_, err = config.siteLocation()
	assert.Error(t, err)
}

func TestLoadLabels(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "labels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sync_error: "Bitte erneut versuchen"
countdown:
  checking: "Einen Moment bitte"
`), 0o600))

	labels, err := loadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, "Bitte erneut versuchen", labels.SyncError)
	require.NotNil(t, labels.Countdown)
	assert.Equal(t, "Einen Moment bitte", labels.Countdown.Checking)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("countdown:\n  plural: [Jahre]\n"), 0o600))
	_, err = loadLabels(bad)
	assert.Error(t, err)
}

func TestBuildAppConfigMergesLabels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.yaml")
	require.NoError(t, os.WriteFile(path, []byte("countdown:\n  started: \"Los geht's\"\n"), 0o600))

	appConfig, err := buildAppConfig(&Config{
		SiteTimezone:   "+01:00",
		Locale:         "de-AT",
		LabelsFile:     path,
		RecheckDelay:   5 * time.Second,
		RequestTimeout: 15 * time.Second,
		CompactCounter: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Los geht's", appConfig.Countdown.Labels.Started)
	assert.Equal(t, "Sekunden", appConfig.Countdown.Labels.Plural[6])
	assert.True(t, appConfig.Countdown.CompactCounter)
	assert.NotEqual(t, "", appConfig.Listing.ErrorMessage)
}
