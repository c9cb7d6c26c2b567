package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// testDirs points all filesystem paths at a temp directory so Load can
// create them.
func testDirs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return `
server:
  data_dir: ` + dir + `/data
  snapshot_dir: ` + dir + `/snapshots
log:
  file: ` + dir + `/logs/app.log
db:
  file: ` + dir + `/app.db
`
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, testDirs(t))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.InDelta(t, 75.0, cfg.Tracking.ProximityThreshold, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Tracking.SessionTimeout)
	assert.True(t, cfg.Tracking.SnapshotEnabled)
	assert.False(t, cfg.Detector.Enabled)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "cameras/events", cfg.MQTT.EventTopic)
	assert.Equal(t, 30, cfg.Cleanup.RetentionDays)
	assert.True(t, cfg.Notifications.CycleResults)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, testDirs(t)+`
tracking:
  proximity_threshold: 120
  session_timeout: 45s
  snapshot_enabled: false
detector:
  enabled: true
  url: http://detector:5000
  min_confidence: 0.7
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.InDelta(t, 120.0, cfg.Tracking.ProximityThreshold, 1e-9)
	assert.Equal(t, 45*time.Second, cfg.Tracking.SessionTimeout)
	assert.False(t, cfg.Tracking.SnapshotEnabled)
	assert.True(t, cfg.Detector.Enabled)
	assert.Equal(t, "http://detector:5000", cfg.Detector.URL)
	assert.InDelta(t, 0.7, cfg.Detector.MinConfidence, 1e-9)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Tracking: TrackingConfig{ProximityThreshold: 75, SessionTimeout: 30 * time.Second},
		}
	}

	t.Run("valid", func(t *testing.T) {
		cfg := base()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("non-positive threshold", func(t *testing.T) {
		cfg := base()
		cfg.Tracking.ProximityThreshold = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive timeout", func(t *testing.T) {
		cfg := base()
		cfg.Tracking.SessionTimeout = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("detector enabled without URL", func(t *testing.T) {
		cfg := base()
		cfg.Detector.Enabled = true
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadRejectsInvalidThreshold(t *testing.T) {
	path := writeConfig(t, testDirs(t)+`
tracking:
  proximity_threshold: -1
`)

	_, err := Load(path)
	assert.Error(t, err)
}
