package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"techsheet/internal/learning"
)

// isolate points config and .env lookups at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing-config.yaml"))
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./techsheet.db", cfg.DBPath)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "*/10 * * * *", cfg.SnapshotSchedule)
	assert.Equal(t, 30*time.Second, cfg.PrimaryRetryInterval())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.False(t, cfg.SlackConfigured())

	lc := cfg.LearnerConfig()
	assert.Equal(t, learning.DefaultThresholds(), lc.Thresholds)
	assert.Equal(t, 500, lc.MaxPatternsPerField)
	assert.Equal(t, 16, lc.HiddenSize)
	assert.Equal(t, 250*time.Millisecond, lc.MaxPredictionTime)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := isolate(t)
	cfgPath := filepath.Join(dir, "config.yaml")
	content := `
db_path: "/var/lib/techsheet/local.db"
postgres_url: "postgres://yaml"
snapshot_schedule: ""
log_format: json
learning:
  pattern_learning_threshold: 10
  neural_learning_threshold: 40
  neural_primary_threshold: 80
  similarity_threshold: 0.5
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("POSTGRES_URL", "postgres://env")
	t.Setenv("HIDDEN_SIZE", "24")
	t.Setenv("RECENCY_WEIGHT", "0.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/techsheet/local.db", cfg.DBPath)
	assert.Equal(t, "postgres://env", cfg.PostgresURL)
	assert.Empty(t, cfg.SnapshotSchedule, "explicit empty schedule disables snapshots")
	assert.Equal(t, "json", cfg.LogFormat)

	lc := cfg.LearnerConfig()
	assert.Equal(t, 10, lc.Thresholds.PatternLearning)
	assert.Equal(t, 40, lc.Thresholds.NeuralLearning)
	assert.Equal(t, 80, lc.Thresholds.NeuralPrimary)
	assert.Equal(t, 0.6, lc.Thresholds.HybridMinAccuracy)
	assert.Equal(t, 0.5, lc.SimilarityThreshold)
	assert.Equal(t, 0.5, lc.RecencyWeight)
	assert.Equal(t, 24, lc.HiddenSize)
}

func TestLoadKeepsExplicitZeros(t *testing.T) {
	dir := isolate(t)
	cfgPath := filepath.Join(dir, "config.yaml")
	content := `
learning:
  recency_weight: 0
  similarity_threshold: 0.4
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("MIN_CONFIDENCE", "0")

	cfg, err := Load()
	require.NoError(t, err)

	lc := cfg.LearnerConfig()
	assert.Zero(t, lc.RecencyWeight, "recency decay switched off")
	assert.Zero(t, lc.MinConfidence, "no confidence floor")
	assert.Equal(t, 0.4, lc.SimilarityThreshold)
	assert.Equal(t, 16, lc.HiddenSize, "unset keys keep their defaults")
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	envPath := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("HTTP_ADDR=:9999\nLOG_LEVEL=debug\n"), 0o644))
	t.Setenv("ENV_FILE", envPath)
	t.Setenv("LOG_LEVEL", "warn")
	t.Cleanup(func() { os.Unsetenv("HTTP_ADDR") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, "warn", cfg.LogLevel, "process environment wins over .env")
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"partial slack", map[string]string{"SLACK_BOT_TOKEN": "xoxb-test"}, "must be set together"},
		{"bad int", map[string]string{"HIDDEN_SIZE": "wide"}, "HIDDEN_SIZE"},
		{"bad float", map[string]string{"LEARNING_RATE": "fast"}, "LEARNING_RATE"},
		{"thresholds out of order", map[string]string{"PATTERN_LEARNING_THRESHOLD": "250"}, "learning thresholds"},
		{"probability range", map[string]string{"MIN_CONFIDENCE": "1.5"}, "min_confidence"},
		{"log format", map[string]string{"LOG_FORMAT": "xml"}, "log_format"},
		{"negative hidden size", map[string]string{"HIDDEN_SIZE": "-1"}, "hidden_size"},
		{"zero hidden size", map[string]string{"HIDDEN_SIZE": "0"}, "hidden_size"},
		{"zero epochs", map[string]string{"BOOTSTRAP_EPOCHS": "0"}, "bootstrap_epochs"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	dir := isolate(t)
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("learning: [oops"), 0o644))
	t.Setenv("CONFIG_PATH", cfgPath)

	_, err := Load()
	assert.ErrorContains(t, err, "parse")
}

func TestSlackConfigured(t *testing.T) {
	isolate(t)
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	t.Setenv("SLACK_APP_TOKEN", "xapp-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.SlackConfigured())
}
