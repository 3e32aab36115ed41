package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"techsheet/internal/learning"
)

const (
	defaultDBPath              = "./techsheet.db"
	defaultHTTPAddr            = ":8080"
	defaultSnapshotSchedule    = "*/10 * * * *"
	defaultPrimaryRetrySeconds = 30
	defaultMaxPredictionMS     = 250
)

type Config struct {
	SlackBotToken string `yaml:"slack_bot_token"`
	SlackAppToken string `yaml:"slack_app_token"`

	DBPath              string `yaml:"db_path"`
	PostgresURL         string `yaml:"postgres_url"`
	PrimaryRetrySeconds int    `yaml:"primary_retry_seconds"`
	RulesPath           string `yaml:"rules_path"`
	HTTPAddr            string `yaml:"http_addr"`
	SnapshotSchedule    string `yaml:"snapshot_schedule"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Learning LearningConfig `yaml:"learning"`
}

type LearningConfig struct {
	PatternLearningThreshold int     `yaml:"pattern_learning_threshold"`
	NeuralLearningThreshold  int     `yaml:"neural_learning_threshold"`
	NeuralPrimaryThreshold   int     `yaml:"neural_primary_threshold"`
	HybridMinAccuracy        float64 `yaml:"hybrid_min_accuracy"`
	NeuralPrimaryMinAccuracy float64 `yaml:"neural_primary_min_accuracy"`
	SimilarityThreshold      float64 `yaml:"similarity_threshold"`
	RecencyWeight            float64 `yaml:"recency_weight"`
	MinConfidence            float64 `yaml:"min_confidence"`
	MaxPatternsPerField      int     `yaml:"max_patterns_per_field"`
	HiddenSize               int     `yaml:"hidden_size"`
	LearningRate             float64 `yaml:"learning_rate"`
	BootstrapEpochs          int     `yaml:"bootstrap_epochs"`
	MaxPredictionMS          int     `yaml:"max_prediction_ms"`
}

// Load reads config.yaml (or CONFIG_PATH), then .env, then environment
// overrides, fills defaults and validates the result.
func Load() (Config, error) {
	// Seeded before parsing so explicit zeros and an explicit empty
	// snapshot_schedule survive.
	cfg := Config{
		SnapshotSchedule: defaultSnapshotSchedule,
		Learning:         defaultLearning(),
	}

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", configPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read %s: %w", configPath, err)
	}

	envPath := ".env"
	if p := os.Getenv("ENV_FILE"); p != "" {
		envPath = p
	}
	// godotenv never overwrites variables already set in the process.
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envPath, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	l := &cfg.Learning
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideAllowEmpty(&cfg.PostgresURL, "POSTGRES_URL")
	envOverrideAllowEmpty(&cfg.RulesPath, "RULES_PATH")
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverrideAllowEmpty(&cfg.SnapshotSchedule, "SNAPSHOT_SCHEDULE")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LogFormat, "LOG_FORMAT")

	ints := []struct {
		field *int
		key   string
	}{
		{&cfg.PrimaryRetrySeconds, "PRIMARY_RETRY_SECONDS"},
		{&l.PatternLearningThreshold, "PATTERN_LEARNING_THRESHOLD"},
		{&l.NeuralLearningThreshold, "NEURAL_LEARNING_THRESHOLD"},
		{&l.NeuralPrimaryThreshold, "NEURAL_PRIMARY_THRESHOLD"},
		{&l.MaxPatternsPerField, "MAX_PATTERNS_PER_FIELD"},
		{&l.HiddenSize, "HIDDEN_SIZE"},
		{&l.BootstrapEpochs, "BOOTSTRAP_EPOCHS"},
		{&l.MaxPredictionMS, "MAX_PREDICTION_MS"},
	}
	for _, o := range ints {
		if err := envOverrideInt(o.field, o.key); err != nil {
			return err
		}
	}
	floats := []struct {
		field *float64
		key   string
	}{
		{&l.HybridMinAccuracy, "HYBRID_MIN_ACCURACY"},
		{&l.NeuralPrimaryMinAccuracy, "NEURAL_PRIMARY_MIN_ACCURACY"},
		{&l.SimilarityThreshold, "SIMILARITY_THRESHOLD"},
		{&l.RecencyWeight, "RECENCY_WEIGHT"},
		{&l.MinConfidence, "MIN_CONFIDENCE"},
		{&l.LearningRate, "LEARNING_RATE"},
	}
	for _, o := range floats {
		if err := envOverrideFloat(o.field, o.key); err != nil {
			return err
		}
	}
	return nil
}

func defaultLearning() LearningConfig {
	def := learning.DefaultConfig()
	return LearningConfig{
		PatternLearningThreshold: def.Thresholds.PatternLearning,
		NeuralLearningThreshold:  def.Thresholds.NeuralLearning,
		NeuralPrimaryThreshold:   def.Thresholds.NeuralPrimary,
		HybridMinAccuracy:        def.Thresholds.HybridMinAccuracy,
		NeuralPrimaryMinAccuracy: def.Thresholds.NeuralPrimaryMinAccuracy,
		SimilarityThreshold:      def.SimilarityThreshold,
		RecencyWeight:            def.RecencyWeight,
		MinConfidence:            def.MinConfidence,
		MaxPatternsPerField:      def.MaxPatternsPerField,
		HiddenSize:               def.HiddenSize,
		LearningRate:             def.LearningRate,
		BootstrapEpochs:          def.BootstrapEpochs,
		MaxPredictionMS:          defaultMaxPredictionMS,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if cfg.PrimaryRetrySeconds == 0 {
		cfg.PrimaryRetrySeconds = defaultPrimaryRetrySeconds
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	l := c.Learning
	if (c.SlackBotToken == "") != (c.SlackAppToken == "") {
		return errors.New("slack_bot_token and slack_app_token must be set together")
	}
	if c.PrimaryRetrySeconds < 1 {
		return fmt.Errorf("invalid primary_retry_seconds '%d': must be >= 1", c.PrimaryRetrySeconds)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be 'console' or 'json', got '%s'", c.LogFormat)
	}
	if _, err := learning.NewPhaseTable(c.LearnerConfig().Thresholds); err != nil {
		return fmt.Errorf("learning thresholds: %w", err)
	}
	probabilities := map[string]float64{
		"hybrid_min_accuracy":         l.HybridMinAccuracy,
		"neural_primary_min_accuracy": l.NeuralPrimaryMinAccuracy,
		"similarity_threshold":        l.SimilarityThreshold,
		"recency_weight":              l.RecencyWeight,
		"min_confidence":              l.MinConfidence,
	}
	for name, v := range probabilities {
		if v < 0 || v > 1 {
			return fmt.Errorf("invalid %s '%f': must be between 0 and 1", name, v)
		}
	}
	if l.HiddenSize < 1 {
		return fmt.Errorf("invalid hidden_size '%d': must be >= 1", l.HiddenSize)
	}
	if l.MaxPatternsPerField < 1 {
		return fmt.Errorf("invalid max_patterns_per_field '%d': must be >= 1", l.MaxPatternsPerField)
	}
	if l.LearningRate <= 0 {
		return fmt.Errorf("invalid learning_rate '%f': must be > 0", l.LearningRate)
	}
	if l.BootstrapEpochs < 1 {
		return fmt.Errorf("invalid bootstrap_epochs '%d': must be >= 1", l.BootstrapEpochs)
	}
	if l.MaxPredictionMS < 0 {
		return fmt.Errorf("invalid max_prediction_ms '%d': must be >= 0", l.MaxPredictionMS)
	}
	return nil
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

func (c Config) PrimaryRetryInterval() time.Duration {
	return time.Duration(c.PrimaryRetrySeconds) * time.Second
}

// LearnerConfig converts the file settings into the coordinator's config.
func (c Config) LearnerConfig() learning.Config {
	l := c.Learning
	cfg := learning.DefaultConfig()
	cfg.Thresholds = learning.Thresholds{
		PatternLearning:          l.PatternLearningThreshold,
		NeuralLearning:           l.NeuralLearningThreshold,
		NeuralPrimary:            l.NeuralPrimaryThreshold,
		HybridMinAccuracy:        l.HybridMinAccuracy,
		NeuralPrimaryMinAccuracy: l.NeuralPrimaryMinAccuracy,
	}
	cfg.SimilarityThreshold = l.SimilarityThreshold
	cfg.RecencyWeight = l.RecencyWeight
	cfg.MinConfidence = l.MinConfidence
	cfg.MaxPatternsPerField = l.MaxPatternsPerField
	cfg.HiddenSize = l.HiddenSize
	cfg.LearningRate = l.LearningRate
	cfg.BootstrapEpochs = l.BootstrapEpochs
	cfg.MaxPredictionTime = time.Duration(l.MaxPredictionMS) * time.Millisecond
	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}
