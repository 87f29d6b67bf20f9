package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Classifier backends.
const (
	BackendMock = "mock"
	BackendGRPC = "grpc"
)

// Config is the runtime configuration of the detection service.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Detection  DetectionConfig  `yaml:"detection"`
	History    HistoryConfig    `yaml:"history"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Redis      RedisConfig      `yaml:"redis"`
}

// DetectionConfig holds the decision policy.
type DetectionConfig struct {
	Labels        []string `yaml:"labels"`
	AccidentLabel string   `yaml:"accident_label"`
	Threshold     float64  `yaml:"confidence_threshold"`
}

// HistoryConfig sizes the in-memory decision history.
type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// ClassifierConfig selects and tunes the inference backend.
type ClassifierConfig struct {
	Backend   string        `yaml:"backend"`
	Addr      string        `yaml:"addr"`
	Timeout   time.Duration `yaml:"timeout"`
	MockDelay time.Duration `yaml:"mock_delay"`
	MockSeed  uint64        `yaml:"mock_seed"`
}

// RedisConfig configures the optional result cache. An empty Addr disables it.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	ResultTTL time.Duration `yaml:"result_ttl"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		HTTPAddr:        ":8080",
		LogLevel:        "info",
		ShutdownTimeout: 15 * time.Second,
		Detection: DetectionConfig{
			Labels:        []string{"accident", "no_accident"},
			AccidentLabel: "accident",
			Threshold:     0.7,
		},
		History: HistoryConfig{Capacity: 50},
		Classifier: ClassifierConfig{
			Backend:   BackendMock,
			Timeout:   10 * time.Second,
			MockDelay: 100 * time.Millisecond,
			MockSeed:  uint64(time.Now().UnixNano()),
		},
		Redis: RedisConfig{ResultTTL: 5 * time.Minute},
	}
}

// Load reads .env (if present), then the YAML file named by CONFIG_PATH
// (default config.yaml, optional), then environment overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadFile(getEnv("CONFIG_PATH", "config.yaml"))
}

// LoadFile layers the YAML file at path and the environment over Default.
// A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if len(c.Detection.Labels) == 0 {
		return errors.New("detection.labels must not be empty")
	}
	found := false
	for _, label := range c.Detection.Labels {
		if label == c.Detection.AccidentLabel {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("detection.accident_label %q is not listed in detection.labels", c.Detection.AccidentLabel)
	}
	if c.Detection.Threshold < 0 || c.Detection.Threshold > 1 {
		return fmt.Errorf("detection.confidence_threshold %v outside [0,1]", c.Detection.Threshold)
	}
	if c.History.Capacity <= 0 {
		return fmt.Errorf("history.capacity must be positive, got %d", c.History.Capacity)
	}
	switch c.Classifier.Backend {
	case BackendMock:
	case BackendGRPC:
		if c.Classifier.Addr == "" {
			return errors.New("classifier.addr is required for the grpc backend")
		}
	default:
		return fmt.Errorf("unknown classifier.backend %q", c.Classifier.Backend)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	if labels := os.Getenv("CLASS_LABELS"); labels != "" {
		cfg.Detection.Labels = nil
		for _, label := range strings.Split(labels, ",") {
			if label = strings.TrimSpace(label); label != "" {
				cfg.Detection.Labels = append(cfg.Detection.Labels, label)
			}
		}
	}
	envOverride(&cfg.Detection.AccidentLabel, "ACCIDENT_LABEL")
	envOverride(&cfg.Classifier.Backend, "CLASSIFIER_BACKEND")
	envOverride(&cfg.Classifier.Addr, "CLASSIFIER_ADDR")
	envOverride(&cfg.Redis.Addr, "REDIS_ADDR")

	for _, apply := range []func() error{
		func() error { return envOverrideFloat(&cfg.Detection.Threshold, "CONFIDENCE_THRESHOLD") },
		func() error { return envOverrideInt(&cfg.History.Capacity, "HISTORY_CAPACITY") },
		func() error { return envOverrideDuration(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT") },
		func() error { return envOverrideDuration(&cfg.Classifier.Timeout, "CLASSIFIER_TIMEOUT") },
		func() error { return envOverrideDuration(&cfg.Classifier.MockDelay, "MOCK_DELAY") },
		func() error { return envOverrideDuration(&cfg.Redis.ResultTTL, "RESULT_TTL") },
	} {
		if err := apply(); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOverride(dst *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

func envOverrideInt(dst *int, key string) error {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func envOverrideFloat(dst *float64, key string) error {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func envOverrideDuration(dst *time.Duration, key string) error {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}
