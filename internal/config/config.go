package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
)

// SourceConfig holds one vendor's credential, entity list, and the default
// lower bound used when a checkpoint does not exist yet. Each vendor's feed
// begins at a different real-world date, so the defaults differ per source.
type SourceConfig struct {
	APIKey   string
	Entities []domain.Entity
	Start    time.Time
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabaseURL string
	Sources     []string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// RunInterval of zero means one ingestion cycle and exit.
	RunInterval time.Duration

	FetchTimeout       time.Duration
	BackoffBaseDelay   time.Duration
	BackoffMaxAttempts int

	// Kafka publishing is optional; brokers and topic come together.
	KafkaBrokers []string
	KafkaTopic   string

	PurpleAir SourceConfig
	Clarity   SourceConfig
	AirNow    SourceConfig
	QuantAQ   SourceConfig

	ClarityPollInterval time.Duration
	ClarityPollAttempts int
}

// Load reads configuration from environment variables (optionally .env),
// applying defaults where unset.
func Load() (*Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Sources:     splitList(envOrDefault("SOURCES", strings.Join(domain.Sources(), ","))),
		HTTPAddr:    envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		LogFormat:   envOrDefault("LOG_FORMAT", "json"),
		KafkaTopic:  os.Getenv("KAFKA_TOPIC"),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}

	var err error
	if cfg.ShutdownTimeout, err = durationEnv("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RunInterval, err = durationEnv("RUN_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = durationEnv("FETCH_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.BackoffBaseDelay, err = durationEnv("BACKOFF_BASE_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.BackoffMaxAttempts, err = intEnv("BACKOFF_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.ClarityPollInterval, err = durationEnv("CLARITY_POLL_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ClarityPollAttempts, err = intEnv("CLARITY_POLL_ATTEMPTS", 30); err != nil {
		return nil, err
	}

	if cfg.PurpleAir, err = sourceEnv("PURPLEAIR_API_KEY", "PURPLEAIR_SENSORS", "PURPLEAIR_START", "2023-01-01"); err != nil {
		return nil, err
	}
	if cfg.Clarity, err = sourceEnv("CLARITY_API_KEY", "CLARITY_NODES", "CLARITY_START", "2022-06-01"); err != nil {
		return nil, err
	}
	if cfg.AirNow, err = sourceEnv("", "AIRNOW_SITES", "AIRNOW_START", "2022-01-01"); err != nil {
		return nil, err
	}
	if cfg.QuantAQ, err = sourceEnv("QUANTAQ_API_KEY", "QUANTAQ_DEVICES", "QUANTAQ_START", "2023-06-01"); err != nil {
		return nil, err
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if len(c.Sources) == 0 {
		return errors.New("SOURCES must name at least one source")
	}

	known := make(map[string]bool, len(domain.Sources()))
	for _, s := range domain.Sources() {
		known[s] = true
	}
	for _, s := range c.Sources {
		if !known[s] {
			return fmt.Errorf("unknown source %q in SOURCES", s)
		}
	}

	if (len(c.KafkaBrokers) == 0) != (c.KafkaTopic == "") {
		return errors.New("KAFKA_BROKERS and KAFKA_TOPIC must be set together")
	}

	if c.BackoffMaxAttempts <= 0 {
		return errors.New("BACKOFF_MAX_ATTEMPTS must be positive")
	}
	if c.BackoffBaseDelay <= 0 {
		return errors.New("BACKOFF_BASE_DELAY must be positive")
	}

	for _, s := range c.Sources {
		src := c.sourceConfig(s)
		if len(src.Entities) == 0 {
			return fmt.Errorf("source %s is enabled but has no entities configured", s)
		}
		if src.APIKey == "" && s != domain.SourceAirNow {
			return fmt.Errorf("source %s is enabled but has no API key", s)
		}
	}
	return nil
}

func (c *Config) sourceConfig(source string) SourceConfig {
	switch source {
	case domain.SourcePurpleAir:
		return c.PurpleAir
	case domain.SourceClarity:
		return c.Clarity
	case domain.SourceAirNow:
		return c.AirNow
	case domain.SourceQuantAQ:
		return c.QuantAQ
	}
	return SourceConfig{}
}

// Enabled reports whether source is named in SOURCES.
func (c *Config) Enabled(source string) bool {
	for _, s := range c.Sources {
		if s == source {
			return true
		}
	}
	return false
}

func sourceEnv(keyVar, entitiesVar, startVar, defaultStart string) (SourceConfig, error) {
	entities, err := parseEntities(os.Getenv(entitiesVar))
	if err != nil {
		return SourceConfig{}, fmt.Errorf("invalid %s: %w", entitiesVar, err)
	}

	start, err := time.ParseInLocation("2006-01-02", envOrDefault(startVar, defaultStart), time.UTC)
	if err != nil {
		return SourceConfig{}, fmt.Errorf("invalid %s: %w", startVar, err)
	}

	cfg := SourceConfig{Entities: entities, Start: start}
	if keyVar != "" {
		cfg.APIKey = os.Getenv(keyVar)
	}
	return cfg, nil
}

// parseEntities reads an "id:lat:lon" list, comma-separated. Coordinates are
// fixed and known a priori; they are configuration, not fetched data.
func parseEntities(s string) ([]domain.Entity, error) {
	if s == "" {
		return nil, nil
	}

	var entities []domain.Entity
	for _, part := range splitList(s) {
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("entity %q is not id:lat:lon", part)
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("entity %q has a bad latitude: %w", part, err)
		}
		lon, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("entity %q has a bad longitude: %w", part, err)
		}
		entities = append(entities, domain.Entity{ID: fields[0], Lat: lat, Lon: lon})
	}
	return entities, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return n, nil
}
