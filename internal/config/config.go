package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// DMC API access. The base URL is normally left empty to select the
	// public endpoint; tests and mirrors override it.
	DMCBaseURL string
	DMCUser    string
	DMCToken   string

	// Optional downstream row feed.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Fetch bounds applied to every run.
	FetchRounds      int
	FetchConcurrency int
	FetchTimeout     time.Duration
}

// Load reads configuration from OBSGRID_* environment variables, applying
// defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parsePositiveDuration("OBSGRID_SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parsePositiveDuration("OBSGRID_FETCH_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	fetchRounds, err := parseBoundedInt("OBSGRID_FETCH_ROUNDS", 5, 1, 100)
	if err != nil {
		return nil, err
	}
	fetchConcurrency, err := parseBoundedInt("OBSGRID_FETCH_CONCURRENCY", 16, 1, 1024)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DMCBaseURL: os.Getenv("OBSGRID_DMC_BASE_URL"),
		DMCUser:    os.Getenv("OBSGRID_DMC_USER"),
		DMCToken:   os.Getenv("OBSGRID_DMC_TOKEN"),

		KafkaEnabled: os.Getenv("OBSGRID_KAFKA_ENABLED") == "true",
		KafkaBrokers: parseBrokers(envOrDefault("OBSGRID_KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   envOrDefault("OBSGRID_KAFKA_TOPIC", "obsgrid-observations"),

		HTTPAddr:        envOrDefault("OBSGRID_HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("OBSGRID_LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("OBSGRID_LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		FetchRounds:      fetchRounds,
		FetchConcurrency: fetchConcurrency,
		FetchTimeout:     fetchTimeout,
	}

	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("OBSGRID_KAFKA_ENABLED is true but OBSGRID_KAFKA_BROKERS is empty")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("OBSGRID_KAFKA_ENABLED is true but OBSGRID_KAFKA_TOPIC is empty")
		}
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: want a positive duration", key)
	}
	return d, nil
}

func parseBoundedInt(key string, def, low, high int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < low || n > high {
		return 0, fmt.Errorf("invalid %s: want an integer in [%d, %d]", key, low, high)
	}
	return n, nil
}
