package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/auctionsync/go/clients/authority_client"
	"github.com/mcdev12/auctionsync/go/internal/auction/countdown"
	"github.com/mcdev12/auctionsync/go/internal/auction/events"
)

type Config struct {
	AuthorityURL      string
	AjaxPath          string
	FinishAuctionPath string
	PagePath          string
	JWTSecret         string
	JWTIssuer         string
	RequestTimeout    time.Duration
	RateLimitQPS      float64
	RateLimitBurst    int

	CompactCounter bool
	SiteTimezone   string
	Locale         string
	SearchDebounce time.Duration
	RecheckDelay   time.Duration
	LabelsFile     string

	NATSURL           string
	NATSSubjectPrefix string
	NATSStream        string
	NATSJetStream     bool

	GatewayPort   string
	GatewayAuth   bool
	BidFeed       bool
	PublishTicks  bool
	LogLevel      string
	ShutdownGrace time.Duration
}

// Labels is the optional YAML file overriding the localized strings.
type Labels struct {
	Countdown *countdown.Labels `yaml:"countdown"`
	SyncError string            `yaml:"sync_error"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsBool accepts strconv booleans plus the "yes"/"no" the theme's
// settings store.
func getEnvAsBool(key string, defaultValue bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "":
		return defaultValue
	case "yes", "y", "on":
		return true
	case "no", "n", "off":
		return false
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func loadConfigFromEnv() (*Config, error) {
	config := &Config{
		AuthorityURL:      getEnv("AUTHORITY_URL", "http://localhost:8000"),
		AjaxPath:          getEnv("AJAX_PATH", authority_client.DefaultAjaxPath),
		FinishAuctionPath: getEnv("FINISH_AUCTION_PATH", authority_client.DefaultFinishAuctionPath),
		PagePath:          getEnv("PAGE_PATH", authority_client.DefaultPagePath),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTIssuer:         getEnv("JWT_ISSUER", ""),
		RequestTimeout:    getEnvAsDuration("REQUEST_TIMEOUT", 15*time.Second),
		RateLimitQPS:      getEnvAsFloat("RATE_LIMIT_QPS", 0),
		RateLimitBurst:    getEnvAsInt("RATE_LIMIT_BURST", 1),

		CompactCounter: getEnvAsBool("COMPACT_COUNTER", false),
		SiteTimezone:   getEnv("SITE_TIMEZONE", "UTC"),
		Locale:         getEnv("LOCALE", "en"),
		SearchDebounce: getEnvAsDuration("SEARCH_DEBOUNCE", 0),
		RecheckDelay:   getEnvAsDuration("RECHECK_DELAY", 5*time.Second),
		LabelsFile:     getEnv("LABELS_FILE", ""),

		NATSURL:           getEnv("NATS_URL", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", events.DefaultSubjectPrefix),
		NATSStream:        getEnv("NATS_STREAM", events.DefaultStreamName),
		NATSJetStream:     getEnvAsBool("NATS_JETSTREAM", false),

		GatewayPort:   getEnv("GATEWAY_PORT", "8081"),
		GatewayAuth:   getEnvAsBool("GATEWAY_AUTH", false),
		BidFeed:       getEnvAsBool("BID_FEED", false),
		PublishTicks:  getEnvAsBool("PUBLISH_TICKS", false),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		ShutdownGrace: getEnvAsDuration("SHUTDOWN_GRACE", 10*time.Second),
	}

	if config.AuthorityURL == "" {
		return nil, fmt.Errorf("AUTHORITY_URL is required")
	}
	if config.GatewayAuth && config.JWTSecret == "" {
		return nil, fmt.Errorf("GATEWAY_AUTH requires JWT_SECRET")
	}
	if config.JWTIssuer == "" {
		config.JWTIssuer = config.AuthorityURL
	}
	return config, nil
}

// siteLocation resolves SITE_TIMEZONE, accepting IANA names and fixed
// offsets such as "+02:00".
func (c *Config) siteLocation() (*time.Location, error) {
	tz := strings.TrimSpace(c.SiteTimezone)
	if tz == "" {
		return time.UTC, nil
	}
	if strings.HasPrefix(tz, "+") || strings.HasPrefix(tz, "-") {
		t, err := time.Parse("-07:00", tz)
		if err != nil {
			return nil, fmt.Errorf("invalid SITE_TIMEZONE offset %q: %w", tz, err)
		}
		_, offset := t.Zone()
		return time.FixedZone("UTC"+tz, offset), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid SITE_TIMEZONE %q: %w", tz, err)
	}
	return loc, nil
}

func loadLabels(path string) (*Labels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels file: %w", err)
	}

	var labels Labels
	if err := yaml.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("failed to parse labels: %w", err)
	}
	if c := labels.Countdown; c != nil && (len(c.Plural) > 0 || len(c.Singular) > 0 || len(c.Compact) > 0) {
		if err := labels.Countdown.Validate(); err != nil {
			return nil, fmt.Errorf("invalid countdown labels: %w", err)
		}
	}
	return &labels, nil
}
