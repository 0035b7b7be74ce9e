// Package config handles loading and validation of service configuration.
// Supports both development (env vars, optional .env file) and production
// (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a setting is absent.
const (
	DefaultPort            = "8080"
	DefaultAjaxURL         = "/?wc-ajax=%%endpoint%%"
	DefaultCartHashKey     = "wc_cart_hash"
	DefaultFragmentName    = "wc_fragments"
	DefaultActivityWindow  = 10 * time.Second
	DefaultLookupTimeout   = 10 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultSessionTTL      = 30 * time.Minute
	DefaultRefreshInterval = 30 * time.Second

	endpointPlaceholder = "%%endpoint%%"
)

// Config holds all service configuration.
// Environment determines whether the store config loads from env vars
// (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	StoreID    string

	// Store-specific configuration
	Store StoreConfig
}

// StoreConfig describes the storefront the bridge drives.
// In production, this is loaded from Secret Manager as JSON.
type StoreConfig struct {
	StoreURL    string `json:"store_url" yaml:"store_url"`
	StoreDomain string `json:"store_domain,omitempty" yaml:"store_domain,omitempty"` // Derived from StoreURL if not set
	AjaxURL     string `json:"ajax_url,omitempty" yaml:"ajax_url,omitempty"`

	ActivityWindow  Duration `json:"activity_window,omitempty" yaml:"activity_window,omitempty"`
	LookupTimeout   Duration `json:"lookup_timeout,omitempty" yaml:"lookup_timeout,omitempty"`
	RequestTimeout  Duration `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	SessionTTL      Duration `json:"session_ttl,omitempty" yaml:"session_ttl,omitempty"`
	RefreshInterval Duration `json:"refresh_interval,omitempty" yaml:"refresh_interval,omitempty"`

	CartHashKey  string `json:"cart_hash_key,omitempty" yaml:"cart_hash_key,omitempty"`
	FragmentName string `json:"fragment_name,omitempty" yaml:"fragment_name,omitempty"`

	// Fingerprint sends store traffic through the Chrome TLS transport.
	Fingerprint *bool `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
}

// Duration is a time.Duration that decodes from "30s"-style strings or a
// number of seconds.
type Duration time.Duration

// UnmarshalJSON accepts "10s", "1m30s" or 10.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := parseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds")
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// UnmarshalYAML accepts the same forms as UnmarshalJSON.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	v, err := parseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// parseDuration reads "10s"-style values; a bare integer means seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// In development a .env file (ENV_FILE, default ".env") is read first when it
// exists. Validates all required fields and returns an error if any are
// missing.
func Load(ctx context.Context) (*Config, error) {
	if os.Getenv("ENVIRONMENT") != "production" {
		if err := loadDotEnv(envOrDefault("ENV_FILE", ".env")); err != nil {
			return nil, err
		}
	}

	// If CONFIG_FILE is set, load everything from the JSON file
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", DefaultPort),
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		StoreID:     os.Getenv("STORE_ID"),
	}

	// Load store config based on environment
	var err error
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if cfg.StoreID == "" {
			return nil, fmt.Errorf("STORE_ID required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		err = cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading store config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv sets variables from a .env file without overriding the real
// environment. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

// loadFromFile reads all configuration from a JSON file, or YAML when the
// path ends in .yaml or .yml.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig struct {
		Port        string      `json:"port" yaml:"port"`
		Environment string      `json:"environment" yaml:"environment"`
		LogLevel    string      `json:"log_level" yaml:"log_level"`
		StoreID     string      `json:"store_id" yaml:"store_id"`
		Store       StoreConfig `json:"store" yaml:"store"`
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fileConfig)
	default:
		err = json.Unmarshal(data, &fileConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:        withDefault(fileConfig.Port, DefaultPort),
		Environment: withDefault(fileConfig.Environment, "development"),
		LogLevel:    withDefault(fileConfig.LogLevel, "info"),
		StoreID:     fileConfig.StoreID,
		Store:       fileConfig.Store,
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches the store config from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{store_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.StoreID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Store); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}

	return nil
}

// loadFromEnv reads the store config from individual environment variables.
func (c *Config) loadFromEnv() error {
	c.Store = StoreConfig{
		StoreURL:     os.Getenv("STORE_URL"),
		StoreDomain:  os.Getenv("STORE_DOMAIN"),
		AjaxURL:      os.Getenv("STORE_AJAX_URL"),
		CartHashKey:  os.Getenv("CART_HASH_KEY"),
		FragmentName: os.Getenv("FRAGMENT_NAME"),
	}

	durations := []struct {
		env string
		dst *Duration
	}{
		{"ACTIVITY_WINDOW", &c.Store.ActivityWindow},
		{"LOOKUP_TIMEOUT", &c.Store.LookupTimeout},
		{"REQUEST_TIMEOUT", &c.Store.RequestTimeout},
		{"SESSION_TTL", &c.Store.SessionTTL},
		{"REFRESH_INTERVAL", &c.Store.RefreshInterval},
	}
	for _, d := range durations {
		v, err := parseDuration(os.Getenv(d.env))
		if err != nil {
			return fmt.Errorf("parsing %s: %w", d.env, err)
		}
		*d.dst = Duration(v)
	}

	if raw := os.Getenv("FINGERPRINT"); raw != "" {
		on, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("parsing FINGERPRINT: %w", err)
		}
		c.Store.Fingerprint = &on
	}
	return nil
}

// applyDefaults fills unset store settings.
func (c *Config) applyDefaults() {
	s := &c.Store
	if s.StoreDomain == "" && s.StoreURL != "" {
		s.StoreDomain = extractDomain(s.StoreURL)
	}
	s.AjaxURL = withDefault(s.AjaxURL, DefaultAjaxURL)
	s.CartHashKey = withDefault(s.CartHashKey, DefaultCartHashKey)
	s.FragmentName = withDefault(s.FragmentName, DefaultFragmentName)

	for _, d := range []struct {
		dst *Duration
		def time.Duration
	}{
		{&s.ActivityWindow, DefaultActivityWindow},
		{&s.LookupTimeout, DefaultLookupTimeout},
		{&s.RequestTimeout, DefaultRequestTimeout},
		{&s.SessionTTL, DefaultSessionTTL},
		{&s.RefreshInterval, DefaultRefreshInterval},
	} {
		if *d.dst == 0 {
			*d.dst = Duration(d.def)
		}
	}
	if s.Fingerprint == nil {
		on := true
		s.Fingerprint = &on
	}
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	s := c.Store
	if s.StoreURL == "" {
		return fmt.Errorf("store_url is required")
	}
	u, err := url.Parse(s.StoreURL)
	if err != nil {
		return fmt.Errorf("invalid store_url: %w", err)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid store_url %q: need an http(s) URL with a host", s.StoreURL)
	}
	if !strings.Contains(s.AjaxURL, endpointPlaceholder) {
		return fmt.Errorf("ajax_url %q must contain %s", s.AjaxURL, endpointPlaceholder)
	}

	for name, d := range map[string]Duration{
		"activity_window":  s.ActivityWindow,
		"lookup_timeout":   s.LookupTimeout,
		"request_timeout":  s.RequestTimeout,
		"session_ttl":      s.SessionTTL,
		"refresh_interval": s.RefreshInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// Fingerprinting reports whether the Chrome TLS transport is enabled.
func (s StoreConfig) Fingerprinting() bool {
	return s.Fingerprint == nil || *s.Fingerprint
}

// extractDomain parses the domain from a URL string.
func extractDomain(storeURL string) string {
	u, err := url.Parse(storeURL)
	if err != nil {
		// Fallback: strip protocol prefix manually
		domain := strings.TrimPrefix(storeURL, "https://")
		domain = strings.TrimPrefix(domain, "http://")
		return strings.Split(domain, "/")[0]
	}
	return u.Host
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
