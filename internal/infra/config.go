package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Catalog provider flag values.
const (
	CatalogProviderPrimary = "primary"
	CatalogProviderLegacy  = "legacy"
)

// Identity provider flag values.
const (
	IdentityProviderInstall = "install"
	IdentityProviderProfile = "profile"
)

// Config represents client and dev backend configuration loaded from environment variables,
// optionally overlaid by a YAML file named in FOTOBUDKA_CONFIG.
type Config struct {
	AppEnv           string
	APIBaseURL       string
	DataDir          string
	HTTPTimeout      time.Duration
	PollInterval     time.Duration
	MaxPollAttempts  int
	CatalogProvider  string
	IdentityProvider string
	ProfilePath      string
	MetricsAddr      string

	DevPort               string
	DevJWTSecret          string
	DevPollsBeforeDone    int
	DevRateLimitPerSecond int

	Catalog CatalogConfig
}

// CatalogConfig carries the allow-lists and the legacy catalog. Both normally ship with the
// build; the YAML overlay exists so they can change without a rebuild.
type CatalogConfig struct {
	AllowLists map[string][]string `yaml:"allow_lists"`
	Legacy     []LegacyPaywall     `yaml:"legacy"`
}

// LegacyPaywall is one paywall of the legacy catalog as written in YAML.
type LegacyPaywall struct {
	Name     string   `yaml:"name"`
	Products []string `yaml:"products"`
}

type fileConfig struct {
	APIBaseURL       string        `yaml:"api_base_url"`
	DataDir          string        `yaml:"data_dir"`
	CatalogProvider  string        `yaml:"catalog_provider"`
	IdentityProvider string        `yaml:"identity_provider"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	MaxPollAttempts  *int          `yaml:"max_poll_attempts"`
	Catalog          CatalogConfig `yaml:"catalog"`
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:                getEnv("APP_ENV", "development"),
		APIBaseURL:            getEnv("API_BASE_URL", "http://localhost:8080"),
		DataDir:               getEnv("DATA_DIR", "./data"),
		HTTPTimeout:           time.Second * time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 30)),
		PollInterval:          time.Millisecond * time.Duration(getEnvInt("POLL_INTERVAL_MS", 2500)),
		MaxPollAttempts:       getEnvInt("MAX_POLL_ATTEMPTS", 0),
		CatalogProvider:       strings.ToLower(getEnv("CATALOG_PROVIDER", CatalogProviderPrimary)),
		IdentityProvider:      strings.ToLower(getEnv("IDENTITY_PROVIDER", IdentityProviderInstall)),
		ProfilePath:           os.Getenv("PROFILE_PATH"),
		MetricsAddr:           os.Getenv("METRICS_ADDR"),
		DevPort:               getEnv("DEV_PORT", "8080"),
		DevJWTSecret:          getEnv("DEV_JWT_SECRET", "dev-secret"),
		DevPollsBeforeDone:    getEnvInt("DEV_POLLS_BEFORE_DONE", 2),
		DevRateLimitPerSecond: getEnvInt("DEV_RATE_LIMIT_PER_SECOND", 20),
		Catalog:               DefaultCatalogConfig(),
	}

	if path := strings.TrimSpace(os.Getenv("FOTOBUDKA_CONFIG")); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}
	if cfg.MaxPollAttempts < 0 {
		return nil, fmt.Errorf("MAX_POLL_ATTEMPTS must not be negative")
	}
	switch cfg.CatalogProvider {
	case CatalogProviderPrimary, CatalogProviderLegacy:
	default:
		return nil, fmt.Errorf("CATALOG_PROVIDER %q is not supported", cfg.CatalogProvider)
	}
	switch cfg.IdentityProvider {
	case IdentityProviderInstall, IdentityProviderProfile:
	default:
		return nil, fmt.Errorf("IDENTITY_PROVIDER %q is not supported", cfg.IdentityProvider)
	}
	if !filepath.IsAbs(cfg.DataDir) {
		if abs, err := filepath.Abs(cfg.DataDir); err == nil {
			cfg.DataDir = abs
		}
	}

	return cfg, nil
}

// overlayFile applies the non-zero values of a YAML config file on top of cfg.
func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if fc.APIBaseURL != "" {
		c.APIBaseURL = fc.APIBaseURL
	}
	if fc.DataDir != "" {
		c.DataDir = fc.DataDir
	}
	if fc.CatalogProvider != "" {
		c.CatalogProvider = strings.ToLower(fc.CatalogProvider)
	}
	if fc.IdentityProvider != "" {
		c.IdentityProvider = strings.ToLower(fc.IdentityProvider)
	}
	if fc.PollInterval > 0 {
		c.PollInterval = fc.PollInterval
	}
	if fc.MaxPollAttempts != nil {
		c.MaxPollAttempts = *fc.MaxPollAttempts
	}
	for group, ids := range fc.Catalog.AllowLists {
		c.Catalog.AllowLists[group] = ids
	}
	if len(fc.Catalog.Legacy) > 0 {
		c.Catalog.Legacy = fc.Catalog.Legacy
	}
	return nil
}

// DefaultCatalogConfig returns the allow-lists and legacy catalog compiled into the client.
func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{
		AllowLists: map[string][]string{
			"main": {
				"fotobudka.week.premium",
				"fotobudka.month.premium",
				"fotobudka.year.premium",
			},
			"tokens": {
				"fotobudka.tokens.100",
				"fotobudka.tokens.500",
				"fotobudka.tokens.1000",
			},
			"avatars": {
				"fotobudka.avatars.pack",
			},
		},
		Legacy: []LegacyPaywall{
			{Name: "main", Products: []string{"fotobudka.week.premium", "fotobudka.year.premium"}},
			{Name: "tokens", Products: []string{"fotobudka.tokens.100", "fotobudka.tokens.500"}},
			{Name: "avatars", Products: []string{"fotobudka.avatars.pack"}},
		},
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
