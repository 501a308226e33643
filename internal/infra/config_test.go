package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "API_BASE_URL", "DATA_DIR", "HTTP_TIMEOUT_SECONDS", "POLL_INTERVAL_MS",
		"MAX_POLL_ATTEMPTS", "CATALOG_PROVIDER", "IDENTITY_PROVIDER", "FOTOBUDKA_CONFIG",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:8080" {
		t.Fatalf("APIBaseURL = %q, want http://localhost:8080", cfg.APIBaseURL)
	}
	if cfg.PollInterval != 2500*time.Millisecond {
		t.Fatalf("PollInterval = %s, want 2.5s", cfg.PollInterval)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Fatalf("HTTPTimeout = %s, want 30s", cfg.HTTPTimeout)
	}
	if cfg.MaxPollAttempts != 0 {
		t.Fatalf("MaxPollAttempts = %d, want 0", cfg.MaxPollAttempts)
	}
	if cfg.CatalogProvider != CatalogProviderPrimary {
		t.Fatalf("CatalogProvider = %q, want primary", cfg.CatalogProvider)
	}
	if !filepath.IsAbs(cfg.DataDir) {
		t.Fatalf("DataDir = %q, want absolute path", cfg.DataDir)
	}
	if len(cfg.Catalog.AllowLists["main"]) == 0 {
		t.Fatalf("expected compiled main allow-list")
	}
}

func TestLoadConfigTrimsBaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_BASE_URL", "https://api.example.com/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.APIBaseURL != "https://api.example.com" {
		t.Fatalf("APIBaseURL = %q, want trailing slash trimmed", cfg.APIBaseURL)
	}
}

func TestLoadConfigRejectsUnknownFlags(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "catalog provider", key: "CATALOG_PROVIDER", value: "storekit"},
		{name: "identity provider", key: "IDENTITY_PROVIDER", value: "facebook"},
		{name: "negative attempts", key: "MAX_POLL_ATTEMPTS", value: "-1"},
		{name: "zero interval", key: "POLL_INTERVAL_MS", value: "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)

			cfg, err := LoadConfig()
			require.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestLoadConfigYAMLOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "fotobudka.yaml")
	content := `
catalog_provider: legacy
poll_interval: 1s
max_poll_attempts: 40
catalog:
  allow_lists:
    tokens: ["custom.tokens.10"]
  legacy:
    - name: main
      products: ["legacy.month"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("FOTOBUDKA_CONFIG", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, CatalogProviderLegacy, cfg.CatalogProvider)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 40, cfg.MaxPollAttempts)
	assert.Equal(t, []string{"custom.tokens.10"}, cfg.Catalog.AllowLists["tokens"])
	assert.NotEmpty(t, cfg.Catalog.AllowLists["main"], "groups absent from the overlay keep compiled values")
	require.Len(t, cfg.Catalog.Legacy, 1)
	assert.Equal(t, "legacy.month", cfg.Catalog.Legacy[0].Products[0])
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("catalog: [unclosed"), 0o644))
	t.Setenv("FOTOBUDKA_CONFIG", path)

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}
