package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-chat-gateway/config"
	"github.com/upb/llm-chat-gateway/internal/runtimeconfig"
	"github.com/upb/llm-chat-gateway/services"
	"github.com/upb/llm-chat-gateway/services/configsource/appconfig"
	"github.com/upb/llm-chat-gateway/services/credentials"
	"github.com/upb/llm-chat-gateway/services/secrets"
	"go.uber.org/zap/zaptest"
)

const storeDocument = `label: test
entries:
  - key: ChatLLM
    value:
      model_provider: azure_openai
      model: gpt-4o
      temperature: 0.2
      max_completion_tokens: 256
      messages:
        - role: system
          content: You are terse.
  - key: AzureOpenAI:Endpoint
    value: https://example.openai.azure.com/
  - key: AzureOpenAI:ApiKey
    value: test-key
`

const bootstrapDocument = `entries:
  - key: ChatLLM
    value:
      model_provider: openai
      model: gpt-4o-mini
      temperature: 0
      max_completion_tokens: 64
  - key: AzureOpenAI:Endpoint
    value: https://fallback.example.com
  - key: AzureOpenAI:ApiKey
    value: fallback-key
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// testConfig returns a configuration served from a local YAML file.
func testConfig(t *testing.T, path string) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		ConfigStore: config.ConfigStoreConfig{
			Kind:         config.StoreKindFile,
			Path:         path,
			FetchTimeout: time.Second,
		},
		Refresh: config.RefreshConfig{
			Interval:       time.Hour,
			CycleTimeout:   5 * time.Second,
			ResolveTimeout: time.Second,
		},
		Provider: config.ProviderConfig{
			AzureAPIVersion: "2024-10-21",
			OpenAIBaseURL:   "https://api.openai.com/v1",
			Timeout:         5 * time.Second,
		},
		Chat: config.ChatConfig{MaxHistory: 10},
		Observability: config.ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "console",
		},
	}
}

func TestNewDependencies(t *testing.T) {
	t.Run("file store publishes on start", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t, writeFile(t, "config.yaml", storeDocument))

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, deps)

		assert.Nil(t, deps.DB)
		assert.Nil(t, deps.Journal)
		assert.IsType(t, secrets.DisabledResolver{}, deps.Resolver)
		assert.ElementsMatch(t, []string{"azure_openai", "openai"}, deps.Providers.ListProviders())

		_, err = deps.Snapshots.Current()
		assert.ErrorIs(t, err, services.ErrNotYetConfigured)

		require.NoError(t, deps.Start(ctx))

		snap, err := deps.Snapshots.Current()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), snap.Version())
		assert.Equal(t, "gpt-4o", snap.Config().Model)
		assert.Equal(t, "https://example.openai.azure.com", snap.Config().Endpoint)
		assert.Len(t, snap.Messages(), 1)

		status := deps.Refresher.Status()
		assert.Equal(t, uint64(1), status.Successes)

		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("bootstrap served until first publish", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t, filepath.Join(t.TempDir(), "missing.yaml"))
		cfg.ConfigStore.BootstrapFile = writeFile(t, "bootstrap.yaml", bootstrapDocument)

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)

		snap, err := deps.Snapshots.Current()
		require.NoError(t, err)
		assert.Equal(t, uint64(0), snap.Version())
		assert.Equal(t, runtimeconfig.ProviderOpenAI, snap.Config().Provider)
		assert.True(t, deps.Snapshots.IsBootstrap())

		// The store file is missing, so the startup cycle fails and the bootstrap stays.
		require.NoError(t, deps.Start(ctx))
		assert.True(t, deps.Snapshots.IsBootstrap())
		assert.Equal(t, uint64(1), deps.Refresher.Status().Failures)

		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("invalid bootstrap fails construction", func(t *testing.T) {
		cfg := testConfig(t, writeFile(t, "config.yaml", storeDocument))
		cfg.ConfigStore.BootstrapFile = writeFile(t, "bootstrap.yaml", "entries: []\n")

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "bootstrap")
	})

	t.Run("unsupported store kind", func(t *testing.T) {
		cfg := testConfig(t, "")
		cfg.ConfigStore.Kind = "etcd"

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "unsupported config store kind")
	})

	t.Run("key vault resolver when enabled", func(t *testing.T) {
		cfg := testConfig(t, writeFile(t, "config.yaml", storeDocument))
		cfg.Vault = config.VaultConfig{
			Enabled:         true,
			Timeout:         time.Second,
			CacheTTL:        time.Minute,
			CacheMaxEntries: 8,
		}
		cfg.Identity.StaticToken = "token"

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.IsType(t, &secrets.KeyVaultResolver{}, deps.Resolver)
		assert.Equal(t, credentials.StaticToken("token"), deps.Tokens)
		assert.NoError(t, deps.Close(context.Background()))
	})

	t.Run("no azure credential for local stores", func(t *testing.T) {
		cfg := testConfig(t, writeFile(t, "config.yaml", storeDocument))

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Nil(t, deps.Tokens)
		assert.IsType(t, secrets.DisabledResolver{}, deps.Resolver)
		assert.NoError(t, deps.Close(context.Background()))
	})

	t.Run("app configuration store", func(t *testing.T) {
		cfg := testConfig(t, "")
		cfg.ConfigStore.Kind = config.StoreKindAppConfig
		cfg.ConfigStore.Endpoint = "https://gateway.azconfig.io"
		cfg.Identity.StaticToken = "token"

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.IsType(t, &appconfig.Source{}, deps.Source)
		assert.NoError(t, deps.Close(context.Background()))
	})
}

func TestRefresherConfig(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Refresh.MaxConsecutiveFailures = 3
	cfg.Refresh.SecretReuseTTL = time.Minute

	rc := refresherConfig(cfg)
	assert.Equal(t, time.Hour, rc.Interval)
	assert.Equal(t, 5*time.Second, rc.CycleTimeout)
	assert.Equal(t, time.Second, rc.FetchTimeout)
	assert.Equal(t, time.Minute, rc.SecretReuseTTL)
	assert.Equal(t, 3, rc.MaxConsecutiveFailures)
	assert.NoError(t, rc.Validate())
}

func TestRefreshOnce(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, writeFile(t, "config.yaml", storeDocument))

	deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = deps.Close(ctx) }()

	snap, err := deps.RefreshOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Version())

	current, err := deps.Snapshots.Current()
	require.NoError(t, err)
	assert.Same(t, snap, current)
}
