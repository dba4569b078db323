package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvKeys = []string{
	"ENVIRONMENT", "PORT", "SERVER_PORT", "SERVER_HOST", "SERVER_READ_TIMEOUT", "SERVER_WRITE_TIMEOUT",
	"CORS_ALLOWED_ORIGINS", "TLS_ENABLED", "ADMIN_TOKEN",
	"CONFIG_STORE_KIND", "CONFIG_STORE_LABEL", "CONFIG_STORE_FETCH_TIMEOUT", "APP_CONFIG_ENDPOINT",
	"CONFIG_S3_BUCKET", "CONFIG_S3_PREFIX", "CONFIG_S3_ENDPOINT", "AWS_REGION",
	"CONFIG_MAP_NAMESPACE", "CONFIG_MAP_NAME", "CONFIG_FILE", "CONFIG_BOOTSTRAP_FILE",
	"KEY_VAULT_ENABLED", "KEY_VAULT_CACHE_TTL",
	"REFRESH_INTERVAL", "REFRESH_MAX_CONSECUTIVE_FAILURES",
	"AZURE_TENANT_ID", "AZURE_CLIENT_ID", "AZURE_CLIENT_SECRET", "AZURE_ACCESS_TOKEN",
	"AZURE_OPENAI_API_VERSION", "PROVIDER_TIMEOUT", "CHAT_MAX_HISTORY",
	"DATABASE_URL", "DB_HOST", "DB_PORT", "DB_MAX_OPEN_CONNS",
	"LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv blanks every variable the loader reads; getEnv treats empty as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		errMsg  string
		check   func(*testing.T, *Config)
	}{
		{
			name: "app configuration store with service principal",
			envVars: map[string]string{
				"APP_CONFIG_ENDPOINT": "https://gateway.azconfig.io",
				"AZURE_TENANT_ID":     "tenant",
				"AZURE_CLIENT_ID":     "client",
				"AZURE_CLIENT_SECRET": "secret",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "development", cfg.Environment)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.False(t, cfg.Server.TLS.Enabled)
				assert.Equal(t, StoreKindAppConfig, cfg.ConfigStore.Kind)
				assert.Equal(t, "https://gateway.azconfig.io", cfg.ConfigStore.Endpoint)
				assert.Equal(t, 10*time.Second, cfg.ConfigStore.FetchTimeout)
				assert.True(t, cfg.Vault.Enabled)
				assert.Equal(t, 5*time.Minute, cfg.Vault.CacheTTL)
				assert.Equal(t, 30*time.Second, cfg.Refresh.Interval)
				assert.Equal(t, 0, cfg.Refresh.MaxConsecutiveFailures)
				assert.Equal(t, "2024-10-21", cfg.Provider.AzureAPIVersion)
				assert.Equal(t, 100, cfg.Chat.MaxHistory)
				assert.Nil(t, cfg.Database)
				assert.Equal(t, "info", cfg.Observability.LogLevel)
			},
		},
		{
			name: "local file store without vault",
			envVars: map[string]string{
				"CONFIG_STORE_KIND":                "file",
				"CONFIG_FILE":                      "./chat.yaml",
				"KEY_VAULT_ENABLED":                "false",
				"REFRESH_INTERVAL":                 "5s",
				"REFRESH_MAX_CONSECUTIVE_FAILURES": "3",
				"PORT":                             "9000",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, StoreKindFile, cfg.ConfigStore.Kind)
				assert.Equal(t, "./chat.yaml", cfg.ConfigStore.Path)
				assert.False(t, cfg.Vault.Enabled)
				assert.Equal(t, 5*time.Second, cfg.Refresh.Interval)
				assert.Equal(t, 3, cfg.Refresh.MaxConsecutiveFailures)
				assert.Equal(t, 9000, cfg.Server.Port)
			},
		},
		{
			name: "s3 store with static token and journal database",
			envVars: map[string]string{
				"CONFIG_STORE_KIND":  "S3",
				"CONFIG_S3_BUCKET":   "gateway-config",
				"CONFIG_S3_PREFIX":   "prod/",
				"AZURE_ACCESS_TOKEN": "token",
				"DATABASE_URL":       "postgres://gw:pw@db.internal:5433/journal?sslmode=require",
				"DB_MAX_OPEN_CONNS":  "4",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, StoreKindS3, cfg.ConfigStore.Kind)
				assert.Equal(t, "prod/", cfg.ConfigStore.Prefix)
				require.NotNil(t, cfg.Database)
				assert.Equal(t, 4, cfg.Database.MaxOpenConns)
				assert.Equal(t, "host=db.internal port=5433 database=journal", cfg.Database.LogString())
			},
		},
		{
			name: "configmap store with cors origins",
			envVars: map[string]string{
				"CONFIG_STORE_KIND":    "configmap",
				"CONFIG_MAP_NAME":      "chat-config",
				"CONFIG_MAP_NAMESPACE": "gateway",
				"KEY_VAULT_ENABLED":    "false",
				"CORS_ALLOWED_ORIGINS": "https://a.example.com, ,https://b.example.com",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "gateway", cfg.ConfigStore.Namespace)
				assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
			},
		},
		{
			name:    "missing app configuration endpoint",
			envVars: map[string]string{},
			wantErr: true,
			errMsg:  "APP_CONFIG_ENDPOINT",
		},
		{
			name: "app configuration store with default credential",
			envVars: map[string]string{
				"APP_CONFIG_ENDPOINT": "https://gateway.azconfig.io",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.NeedsAzureCredential())
				assert.Empty(t, cfg.Identity.ClientSecret)
				assert.Empty(t, cfg.Identity.StaticToken)
			},
		},
		{
			name: "client secret without tenant",
			envVars: map[string]string{
				"APP_CONFIG_ENDPOINT": "https://gateway.azconfig.io",
				"AZURE_CLIENT_SECRET": "secret",
			},
			wantErr: true,
			errMsg:  "AZURE_CLIENT_SECRET requires",
		},
		{
			name: "unknown store kind",
			envVars: map[string]string{
				"CONFIG_STORE_KIND": "consul",
			},
			wantErr: true,
			errMsg:  "unknown config store kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := New(context.Background())

			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		Environment: "development",
		ConfigStore: ConfigStoreConfig{
			Kind:         StoreKindFile,
			Path:         "chat.yaml",
			FetchTimeout: time.Second,
		},
		Refresh:       RefreshConfig{Interval: time.Second},
		Provider:      ProviderConfig{Timeout: time.Second},
		Chat:          ChatConfig{MaxHistory: 10},
		Observability: ObservabilityConfig{LogLevel: "info"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid file config",
			mutate: func(c *Config) {},
		},
		{
			name: "zero refresh interval",
			mutate: func(c *Config) {
				c.Refresh.Interval = 0
			},
			wantErr: true,
			errMsg:  "refresh interval must be positive",
		},
		{
			name: "negative failure ceiling",
			mutate: func(c *Config) {
				c.Refresh.MaxConsecutiveFailures = -1
			},
			wantErr: true,
			errMsg:  "cannot be negative",
		},
		{
			name: "relative app configuration endpoint",
			mutate: func(c *Config) {
				c.ConfigStore.Kind = StoreKindAppConfig
				c.ConfigStore.Endpoint = "gateway.azconfig.io"
				c.Identity.StaticToken = "token"
			},
			wantErr: true,
			errMsg:  "absolute URL",
		},
		{
			name: "vault with default credential",
			mutate: func(c *Config) {
				c.Vault.Enabled = true
			},
		},
		{
			name: "vault with partial service principal",
			mutate: func(c *Config) {
				c.Vault.Enabled = true
				c.Identity.ClientID = "client"
				c.Identity.ClientSecret = "secret"
			},
			wantErr: true,
			errMsg:  "AZURE_TENANT_ID",
		},
		{
			name: "vault with static token",
			mutate: func(c *Config) {
				c.Vault.Enabled = true
				c.Identity.StaticToken = "token"
			},
		},
		{
			name: "configmap without name",
			mutate: func(c *Config) {
				c.ConfigStore.Kind = StoreKindConfigMap
			},
			wantErr: true,
			errMsg:  "CONFIG_MAP_NAME",
		},
		{
			name: "zero fetch timeout",
			mutate: func(c *Config) {
				c.ConfigStore.FetchTimeout = 0
			},
			wantErr: true,
			errMsg:  "fetch timeout",
		},
		{
			name: "production without admin token",
			mutate: func(c *Config) {
				c.Environment = "production"
			},
			wantErr: true,
			errMsg:  "ADMIN_TOKEN",
		},
		{
			name: "missing log level",
			mutate: func(c *Config) {
				c.Observability.LogLevel = ""
			},
			wantErr: true,
			errMsg:  "log level is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		want        bool
	}{
		{"production", "production", true},
		{"prod", "prod", true},
		{"development", "development", false},
		{"staging", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			assert.Equal(t, tt.want, cfg.IsProduction())
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "gateway",
		Password: "pw",
		Database: "chat_gateway",
		SSLMode:  "disable",
	}
	assert.Equal(t, "host=localhost port=5432 user=gateway password=pw dbname=chat_gateway sslmode=disable", cfg.DSN())
	assert.NotContains(t, cfg.LogString(), "pw")

	cfg.ConnectionString = "postgres://gw:secret@db:5432/journal"
	assert.Equal(t, "postgres://gw:secret@db:5432/journal", cfg.DSN())
	assert.NotContains(t, cfg.LogString(), "secret")
}

func TestLoadDatabaseConfig_FromHost(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_HOST", "db.local")
	t.Setenv("DB_PORT", "6543")

	cfg := loadDatabaseConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, "db.local", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "chat_gateway", cfg.Database)
	assert.True(t, cfg.InitSchema)
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{
		Host: "0.0.0.0",
		Port: 8080,
	}

	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue int
		want         int
	}{
		{"valid int", "42", 10, 42},
		{"empty value", "", 10, 10},
		{"invalid int", "not-a-number", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT", tt.value)
			assert.Equal(t, tt.want, getEnvAsInt("TEST_INT", tt.defaultValue))
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", "true", false, true},
		{"1", "1", false, true},
		{"false", "false", true, false},
		{"empty value", "", true, true},
		{"invalid", "maybe", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.value)
			assert.Equal(t, tt.want, getEnvAsBool("TEST_BOOL", tt.defaultValue))
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue time.Duration
		want         time.Duration
	}{
		{"seconds", "45s", time.Second, 45 * time.Second},
		{"minutes", "2m", time.Second, 2 * time.Minute},
		{"empty value", "", time.Second, time.Second},
		{"invalid", "soon", time.Second, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			assert.Equal(t, tt.want, getEnvAsDuration("TEST_DURATION", tt.defaultValue))
		})
	}
}

func TestGetEnvAsList(t *testing.T) {
	t.Setenv("TEST_LIST", " a , b,,c ")
	assert.Equal(t, []string{"a", "b", "c"}, getEnvAsList("TEST_LIST", nil))

	t.Setenv("TEST_LIST", " , ")
	assert.Equal(t, []string{"x"}, getEnvAsList("TEST_LIST", []string{"x"}))
}

func TestConfig_RequestTimeout(t *testing.T) {
	tests := []struct {
		name            string
		providerTimeout time.Duration
		writeTimeout    time.Duration
		wantRequest     time.Duration
		wantWrite       time.Duration
	}{
		{"defaults", 60 * time.Second, 90 * time.Second, 90 * time.Second, 95 * time.Second},
		{"slow provider outlasts old fixed cap", 150 * time.Second, 90 * time.Second, 180 * time.Second, 185 * time.Second},
		{"generous write timeout kept", 10 * time.Second, 5 * time.Minute, 40 * time.Second, 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server:   ServerConfig{WriteTimeout: tt.writeTimeout},
				Provider: ProviderConfig{Timeout: tt.providerTimeout},
			}
			assert.Equal(t, tt.wantRequest, cfg.RequestTimeout())
			assert.Greater(t, cfg.RequestTimeout(), cfg.Provider.Timeout)
			assert.Equal(t, tt.wantWrite, cfg.ServerWriteTimeout())
			assert.Greater(t, cfg.ServerWriteTimeout(), cfg.RequestTimeout())
		})
	}
}
