package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config store kinds.
const (
	StoreKindAppConfig = "appconfig"
	StoreKindS3        = "s3"
	StoreKindConfigMap = "configmap"
	StoreKindFile      = "file"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	ConfigStore   ConfigStoreConfig
	Vault         VaultConfig
	Refresh       RefreshConfig
	Identity      IdentityConfig
	Provider      ProviderConfig
	Chat          ChatConfig
	Database      *DatabaseConfig // Optional: refresh journal. When nil, the journal is disabled.
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	// AdminToken guards the refresh and history endpoints. Empty leaves them open.
	AdminToken      string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// ConfigStoreConfig selects and configures the remote configuration source
type ConfigStoreConfig struct {
	Kind         string
	Label        string
	FetchTimeout time.Duration

	// appconfig
	Endpoint string

	// s3
	Bucket     string
	Prefix     string
	Region     string
	S3Endpoint string

	// configmap
	Namespace   string
	Name        string
	Kubeconfig  string
	KubeContext string

	// file
	Path string

	// BootstrapFile, when set, is served until the first successful refresh.
	BootstrapFile string
}

// VaultConfig holds Key Vault secret resolution settings
type VaultConfig struct {
	Enabled         bool
	Timeout         time.Duration
	CacheTTL        time.Duration
	CacheMaxEntries int
}

// RefreshConfig holds the refresher schedule
type RefreshConfig struct {
	Interval               time.Duration
	CycleTimeout           time.Duration
	ResolveTimeout         time.Duration
	SecretReuseTTL         time.Duration
	MaxConsecutiveFailures int
	JournalRetention       time.Duration
}

// IdentityConfig selects the Azure credential. StaticToken wins, then a
// client secret; with neither, DefaultAzureCredential is used.
type IdentityConfig struct {
	TenantID      string
	ClientID      string
	ClientSecret  string
	AuthorityHost string
	StaticToken   string
	Timeout       time.Duration
}

// ProviderConfig holds model provider connection settings
type ProviderConfig struct {
	AzureAPIVersion string
	OpenAIBaseURL   string
	OpenAIOrgID     string
	Timeout         time.Duration
}

// ChatConfig holds chat request limits
type ChatConfig struct {
	MaxHistory int
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	InitSchema       bool
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := Load()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Load reads the environment without validating.
func Load() *Config {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			AdminToken:      getEnv("ADMIN_TOKEN", ""),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		ConfigStore: ConfigStoreConfig{
			Kind:          strings.ToLower(getEnv("CONFIG_STORE_KIND", StoreKindAppConfig)),
			Label:         getEnv("CONFIG_STORE_LABEL", ""),
			FetchTimeout:  getEnvAsDuration("CONFIG_STORE_FETCH_TIMEOUT", 10*time.Second),
			Endpoint:      getEnv("APP_CONFIG_ENDPOINT", ""),
			Bucket:        getEnv("CONFIG_S3_BUCKET", ""),
			Prefix:        getEnv("CONFIG_S3_PREFIX", ""),
			Region:        getEnv("AWS_REGION", "us-east-1"),
			S3Endpoint:    getEnv("CONFIG_S3_ENDPOINT", ""),
			Namespace:     getEnv("CONFIG_MAP_NAMESPACE", "default"),
			Name:          getEnv("CONFIG_MAP_NAME", ""),
			Kubeconfig:    getEnv("KUBECONFIG_PATH", ""),
			KubeContext:   getEnv("KUBE_CONTEXT", ""),
			Path:          getEnv("CONFIG_FILE", ""),
			BootstrapFile: getEnv("CONFIG_BOOTSTRAP_FILE", ""),
		},
		Vault: VaultConfig{
			Enabled:         getEnvAsBool("KEY_VAULT_ENABLED", true),
			Timeout:         getEnvAsDuration("KEY_VAULT_TIMEOUT", 10*time.Second),
			CacheTTL:        getEnvAsDuration("KEY_VAULT_CACHE_TTL", 5*time.Minute),
			CacheMaxEntries: getEnvAsInt("KEY_VAULT_CACHE_MAX_ENTRIES", 64),
		},
		Refresh: RefreshConfig{
			Interval:               getEnvAsDuration("REFRESH_INTERVAL", 30*time.Second),
			CycleTimeout:           getEnvAsDuration("REFRESH_CYCLE_TIMEOUT", 25*time.Second),
			ResolveTimeout:         getEnvAsDuration("REFRESH_RESOLVE_TIMEOUT", 10*time.Second),
			SecretReuseTTL:         getEnvAsDuration("REFRESH_SECRET_REUSE_TTL", 5*time.Minute),
			MaxConsecutiveFailures: getEnvAsInt("REFRESH_MAX_CONSECUTIVE_FAILURES", 0),
			JournalRetention:       getEnvAsDuration("REFRESH_JOURNAL_RETENTION", 0),
		},
		Identity: IdentityConfig{
			TenantID:      getEnv("AZURE_TENANT_ID", ""),
			ClientID:      getEnv("AZURE_CLIENT_ID", ""),
			ClientSecret:  getEnv("AZURE_CLIENT_SECRET", ""),
			AuthorityHost: getEnv("AZURE_AUTHORITY_HOST", ""),
			StaticToken:   getEnv("AZURE_ACCESS_TOKEN", ""),
			Timeout:       getEnvAsDuration("AZURE_IDENTITY_TIMEOUT", 10*time.Second),
		},
		Provider: ProviderConfig{
			AzureAPIVersion: getEnv("AZURE_OPENAI_API_VERSION", "2024-10-21"),
			OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			OpenAIOrgID:     getEnv("OPENAI_ORG_ID", ""),
			Timeout:         getEnvAsDuration("PROVIDER_TIMEOUT", 60*time.Second),
		},
		Chat: ChatConfig{
			MaxHistory: getEnvAsInt("CHAT_MAX_HISTORY", 100),
		},
		Database: loadDatabaseConfig(),
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}
	return cfg
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if err := c.ConfigStore.Validate(); err != nil {
		return err
	}

	// A client secret is only usable with its tenant and client id
	if c.NeedsAzureCredential() && c.Identity.StaticToken == "" && c.Identity.ClientSecret != "" {
		if c.Identity.TenantID == "" || c.Identity.ClientID == "" {
			return fmt.Errorf("AZURE_CLIENT_SECRET requires AZURE_TENANT_ID and AZURE_CLIENT_ID")
		}
	}

	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh interval must be positive")
	}
	if c.Refresh.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("refresh max consecutive failures cannot be negative")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider timeout must be positive")
	}
	if c.Chat.MaxHistory < 0 {
		return fmt.Errorf("chat max history cannot be negative")
	}

	if c.IsProduction() && c.Server.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN is required in production")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// Validate checks that the selected store kind has what it needs
func (s *ConfigStoreConfig) Validate() error {
	switch s.Kind {
	case StoreKindAppConfig:
		if s.Endpoint == "" {
			return fmt.Errorf("APP_CONFIG_ENDPOINT is required for config store kind %q", s.Kind)
		}
		if u, err := url.Parse(s.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("APP_CONFIG_ENDPOINT must be an absolute URL")
		}
	case StoreKindS3:
		if s.Bucket == "" {
			return fmt.Errorf("CONFIG_S3_BUCKET is required for config store kind %q", s.Kind)
		}
	case StoreKindConfigMap:
		if s.Name == "" {
			return fmt.Errorf("CONFIG_MAP_NAME is required for config store kind %q", s.Kind)
		}
	case StoreKindFile:
		if s.Path == "" {
			return fmt.Errorf("CONFIG_FILE is required for config store kind %q", s.Kind)
		}
	default:
		return fmt.Errorf("unknown config store kind %q", s.Kind)
	}
	if s.FetchTimeout <= 0 {
		return fmt.Errorf("config store fetch timeout must be positive")
	}
	return nil
}

// NeedsAzureCredential reports whether any component talks to Azure.
func (c *Config) NeedsAzureCredential() bool {
	return c.ConfigStore.Kind == StoreKindAppConfig || c.Vault.Enabled
}

// requestTimeoutMargin covers request decoding and response writing around the provider call.
const requestTimeoutMargin = 30 * time.Second

// RequestTimeout bounds a whole HTTP request. It always outlasts the provider timeout.
func (c *Config) RequestTimeout() time.Duration {
	return c.Provider.Timeout + requestTimeoutMargin
}

// ServerWriteTimeout is SERVER_WRITE_TIMEOUT raised, when needed, so a request
// that runs to RequestTimeout can still write its response.
func (c *Config) ServerWriteTimeout() time.Duration {
	return max(c.Server.WriteTimeout, c.RequestTimeout()+5*time.Second)
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads the journal database from DATABASE_URL or DB_HOST.
// Returns nil when neither is set.
func loadDatabaseConfig() *DatabaseConfig {
	pool := func(c DatabaseConfig) *DatabaseConfig {
		c.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", 10)
		c.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", 2)
		c.ConnMaxLifetime = getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
		c.InitSchema = getEnvAsBool("DB_INIT_SCHEMA", true)
		return &c
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		return pool(DatabaseConfig{ConnectionString: dbURL})
	}
	if host := getEnv("DB_HOST", ""); host != "" {
		return pool(DatabaseConfig{
			Host:     host,
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "gateway"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "chat_gateway"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		})
	}
	return nil
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
