package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/upb/llm-chat-gateway/internal/runtimeconfig"
	"github.com/upb/llm-chat-gateway/services"
	"github.com/upb/llm-chat-gateway/services/credentials"
	"go.uber.org/zap"
)

// KeyVaultConfig configures a KeyVaultResolver.
type KeyVaultConfig struct {
	Timeout         time.Duration
	CacheTTL        time.Duration
	CacheMaxEntries int
}

// secretGetter is the part of azsecrets.Client the resolver uses.
type secretGetter interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

type clientFactory func(vaultURL string) (secretGetter, error)

// KeyVaultResolver resolves secret references against Azure Key Vault.
// It keeps one azsecrets client per vault.
type KeyVaultResolver struct {
	newClient clientFactory
	timeout   time.Duration
	cache     *Cache
	logger    *zap.Logger

	mu      sync.Mutex
	clients map[string]secretGetter
}

// NewKeyVaultResolver creates a resolver that authenticates with cred.
func NewKeyVaultResolver(cred credentials.TokenProvider, cfg KeyVaultConfig, logger *zap.Logger) *KeyVaultResolver {
	return newKeyVaultResolver(func(vaultURL string) (secretGetter, error) {
		return azsecrets.NewClient(vaultURL, cred, &azsecrets.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				// The refresher owns retry policy: a failed cycle keeps the last good snapshot.
				Retry: policy.RetryOptions{MaxRetries: -1},
			},
		})
	}, cfg, logger)
}

func newKeyVaultResolver(factory clientFactory, cfg KeyVaultConfig, logger *zap.Logger) *KeyVaultResolver {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &KeyVaultResolver{
		newClient: factory,
		timeout:   cfg.Timeout,
		cache:     NewCache(cfg.CacheMaxEntries, cfg.CacheTTL),
		logger:    logger.Named("keyvault"),
		clients:   make(map[string]secretGetter),
	}
}

// Resolve returns the secret value referenced by ref.
// Errors are typed as secret_not_found (404) or secret_unavailable (anything else).
func (r *KeyVaultResolver) Resolve(ctx context.Context, ref runtimeconfig.SecretReference) (string, error) {
	if value, ok := r.cache.Get(ref.URI); ok {
		return value, nil
	}

	client, err := r.client(ref.VaultURL)
	if err != nil {
		return "", r.unavailable("failed to create vault client", ref, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := client.GetSecret(ctx, ref.Name, ref.Version, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			return "", r.statusError(respErr, ref)
		}
		return "", r.unavailable("vault request failed", ref, err)
	}
	if resp.Value == nil || *resp.Value == "" {
		return "", r.unavailable("vault returned an empty secret", ref, nil)
	}

	value := *resp.Value
	r.cache.Set(ref.URI, value)
	r.logger.Debug("resolved secret", zap.String("secret", ref.URI))
	return value, nil
}

// Stats returns the resolver cache statistics.
func (r *KeyVaultResolver) Stats() CacheStats {
	return r.cache.Stats()
}

func (r *KeyVaultResolver) client(vaultURL string) (secretGetter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[vaultURL]; ok {
		return c, nil
	}
	c, err := r.newClient(vaultURL)
	if err != nil {
		return nil, err
	}
	r.clients[vaultURL] = c
	return c, nil
}

func (r *KeyVaultResolver) statusError(respErr *azcore.ResponseError, ref runtimeconfig.SecretReference) error {
	errType := services.ErrorTypeSecretUnavailable
	if respErr.StatusCode == http.StatusNotFound {
		errType = services.ErrorTypeSecretNotFound
	}

	var cause error
	if respErr.ErrorCode != "" {
		cause = errors.New(respErr.ErrorCode)
	}

	return services.NewDomainError(errType, fmt.Sprintf("vault returned status %d", respErr.StatusCode), cause).
		WithDetail("secret", ref.URI).
		WithDetail("status", respErr.StatusCode).
		WithDetail("code", respErr.ErrorCode)
}

func (r *KeyVaultResolver) unavailable(message string, ref runtimeconfig.SecretReference, err error) error {
	return services.NewDomainError(services.ErrorTypeSecretUnavailable, message, err).
		WithDetail("secret", ref.URI)
}

// DisabledResolver fails every reference. It is used when no vault credentials
// are configured, so plain values still work and references fail loudly.
type DisabledResolver struct{}

// Resolve implements runtimeconfig.SecretResolver.
func (DisabledResolver) Resolve(_ context.Context, ref runtimeconfig.SecretReference) (string, error) {
	return "", services.NewDomainError(services.ErrorTypeSecretUnavailable, "no vault credentials configured", nil).
		WithDetail("secret", ref.URI)
}
