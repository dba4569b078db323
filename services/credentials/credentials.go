package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Token scopes the gateway requests.
const (
	ScopeAppConfiguration = "https://azconfig.io/.default"
	ScopeKeyVault         = "https://vault.azure.net/.default"
)

// opaqueTokenLifetime is assumed for static tokens that are not JWTs.
const opaqueTokenLifetime = time.Hour

var (
	// ErrNotConfigured is returned when no credentials were supplied
	ErrNotConfigured = errors.New("credentials not configured")

	// ErrTokenExpired is returned when a static token is a JWT past its expiry
	ErrTokenExpired = errors.New("static token expired")
)

// TokenProvider acquires access tokens for the Azure clients. Its method set
// matches azcore.TokenCredential, so any azidentity credential satisfies it.
type TokenProvider interface {
	GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error)
}

// Kind names the credential New selected.
type Kind string

const (
	KindStatic       Kind = "static_token"
	KindClientSecret Kind = "client_secret"
	KindDefault      Kind = "default_azure_credential"
)

// Config selects and configures the credential.
type Config struct {
	TenantID      string
	ClientID      string
	ClientSecret  string
	AuthorityHost string
	StaticToken   string
	// Timeout bounds each token request. Zero leaves it to the caller's context.
	Timeout time.Duration
}

// New builds the credential for cfg:
// a static token when one is set, a service principal when a client secret is set,
// and DefaultAzureCredential (environment, workload identity, managed identity,
// Azure CLI) otherwise.
func New(cfg Config, logger *zap.Logger) (TokenProvider, Kind, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		cred TokenProvider
		kind Kind
	)
	switch {
	case cfg.StaticToken != "":
		cred, kind = StaticToken(cfg.StaticToken), KindStatic
	case cfg.ClientSecret != "":
		if cfg.TenantID == "" || cfg.ClientID == "" {
			return nil, "", fmt.Errorf("client secret credential requires tenant and client id: %w", ErrNotConfigured)
		}
		c, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret,
			&azidentity.ClientSecretCredentialOptions{ClientOptions: clientOptions(cfg)})
		if err != nil {
			return nil, "", fmt.Errorf("client secret credential: %w", err)
		}
		cred, kind = c, KindClientSecret
	default:
		c, err := azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
			ClientOptions: clientOptions(cfg),
			TenantID:      cfg.TenantID,
		})
		if err != nil {
			return nil, "", fmt.Errorf("default azure credential: %w", err)
		}
		cred, kind = c, KindDefault
	}

	logger.Info("azure credential configured",
		zap.String("kind", string(kind)),
		zap.String("client_id", cfg.ClientID))

	if cfg.Timeout > 0 {
		cred = timeoutCredential{inner: cred, timeout: cfg.Timeout}
	}
	return cred, kind, nil
}

func clientOptions(cfg Config) azcore.ClientOptions {
	var opts azcore.ClientOptions
	if cfg.AuthorityHost != "" {
		opts.Cloud = cloud.Configuration{ActiveDirectoryAuthorityHost: cfg.AuthorityHost}
	}
	return opts
}

// StaticToken returns the same bearer token for every scope.
type StaticToken string

// GetToken implements TokenProvider. A JWT reports its own expiry; an opaque
// token is assumed valid for an hour from now.
func (s StaticToken) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	if s == "" {
		return azcore.AccessToken{}, ErrNotConfigured
	}

	expiresOn := time.Now().Add(opaqueTokenLifetime)
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(string(s), &claims); err == nil && claims.ExpiresAt != nil {
		expiresOn = claims.ExpiresAt.Time
		if !expiresOn.After(time.Now()) {
			return azcore.AccessToken{}, ErrTokenExpired
		}
	}
	return azcore.AccessToken{Token: string(s), ExpiresOn: expiresOn}, nil
}

type timeoutCredential struct {
	inner   TokenProvider
	timeout time.Duration
}

func (c timeoutCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.inner.GetToken(ctx, opts)
}
