package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var vaultScope = policy.TokenRequestOptions{Scopes: []string{ScopeKeyVault}}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "gateway",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return s
}

func TestStaticToken(t *testing.T) {
	t.Run("opaque token", func(t *testing.T) {
		token, err := StaticToken("abc").GetToken(context.Background(), vaultScope)
		require.NoError(t, err)
		assert.Equal(t, "abc", token.Token)
		assert.WithinDuration(t, time.Now().Add(opaqueTokenLifetime), token.ExpiresOn, time.Minute)
	})

	t.Run("jwt reports its expiry", func(t *testing.T) {
		exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
		token, err := StaticToken(signedToken(t, exp)).GetToken(context.Background(), vaultScope)
		require.NoError(t, err)
		assert.True(t, exp.Equal(token.ExpiresOn), "expires %v, want %v", token.ExpiresOn, exp)
	})

	t.Run("expired jwt", func(t *testing.T) {
		_, err := StaticToken(signedToken(t, time.Now().Add(-time.Minute))).GetToken(context.Background(), vaultScope)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := StaticToken("").GetToken(context.Background(), vaultScope)
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantKind Kind
		wantErr  error
	}{
		{
			name:     "static token wins",
			cfg:      Config{StaticToken: "abc", ClientSecret: "s3cret"},
			wantKind: KindStatic,
		},
		{
			name:     "client secret",
			cfg:      Config{TenantID: "tenant-1", ClientID: "client-1", ClientSecret: "s3cret"},
			wantKind: KindClientSecret,
		},
		{
			name:    "client secret without tenant",
			cfg:     Config{ClientID: "client-1", ClientSecret: "s3cret"},
			wantErr: ErrNotConfigured,
		},
		{
			name:     "default credential chain",
			cfg:      Config{TenantID: "tenant-1"},
			wantKind: KindDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, kind, err := New(tt.cfg, zap.NewNop())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, cred)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, cred)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestNew_StaticTokenIsUsable(t *testing.T) {
	cred, _, err := New(Config{StaticToken: "abc", Timeout: time.Second}, nil)
	require.NoError(t, err)

	token, err := cred.GetToken(context.Background(), vaultScope)
	require.NoError(t, err)
	assert.Equal(t, "abc", token.Token)

	var _ azcore.TokenCredential = cred
}

type deadlineCredential struct {
	deadline time.Time
	ok       bool
}

func (d *deadlineCredential) GetToken(ctx context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	d.deadline, d.ok = ctx.Deadline()
	return azcore.AccessToken{Token: "t"}, nil
}

func TestTimeoutCredential(t *testing.T) {
	inner := &deadlineCredential{}
	cred := timeoutCredential{inner: inner, timeout: 50 * time.Millisecond}

	_, err := cred.GetToken(context.Background(), vaultScope)
	require.NoError(t, err)
	assert.True(t, inner.ok, "token request must carry a deadline")
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), inner.deadline, time.Second)
}
