package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/upb/llm-chat-gateway/utils"
	"go.uber.org/zap"
)

// AdminAuth guards operator endpoints with a shared bearer token.
type AdminAuth struct {
	token  string
	logger *zap.Logger
}

// NewAdminAuth creates an AdminAuth. An empty token leaves the endpoints open.
func NewAdminAuth(token string, logger *zap.Logger) *AdminAuth {
	return &AdminAuth{
		token:  token,
		logger: logger,
	}
}

// Enabled reports whether a token is required.
func (a *AdminAuth) Enabled() bool {
	return a.token != ""
}

// RequireToken rejects requests without the configured bearer token
func (a *AdminAuth) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		logger := LoggerFromContext(r.Context(), a.logger)

		token := extractBearer(r)
		if token == "" {
			logger.Warn("missing admin token", zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
			logger.Warn("invalid admin token", zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, "Invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
