// Package observability builds the structured logger shared by the gateway.
//
// Production deployments log JSON; local runs use zap's development console
// encoder. Secrets never reach the logger: types that carry credentials
// implement zapcore.ObjectMarshaler with the secret redacted.
package observability
