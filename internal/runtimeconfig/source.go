package runtimeconfig

import "context"

// Filter narrows a FetchAll call. An empty filter returns every entry.
type Filter struct {
	// KeyPrefix matches entries whose key starts with the prefix.
	KeyPrefix string
	// Label restricts entries to a label; backends without labels ignore it.
	Label string
}

// Source reads raw entries from a remote configuration backend.
// FetchOne returns an error matching services.ErrConfigEntryNotFound when the key does not exist.
type Source interface {
	FetchAll(ctx context.Context, filter Filter) ([]RawConfigEntry, error)
	FetchOne(ctx context.Context, key string) (RawConfigEntry, error)
}

// SecretResolver fetches the current value behind a secret reference.
// Failures match services.ErrSecretUnavailable or services.ErrSecretNotFound.
type SecretResolver interface {
	Resolve(ctx context.Context, ref SecretReference) (string, error)
}

// ProviderCatalog reports which provider identifiers can serve chat requests.
type ProviderCatalog interface {
	Supports(provider string) bool
}

// StaticCatalog is a fixed set of provider identifiers.
type StaticCatalog []ProviderID

// Supports implements ProviderCatalog.
func (c StaticCatalog) Supports(provider string) bool {
	for _, p := range c {
		if string(p) == provider {
			return true
		}
	}
	return false
}
