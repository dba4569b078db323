// Package appconfig reads configuration entries from Azure App Configuration.
package appconfig

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azappconfig"
	"github.com/upb/llm-chat-gateway/internal/runtimeconfig"
	"github.com/upb/llm-chat-gateway/services"
	"github.com/upb/llm-chat-gateway/services/credentials"
	"go.uber.org/zap"
)

// maxPages bounds FetchAll against a misbehaving continuation chain.
const maxPages = 100

// Config configures a Source.
type Config struct {
	Endpoint string
	Label    string
	// Timeout bounds each store call.
	Timeout time.Duration
}

// settingsClient is the part of azappconfig.Client the source uses.
type settingsClient interface {
	GetSetting(ctx context.Context, key string, options *azappconfig.GetSettingOptions) (azappconfig.GetSettingResponse, error)
	NewListSettingsPager(selector azappconfig.SettingSelector, options *azappconfig.ListSettingsOptions) *runtime.Pager[azappconfig.ListSettingsPageResponse]
}

// Source is a runtimeconfig.Source backed by an App Configuration store.
type Source struct {
	client  settingsClient
	label   string
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Source for the store at cfg.Endpoint.
func New(cfg Config, cred credentials.TokenProvider, logger *zap.Logger) (*Source, error) {
	endpoint, err := url.Parse(strings.TrimSuffix(cfg.Endpoint, "/"))
	if err != nil || endpoint.Host == "" {
		return nil, fmt.Errorf("invalid app configuration endpoint %q", cfg.Endpoint)
	}
	if cred == nil {
		return nil, errors.New("app configuration source requires a credential")
	}

	client, err := azappconfig.NewClient(endpoint.String(), cred, &azappconfig.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			// The refresher owns retry policy: a failed cycle keeps the last good snapshot.
			Retry: policy.RetryOptions{MaxRetries: -1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("app configuration client: %w", err)
	}
	return newSource(client, cfg, logger), nil
}

func newSource(client settingsClient, cfg Config, logger *zap.Logger) *Source {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		client:  client,
		label:   cfg.Label,
		timeout: cfg.Timeout,
		logger:  logger.Named("appconfig"),
	}
}

// FetchOne reads a single key under the configured label.
func (s *Source) FetchOne(ctx context.Context, key string) (runtimeconfig.RawConfigEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var opts *azappconfig.GetSettingOptions
	if s.label != "" {
		opts = &azappconfig.GetSettingOptions{Label: &s.label}
	}

	resp, err := s.client.GetSetting(ctx, key, opts)
	if err != nil {
		return runtimeconfig.RawConfigEntry{}, storeError(err).WithDetail("key", key)
	}
	entry := toEntry(resp.Setting)
	if entry.Key == "" {
		entry.Key = key
	}
	return entry, nil
}

// FetchAll lists every key matching filter across all result pages.
func (s *Source) FetchAll(ctx context.Context, filter runtimeconfig.Filter) ([]runtimeconfig.RawConfigEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	label := filter.Label
	if label == "" {
		label = s.label
	}

	selector := azappconfig.SettingSelector{KeyFilter: ptr(filter.KeyPrefix + "*")}
	if label != "" {
		selector.LabelFilter = &label
	}

	var entries []runtimeconfig.RawConfigEntry
	pager := s.client.NewListSettingsPager(selector, nil)
	for page := 0; pager.More(); page++ {
		if page >= maxPages {
			return nil, services.NewDomainError(services.ErrorTypeConfigFetch, "too many result pages", nil).
				WithDetail("pages", page)
		}

		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, storeError(err)
		}
		for _, setting := range resp.Settings {
			entries = append(entries, toEntry(setting))
		}
	}

	s.logger.Debug("listed configuration entries", zap.String("prefix", filter.KeyPrefix), zap.Int("count", len(entries)))
	return entries, nil
}

func storeError(err error) *services.DomainError {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return services.NewDomainError(services.ErrorTypeConfigFetch, "configuration store request failed", err)
	}
	if respErr.StatusCode == http.StatusNotFound {
		return services.NewDomainError(services.ErrorTypeNotFound, "configuration entry not found", nil)
	}
	return services.NewDomainError(services.ErrorTypeConfigFetch, fmt.Sprintf("configuration store returned status %d", respErr.StatusCode), nil).
		WithDetail("status", respErr.StatusCode)
}

func toEntry(setting azappconfig.Setting) runtimeconfig.RawConfigEntry {
	var e runtimeconfig.RawConfigEntry
	if setting.Key != nil {
		e.Key = *setting.Key
	}
	if setting.Value != nil {
		e.Value = *setting.Value
	}
	if setting.ContentType != nil {
		e.ContentType = *setting.ContentType
	}
	if setting.Label != nil {
		e.Label = *setting.Label
	}
	if setting.ETag != nil {
		e.ETag = string(*setting.ETag)
	}
	if setting.LastModified != nil {
		e.LastModified = *setting.LastModified
	}
	return e
}

func ptr[T any](v T) *T { return &v }
