// Package chat serves chat turns against the configuration snapshot that is
// current when the turn starts. The snapshot is read once per turn; a
// refresh that publishes mid-call does not affect the call in flight.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-chat-gateway/internal/runtimeconfig"
	"github.com/upb/llm-chat-gateway/services"
	"github.com/upb/llm-chat-gateway/services/providers"
	"github.com/upb/llm-chat-gateway/utils"
	"go.uber.org/zap"
)

// SnapshotReader returns the configuration snapshot to serve with.
type SnapshotReader interface {
	Current() (*runtimeconfig.Snapshot, error)
}

// ProviderLookup resolves the adapter named by a snapshot.
type ProviderLookup interface {
	GetProvider(name string) (providers.Provider, error)
}

// Config bounds a chat turn.
type Config struct {
	// ProviderTimeout bounds the provider call.
	ProviderTimeout time.Duration
	// MaxHistory is the longest accepted history. Zero means unlimited.
	MaxHistory int
}

// DefaultConfig returns the default chat limits.
func DefaultConfig() Config {
	return Config{
		ProviderTimeout: 60 * time.Second,
		MaxHistory:      100,
	}
}

// Service completes chat turns.
type Service struct {
	snapshots SnapshotReader
	providers ProviderLookup
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a chat service.
func NewService(snapshots SnapshotReader, lookup ProviderLookup, cfg Config, logger *zap.Logger) *Service {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultConfig().ProviderTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		snapshots: snapshots,
		providers: lookup,
		cfg:       cfg,
		logger:    logger.Named("chat"),
		now:       time.Now,
	}
}

// Complete sends the seed messages, the caller's history and the new message
// to the configured provider. It fails fast with services.ErrNotYetConfigured
// when no snapshot is available.
func (s *Service) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	snap, err := s.snapshots.Current()
	if err != nil {
		return nil, err
	}
	cfg := snap.Config()

	provider, err := s.providers.GetProvider(string(cfg.Provider))
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeProvider, "no adapter registered for model provider", err).
			WithDetail("model_provider", string(cfg.Provider))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	requestID := uuid.New()
	resp, err := provider.Send(callCtx, &providers.SendRequest{
		Endpoint:    cfg.Endpoint,
		APIKey:      cfg.APIKey,
		Deployment:  cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxCompletionTokens,
		TopP:        1.0,
		Messages:    buildMessages(cfg.Messages, req),
	})
	if err != nil {
		s.logger.Warn("provider call failed",
			zap.String("request_id", requestID.String()),
			zap.String("provider", provider.Name()),
			zap.Uint64("snapshot_version", snap.Version()),
			zap.Error(err))
		return nil, providerFailure(provider.Name(), err)
	}

	now := s.now().UTC()
	history := make([]HistoryEntry, 0, len(req.History)+2)
	history = append(history, req.History...)
	history = append(history,
		HistoryEntry{Role: string(runtimeconfig.RoleUser), Content: req.Message, Timestamp: now},
		HistoryEntry{Role: string(runtimeconfig.RoleAssistant), Content: resp.Content, Timestamp: now},
	)

	s.logger.Info("chat completion served",
		zap.String("request_id", requestID.String()),
		zap.String("provider", provider.Name()),
		zap.String("model", cfg.Model),
		zap.Uint64("snapshot_version", snap.Version()),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("latency", resp.Latency))

	return &Response{
		ID:              requestID,
		Message:         resp.Content,
		History:         history,
		Provider:        provider.Name(),
		Model:           cfg.Model,
		FinishReason:    resp.FinishReason,
		Usage:           resp.Usage,
		SnapshotID:      snap.ID(),
		SnapshotVersion: snap.Version(),
		LatencyMs:       resp.Latency.Milliseconds(),
	}, nil
}

func (s *Service) validate(req *Request) error {
	if req == nil || strings.TrimSpace(req.Message) == "" {
		return services.ErrEmptyMessage
	}
	if s.cfg.MaxHistory > 0 && len(req.History) > s.cfg.MaxHistory {
		return services.NewDomainError(services.ErrorTypeValidation, "history too long", nil).
			WithDetail("max_history", s.cfg.MaxHistory)
	}
	if err := utils.ValidateStruct(req); err != nil {
		domainErr := services.NewDomainError(services.ErrorTypeValidation, "invalid chat request", err)
		if fields := utils.GetValidationFields(err); fields != nil {
			domainErr.WithDetail("fields", fields)
		}
		return domainErr
	}
	return nil
}

// buildMessages orders seed messages, then history, then the new user message.
func buildMessages(seed []runtimeconfig.Message, req *Request) []providers.Message {
	messages := make([]providers.Message, 0, len(seed)+len(req.History)+1)
	for _, m := range seed {
		messages = append(messages, providers.Message{Role: string(m.Role), Content: m.Content})
	}
	for _, h := range req.History {
		messages = append(messages, providers.Message{Role: h.Role, Content: h.Content})
	}
	return append(messages, providers.Message{Role: string(runtimeconfig.RoleUser), Content: req.Message})
}

func providerFailure(name string, err error) error {
	domainErr := services.NewDomainError(services.ErrorTypeProvider, fmt.Sprintf("%s call failed", name), err).
		WithDetail("provider", name).
		WithDetail("retryable", providers.IsRetryable(err))

	var provErr *providers.ProviderError
	if errors.As(err, &provErr) && provErr.StatusCode != 0 {
		domainErr.WithDetail("status", provErr.StatusCode)
	}
	return domainErr
}
