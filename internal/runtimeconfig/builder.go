package runtimeconfig

import (
	"encoding/json"
	"strings"

	"github.com/upb/llm-chat-gateway/services"
	"github.com/upb/llm-chat-gateway/utils"
)

// Candidate holds the resolved values of one refresh cycle before validation.
type Candidate struct {
	ChatLLM  string
	Endpoint string
	APIKey   string
}

// chatLLMDocument mirrors the ChatLLM entry. Pointers distinguish absent fields from zero values.
type chatLLMDocument struct {
	ModelProvider       *string   `json:"model_provider"`
	Model               *string   `json:"model"`
	Temperature         *float64  `json:"temperature"`
	MaxCompletionTokens *int      `json:"max_completion_tokens"`
	Messages            []Message `json:"messages"`
}

// Builder merges and validates candidate values into a ModelConfig.
type Builder struct {
	catalog ProviderCatalog
}

// NewBuilder creates a Builder that accepts the providers known to catalog.
func NewBuilder(catalog ProviderCatalog) *Builder {
	return &Builder{catalog: catalog}
}

// Build returns a fully valid ModelConfig or a validation error; it never returns a partial config.
func (b *Builder) Build(c Candidate) (ModelConfig, error) {
	var doc chatLLMDocument
	if err := json.Unmarshal([]byte(c.ChatLLM), &doc); err != nil {
		return ModelConfig{}, services.NewDomainError(services.ErrorTypeValidation, "ChatLLM entry is not valid JSON", err).
			WithDetail("key", KeyChatLLM)
	}

	var missing []string
	if doc.ModelProvider == nil {
		missing = append(missing, "model_provider")
	}
	if doc.Model == nil {
		missing = append(missing, "model")
	}
	if doc.Temperature == nil {
		missing = append(missing, "temperature")
	}
	if doc.MaxCompletionTokens == nil {
		missing = append(missing, "max_completion_tokens")
	}
	if len(missing) > 0 {
		return ModelConfig{}, services.NewDomainError(services.ErrorTypeValidation, "ChatLLM entry is missing required fields", nil).
			WithDetail("key", KeyChatLLM).
			WithDetail("missing", missing)
	}

	messages := make([]Message, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		messages = append(messages, Message{
			Role:    Role(strings.ToLower(strings.TrimSpace(string(m.Role)))),
			Content: m.Content,
		})
	}

	cfg := ModelConfig{
		Provider:            ProviderID(strings.ToLower(strings.TrimSpace(*doc.ModelProvider))),
		Model:               strings.TrimSpace(*doc.Model),
		Temperature:         *doc.Temperature,
		MaxCompletionTokens: *doc.MaxCompletionTokens,
		Messages:            messages,
		Endpoint:            strings.TrimSuffix(strings.TrimSpace(c.Endpoint), "/"),
		APIKey:              strings.TrimSpace(c.APIKey),
	}

	if err := utils.ValidateStruct(cfg); err != nil {
		domainErr := services.NewDomainError(services.ErrorTypeValidation, "invalid model configuration", err)
		if fields := utils.GetValidationFields(err); fields != nil {
			domainErr.WithDetail("fields", fields)
		}
		return ModelConfig{}, domainErr
	}

	if b.catalog != nil && !b.catalog.Supports(string(cfg.Provider)) {
		return ModelConfig{}, services.NewDomainError(services.ErrorTypeValidation, "unknown model provider", nil).
			WithDetail("model_provider", string(cfg.Provider))
	}

	return cfg, nil
}
