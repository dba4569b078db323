package providers

import (
	"context"
	"errors"
	"time"
)

// Provider sends chat completions to one kind of model backend.
// Connection details travel with each request because they come from the
// configuration snapshot current at request time.
type Provider interface {
	// Name returns the provider identifier used in the ChatLLM entry (e.g. "azure_openai")
	Name() string

	// Send performs a single chat completion
	Send(ctx context.Context, req *SendRequest) (*SendResponse, error)
}

// SendRequest is a chat completion request with its connection details.
type SendRequest struct {
	// Endpoint is the provider base URL
	Endpoint string `json:"endpoint"`

	// APIKey authenticates the call. Never serialized.
	APIKey string `json:"-"`

	// Deployment is the model or deployment name
	Deployment string `json:"deployment"`

	// Temperature controls randomness (0.0 to 2.0)
	Temperature float64 `json:"temperature"`

	// MaxTokens limits the completion length
	MaxTokens int `json:"max_tokens"`

	// TopP controls nucleus sampling; zero means 1.0
	TopP float64 `json:"top_p,omitempty"`

	// Messages in the conversation, seed messages first
	Messages []Message `json:"messages"`
}

// Message is a single message in a conversation.
type Message struct {
	// Role can be "system", "user", or "assistant"
	Role string `json:"role"`

	Content string `json:"content"`
}

// SendResponse is the provider's completion.
type SendResponse struct {
	ID           string        `json:"id"`
	Model        string        `json:"model"`
	Content      string        `json:"content"`
	FinishReason string        `json:"finish_reason"`
	Usage        Usage         `json:"usage"`
	Provider     string        `json:"provider"`
	Latency      time.Duration `json:"latency"`
	Created      time.Time     `json:"created"`
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderConfig holds connection settings shared by every request of a provider.
type ProviderConfig struct {
	// BaseURL is used when the request carries no endpoint
	BaseURL string

	// APIVersion is the Azure OpenAI REST API version
	APIVersion string

	// Timeout for requests
	Timeout time.Duration

	// OrgID for organization-specific endpoints
	OrgID string
}

// DefaultProviderConfig returns a sensible default configuration
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		APIVersion: "2024-10-21",
		Timeout:    60 * time.Second,
	}
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// Retryable indicates if the request can be retried
	Retryable bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	return false
}
