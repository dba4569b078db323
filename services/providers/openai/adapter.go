package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/upb/llm-chat-gateway/services/providers"
)

const (
	// AzureProviderName is the model_provider value served by the Azure adapter.
	AzureProviderName = "azure_openai"
	// ProviderName is the model_provider value served by the OpenAI adapter.
	ProviderName = "openai"

	defaultBaseURL = "https://api.openai.com/v1"
)

// Adapter implements providers.Provider on top of go-openai. The endpoint
// and API key of each request come from the current configuration snapshot,
// so a client is built per call.
type Adapter struct {
	name       string
	azure      bool
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewAzureAdapter creates the adapter for Azure OpenAI deployments.
func NewAzureAdapter(config providers.ProviderConfig) *Adapter {
	if config.APIVersion == "" {
		config.APIVersion = providers.DefaultProviderConfig().APIVersion
	}
	return newAdapter(AzureProviderName, true, config)
}

// NewOpenAIAdapter creates the adapter for OpenAI-compatible endpoints.
func NewOpenAIAdapter(config providers.ProviderConfig) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	return newAdapter(ProviderName, false, config)
}

func newAdapter(name string, azure bool, config providers.ProviderConfig) *Adapter {
	if config.Timeout == 0 {
		config.Timeout = providers.DefaultProviderConfig().Timeout
	}
	return &Adapter{
		name:   name,
		azure:  azure,
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return a.name
}

// Send performs a chat completion request
func (a *Adapter) Send(ctx context.Context, req *providers.SendRequest) (*providers.SendResponse, error) {
	if req == nil || req.Deployment == "" {
		return nil, providers.NewProviderError(a.name, "INVALID_REQUEST", "deployment is required", 0, false, nil)
	}
	if req.APIKey == "" {
		return nil, providers.NewProviderError(a.name, "INVALID_REQUEST", "api key is required", 0, false, nil)
	}
	if a.azure && req.Endpoint == "" {
		return nil, providers.NewProviderError(a.name, "INVALID_REQUEST", "endpoint is required", 0, false, nil)
	}

	startTime := time.Now()
	client := goopenai.NewClientWithConfig(a.clientConfig(req))

	resp, err := client.CreateChatCompletion(ctx, a.buildRequest(req))
	if err != nil {
		return nil, a.mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, providers.NewProviderError(a.name, "EMPTY_RESPONSE", "no choices returned", http.StatusOK, false, nil)
	}

	choice := resp.Choices[0]
	return &providers.SendResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: providers.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Provider: a.name,
		Latency:  time.Since(startTime),
		Created:  time.Unix(resp.Created, 0).UTC(),
	}, nil
}

func (a *Adapter) clientConfig(req *providers.SendRequest) goopenai.ClientConfig {
	var cfg goopenai.ClientConfig
	if a.azure {
		cfg = goopenai.DefaultAzureConfig(req.APIKey, req.Endpoint)
		cfg.APIVersion = a.config.APIVersion
		// Deployment names are used verbatim.
		cfg.AzureModelMapperFunc = func(model string) string { return model }
	} else {
		cfg = goopenai.DefaultConfig(req.APIKey)
		cfg.BaseURL = a.config.BaseURL
		if req.Endpoint != "" {
			cfg.BaseURL = req.Endpoint
		}
		cfg.OrgID = a.config.OrgID
	}
	cfg.HTTPClient = a.httpClient
	return cfg
}

// buildRequest converts a SendRequest to the go-openai format
func (a *Adapter) buildRequest(req *providers.SendRequest) goopenai.ChatCompletionRequest {
	messages := make([]goopenai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = goopenai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	topP := req.TopP
	if topP == 0 {
		topP = 1.0
	}

	return goopenai.ChatCompletionRequest{
		Model:               req.Deployment,
		Messages:            messages,
		MaxCompletionTokens: req.MaxTokens,
		Temperature:         temperature(req.Temperature),
		TopP:                float32(topP),
	}
}

// temperature converts to the wire value. go-openai omits a zero temperature,
// which the API would read as its default of 1.
func temperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// mapError converts go-openai errors to ProviderError
func (a *Adapter) mapError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Type
		if s, ok := apiErr.Code.(string); ok && s != "" {
			code = s
		}
		return providers.NewProviderError(a.name, code, "provider rejected the request", apiErr.HTTPStatusCode, retryableStatus(apiErr.HTTPStatusCode), err)
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return providers.NewProviderError(a.name, "HTTP_ERROR", "provider request failed", reqErr.HTTPStatusCode, retryableStatus(reqErr.HTTPStatusCode), err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return providers.NewProviderError(a.name, "TIMEOUT", "provider request timed out", 0, true, err)
	}
	if errors.Is(err, context.Canceled) {
		return providers.NewProviderError(a.name, "CANCELLED", "provider request cancelled", 0, false, err)
	}
	return providers.NewProviderError(a.name, "HTTP_ERROR", fmt.Sprintf("%s request failed", a.name), 0, true, err)
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
