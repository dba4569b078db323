package runtimeconfig

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-chat-gateway/services"
	"go.uber.org/zap/zapcore"
)

// Configuration keys read on every refresh cycle.
const (
	KeyChatLLM  = "ChatLLM"
	KeyEndpoint = "AzureOpenAI:Endpoint"
	KeyAPIKey   = "AzureOpenAI:ApiKey"
)

// RequiredKeys lists the entries merged into a ModelConfig, in fetch order.
var RequiredKeys = []string{KeyChatLLM, KeyEndpoint, KeyAPIKey}

// KeyVaultReferenceContentType marks an App Configuration entry whose value
// is a Key Vault reference instead of a plain value.
const KeyVaultReferenceContentType = "application/vnd.microsoft.appconfig.keyvaultref+json;charset=utf-8"

const keyVaultReferenceMediaType = "application/vnd.microsoft.appconfig.keyvaultref+json"

// ProviderID identifies a model provider adapter.
type ProviderID string

const (
	ProviderAzureOpenAI ProviderID = "azure_openai"
	ProviderOpenAI      ProviderID = "openai"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single seed or conversation message.
type Message struct {
	Role    Role   `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// ModelConfig is the validated model configuration served to chat requests.
// APIKey is excluded from JSON and redacted from String and log output.
type ModelConfig struct {
	Provider            ProviderID `json:"model_provider" validate:"required"`
	Model               string     `json:"model" validate:"required"`
	Temperature         float64    `json:"temperature" validate:"gte=0,lte=2"`
	MaxCompletionTokens int        `json:"max_completion_tokens" validate:"gt=0"`
	Messages            []Message  `json:"messages" validate:"dive"`
	Endpoint            string     `json:"endpoint" validate:"required,http_url"`
	APIKey              string     `json:"-" validate:"required"`
}

// Clone returns a deep copy of the configuration.
func (c ModelConfig) Clone() ModelConfig {
	out := c
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		copy(out.Messages, c.Messages)
	}
	return out
}

// String implements fmt.Stringer without exposing the API key.
func (c ModelConfig) String() string {
	return fmt.Sprintf("ModelConfig{provider=%s model=%s temperature=%g max_completion_tokens=%d messages=%d endpoint=%s api_key=%s}",
		c.Provider, c.Model, c.Temperature, c.MaxCompletionTokens, len(c.Messages), c.Endpoint, redact(c.APIKey))
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (c ModelConfig) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("provider", string(c.Provider))
	enc.AddString("model", c.Model)
	enc.AddFloat64("temperature", c.Temperature)
	enc.AddInt("max_completion_tokens", c.MaxCompletionTokens)
	enc.AddInt("seed_messages", len(c.Messages))
	enc.AddString("endpoint", c.Endpoint)
	enc.AddString("api_key", redact(c.APIKey))
	return nil
}

func redact(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return "<redacted>"
}

// RawConfigEntry is a single keyed value as returned by a Source.
type RawConfigEntry struct {
	Key          string    `json:"key"`
	Value        string    `json:"value"`
	ContentType  string    `json:"content_type,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	Label        string    `json:"label,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// IsSecretReference reports whether the entry value is a Key Vault reference.
// Media type parameters such as charset are ignored.
func (e RawConfigEntry) IsSecretReference() bool {
	if e.ContentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(e.ContentType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mediaType, keyVaultReferenceMediaType)
}

// SecretReference locates a secret in a Key Vault.
type SecretReference struct {
	URI      string
	VaultURL string
	Name     string
	Version  string
}

// String returns the locator only.
func (r SecretReference) String() string {
	return r.URI
}

// ParseSecretReference parses a reference value of the form {"uri": "https://<vault>/secrets/<name>[/<version>]"}.
func ParseSecretReference(value string) (SecretReference, error) {
	var doc struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		return SecretReference{}, services.NewDomainError(services.ErrorTypeValidation, "secret reference is not valid JSON", err)
	}
	if doc.URI == "" {
		return SecretReference{}, services.NewDomainError(services.ErrorTypeValidation, "secret reference has no uri", nil)
	}

	u, err := url.Parse(doc.URI)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return SecretReference{}, services.NewDomainError(services.ErrorTypeValidation, "secret reference uri is malformed", err).
			WithDetail("uri", doc.URI)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 || len(segments) > 3 || segments[0] != "secrets" || segments[1] == "" {
		return SecretReference{}, services.NewDomainError(services.ErrorTypeValidation, "secret reference uri must point at /secrets/<name>", nil).
			WithDetail("uri", doc.URI)
	}

	ref := SecretReference{
		URI:      strings.TrimSuffix(doc.URI, "/"),
		VaultURL: u.Scheme + "://" + u.Host,
		Name:     segments[1],
	}
	if len(segments) == 3 {
		ref.Version = segments[2]
	}
	return ref, nil
}

// Snapshot is an immutable, validated configuration published at a point in time.
// Accessors return copies; a Snapshot is safe to share between goroutines.
type Snapshot struct {
	id          uuid.UUID
	version     uint64
	publishedAt time.Time
	config      ModelConfig
	etags       map[string]string
}

// NewSnapshot wraps a validated configuration.
func NewSnapshot(cfg ModelConfig, version uint64, etags map[string]string) *Snapshot {
	tags := make(map[string]string, len(etags))
	for k, v := range etags {
		tags[k] = v
	}
	return &Snapshot{
		id:          uuid.New(),
		version:     version,
		publishedAt: time.Now().UTC(),
		config:      cfg.Clone(),
		etags:       tags,
	}
}

// ID returns the unique snapshot identifier.
func (s *Snapshot) ID() uuid.UUID { return s.id }

// Version returns the publish sequence number. Bootstrap snapshots use version 0.
func (s *Snapshot) Version() uint64 { return s.version }

// PublishedAt returns the creation time.
func (s *Snapshot) PublishedAt() time.Time { return s.publishedAt }

// Config returns a copy of the model configuration.
func (s *Snapshot) Config() ModelConfig { return s.config.Clone() }

// Messages returns a copy of the seed messages.
func (s *Snapshot) Messages() []Message {
	out := make([]Message, len(s.config.Messages))
	copy(out, s.config.Messages)
	return out
}

// ETag returns the source version stamp recorded for key.
func (s *Snapshot) ETag(key string) string { return s.etags[key] }

// View is the redacted, serializable form of a snapshot.
type View struct {
	ID                  uuid.UUID         `json:"id"`
	Version             uint64            `json:"version"`
	PublishedAt         time.Time         `json:"published_at"`
	Provider            ProviderID        `json:"model_provider"`
	Model               string            `json:"model"`
	Temperature         float64           `json:"temperature"`
	MaxCompletionTokens int               `json:"max_completion_tokens"`
	Messages            []Message         `json:"messages"`
	Endpoint            string            `json:"endpoint"`
	APIKeySet           bool              `json:"api_key_set"`
	SourceETags         map[string]string `json:"source_etags,omitempty"`
}

// View returns the redacted form of the snapshot.
func (s *Snapshot) View() View {
	etags := make(map[string]string, len(s.etags))
	for k, v := range s.etags {
		etags[k] = v
	}
	return View{
		ID:                  s.id,
		Version:             s.version,
		PublishedAt:         s.publishedAt,
		Provider:            s.config.Provider,
		Model:               s.config.Model,
		Temperature:         s.config.Temperature,
		MaxCompletionTokens: s.config.MaxCompletionTokens,
		Messages:            s.Messages(),
		Endpoint:            s.config.Endpoint,
		APIKeySet:           s.config.APIKey != "",
		SourceETags:         etags,
	}
}
