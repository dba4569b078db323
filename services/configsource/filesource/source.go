// Package filesource reads configuration entries from a local YAML file.
//
// The file is re-read on every fetch, so editing it changes the configuration
// on the next refresh cycle. Environment variables referenced as ${VAR} are
// expanded before parsing, which keeps literal API keys out of the file:
//
//	label: local
//	entries:
//	  - key: ChatLLM
//	    value:
//	      model_provider: azure_openai
//	      model: gpt-4o
//	      temperature: 0.7
//	      max_completion_tokens: 1000
//	  - key: AzureOpenAI:Endpoint
//	    value: https://example.openai.azure.com
//	  - key: AzureOpenAI:ApiKey
//	    value: ${AZURE_OPENAI_API_KEY}
//
// A mapping or sequence value is converted to JSON.
package filesource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/upb/llm-chat-gateway/internal/runtimeconfig"
	"github.com/upb/llm-chat-gateway/services"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type fileEntry struct {
	Key         string    `yaml:"key"`
	Value       yaml.Node `yaml:"value"`
	ContentType string    `yaml:"content_type"`
}

type fileDocument struct {
	Label   string      `yaml:"label"`
	Entries []fileEntry `yaml:"entries"`
}

// Source is a runtimeconfig.Source backed by a YAML file.
type Source struct {
	path   string
	logger *zap.Logger
}

// New creates a Source reading path.
func New(path string, logger *zap.Logger) (*Source, error) {
	if path == "" {
		return nil, errors.New("file source requires a path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{path: path, logger: logger.Named("filesource")}, nil
}

// Path returns the file read by the source.
func (s *Source) Path() string {
	return s.path
}

// FetchOne returns the entry for key.
func (s *Source) FetchOne(_ context.Context, key string) (runtimeconfig.RawConfigEntry, error) {
	entries, err := s.load()
	if err != nil {
		return runtimeconfig.RawConfigEntry{}, err
	}
	for _, e := range entries {
		if e.Key == key {
			return e, nil
		}
	}
	return runtimeconfig.RawConfigEntry{}, services.NewDomainError(services.ErrorTypeNotFound, "configuration entry not found", nil).
		WithDetail("key", key).
		WithDetail("path", s.path)
}

// FetchAll returns the entries matching filter, sorted by key.
func (s *Source) FetchAll(_ context.Context, filter runtimeconfig.Filter) ([]runtimeconfig.RawConfigEntry, error) {
	entries, err := s.load()
	if err != nil {
		return nil, err
	}

	out := make([]runtimeconfig.RawConfigEntry, 0, len(entries))
	for _, e := range entries {
		if filter.Label != "" && filter.Label != e.Label {
			continue
		}
		if !strings.HasPrefix(e.Key, filter.KeyPrefix) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Source) load() ([]runtimeconfig.RawConfigEntry, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeConfigFetch, "configuration file unavailable", err).
			WithDetail("path", s.path)
	}
	data, err := os.ReadFile(s.path) //nolint:gosec // path is operator-provided configuration
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeConfigFetch, "failed to read configuration file", err).
			WithDetail("path", s.path)
	}

	entries, err := Parse(os.ExpandEnv(string(data)), info.ModTime())
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeConfigFetch, "failed to parse configuration file", err).
			WithDetail("path", s.path)
	}
	s.logger.Debug("loaded configuration file", zap.String("path", s.path), zap.Int("entries", len(entries)))
	return entries, nil
}

// Parse decodes a YAML entries document. Every entry is stamped with modified
// and an ETag derived from its content.
func Parse(doc string, modified time.Time) ([]runtimeconfig.RawConfigEntry, error) {
	var parsed fileDocument
	if err := yaml.Unmarshal([]byte(doc), &parsed); err != nil {
		return nil, fmt.Errorf("parse entries: %w", err)
	}

	seen := make(map[string]struct{}, len(parsed.Entries))
	entries := make([]runtimeconfig.RawConfigEntry, 0, len(parsed.Entries))
	for i, fe := range parsed.Entries {
		key := strings.TrimSpace(fe.Key)
		if key == "" {
			return nil, fmt.Errorf("entry %d: key is required", i)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate entry %q", key)
		}
		seen[key] = struct{}{}

		value, err := nodeValue(&fe.Value)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", key, err)
		}

		entries = append(entries, runtimeconfig.RawConfigEntry{
			Key:          key,
			Value:        value,
			ContentType:  fe.ContentType,
			ETag:         etag(key, value, fe.ContentType),
			Label:        parsed.Label,
			LastModified: modified,
		})
	}
	return entries, nil
}

func nodeValue(node *yaml.Node) (string, error) {
	switch node.Kind {
	case 0:
		return "", nil
	case yaml.ScalarNode:
		return node.Value, nil
	case yaml.MappingNode, yaml.SequenceNode:
		var v any
		if err := node.Decode(&v); err != nil {
			return "", err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("value cannot be encoded as JSON: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported value kind %d", node.Kind)
	}
}

func etag(key, value, contentType string) string {
	sum := sha256.Sum256([]byte(key + "\x00" + value + "\x00" + contentType))
	return hex.EncodeToString(sum[:16])
}
