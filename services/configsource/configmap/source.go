// Package configmap reads configuration entries from a Kubernetes ConfigMap.
//
// ConfigMap data keys cannot contain ':', so entry keys are stored with ':'
// replaced by "__" (AzureOpenAI:ApiKey is stored as AzureOpenAI__ApiKey).
// A content type for a data key is set with the annotation
// chatconfig.upb.io/content-type.<data key>. Every entry carries the
// ConfigMap resourceVersion as its version stamp.
package configmap

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/upb/llm-chat-gateway/internal/runtimeconfig"
	"github.com/upb/llm-chat-gateway/services"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sclient "k8s.io/client-go/kubernetes"
)

// ContentTypeAnnotationPrefix prefixes the per-key content type annotation.
const ContentTypeAnnotationPrefix = "chatconfig.upb.io/content-type."

const keySeparator = "__"

// Config identifies the ConfigMap.
type Config struct {
	Namespace string
	Name      string
	Label     string
}

// Source is a runtimeconfig.Source backed by a single ConfigMap.
type Source struct {
	client    k8sclient.Interface
	namespace string
	name      string
	label     string
	logger    *zap.Logger
}

// New creates a Source reading cfg.Namespace/cfg.Name through client.
func New(client k8sclient.Interface, cfg Config, logger *zap.Logger) (*Source, error) {
	if client == nil {
		return nil, errors.New("configmap source requires a kubernetes client")
	}
	if cfg.Name == "" {
		return nil, errors.New("configmap source requires a configmap name")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		client:    client,
		namespace: cfg.Namespace,
		name:      cfg.Name,
		label:     cfg.Label,
		logger:    logger.Named("configmap"),
	}, nil
}

// DataKey converts an entry key into a valid ConfigMap data key.
func DataKey(key string) string {
	return strings.ReplaceAll(key, ":", keySeparator)
}

// EntryKey converts a ConfigMap data key back into an entry key.
func EntryKey(dataKey string) string {
	return strings.ReplaceAll(dataKey, keySeparator, ":")
}

// FetchOne reads a single entry from the ConfigMap.
func (s *Source) FetchOne(ctx context.Context, key string) (runtimeconfig.RawConfigEntry, error) {
	cm, err := s.get(ctx)
	if err != nil {
		return runtimeconfig.RawConfigEntry{}, withKey(err, key)
	}

	value, ok := cm.Data[DataKey(key)]
	if !ok {
		return runtimeconfig.RawConfigEntry{}, services.NewDomainError(services.ErrorTypeNotFound, "configuration entry not found", nil).
			WithDetail("key", key).
			WithDetail("configmap", s.namespace+"/"+s.name)
	}
	return s.entry(cm, key, value), nil
}

// FetchAll returns every entry whose key has filter.KeyPrefix, sorted by key.
func (s *Source) FetchAll(ctx context.Context, filter runtimeconfig.Filter) ([]runtimeconfig.RawConfigEntry, error) {
	if filter.Label != "" && filter.Label != s.label {
		return nil, nil
	}

	cm, err := s.get(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]runtimeconfig.RawConfigEntry, 0, len(cm.Data))
	for dataKey, value := range cm.Data {
		key := EntryKey(dataKey)
		if !strings.HasPrefix(key, filter.KeyPrefix) {
			continue
		}
		entries = append(entries, s.entry(cm, key, value))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (s *Source) get(ctx context.Context) (*corev1.ConfigMap, error) {
	cm, err := s.client.CoreV1().ConfigMaps(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, services.NewDomainError(services.ErrorTypeConfigFetch, "configmap does not exist", err).
				WithDetail("configmap", s.namespace+"/"+s.name)
		}
		return nil, services.NewDomainError(services.ErrorTypeConfigFetch, "failed to read configmap", err).
			WithDetail("configmap", s.namespace+"/"+s.name)
	}
	return cm, nil
}

func (s *Source) entry(cm *corev1.ConfigMap, key, value string) runtimeconfig.RawConfigEntry {
	return runtimeconfig.RawConfigEntry{
		Key:          key,
		Value:        value,
		ContentType:  cm.Annotations[ContentTypeAnnotationPrefix+DataKey(key)],
		ETag:         cm.ResourceVersion,
		Label:        s.label,
		LastModified: lastModified(cm),
	}
}

// lastModified returns the most recent managed field update, or the creation time.
func lastModified(cm *corev1.ConfigMap) time.Time {
	latest := cm.CreationTimestamp.Time
	for _, mf := range cm.ManagedFields {
		if mf.Time != nil && mf.Time.After(latest) {
			latest = mf.Time.Time
		}
	}
	return latest
}

func withKey(err error, key string) error {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.WithDetail("key", key)
	}
	return err
}
