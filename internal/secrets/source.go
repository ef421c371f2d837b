package secrets

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/systmms/cosrepo/internal/config"
	dserrors "github.com/systmms/cosrepo/internal/errors"
	"github.com/systmms/cosrepo/internal/logging"
	"github.com/systmms/cosrepo/internal/settings"
)

// Source loads account credentials from one backing system.
type Source interface {
	Name() string
	Load(ctx context.Context) (map[string]Entry, error)
}

// SourceFactory creates a source instance from configuration
type SourceFactory func(name string, config map[string]interface{}) (Source, error)

// Registry manages source creation by type
type Registry struct {
	factories map[string]SourceFactory
}

// NewRegistry creates a registry with the built-in source types
func NewRegistry() *Registry {
	registry := &Registry{
		factories: make(map[string]SourceFactory),
	}

	registry.RegisterFactory("keyring", NewKeyringSourceFactory)
	registry.RegisterFactory("aws.secretsmanager", NewSecretsManagerSourceFactory)
	registry.RegisterFactory("aws.ssm", NewSSMSourceFactory)

	return registry
}

// RegisterFactory registers a source factory for a given type
func (r *Registry) RegisterFactory(sourceType string, factory SourceFactory) {
	r.factories[sourceType] = factory
}

// CreateSource creates a source from its configuration. The result honours the
// configured timeout.
func (r *Registry) CreateSource(name string, cfg config.SecretSourceConfig) (Source, error) {
	factory, exists := r.factories[cfg.Type]
	if !exists {
		return nil, dserrors.ConfigError{
			Field:      "secretSources." + name + ".type",
			Value:      cfg.Type,
			Message:    "unknown secret source type",
			Suggestion: fmt.Sprintf("Supported types: %v", r.GetSupportedTypes()),
		}
	}

	src, err := factory(name, cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("secret source %s: %w", name, err)
	}
	return WithTimeout(src, cfg.GetTimeout()), nil
}

// GetSupportedTypes returns the registered source types in order
func (r *Registry) GetSupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for sourceType := range r.factories {
		types = append(types, sourceType)
	}
	sort.Strings(types)
	return types
}

// IsSupported checks if a source type is supported
func (r *Registry) IsSupported(sourceType string) bool {
	_, exists := r.factories[sourceType]
	return exists
}

// SettingsSource serves entries parsed from the secure settings namespace.
type SettingsSource struct {
	name   string
	secure settings.Settings
}

// NewSettingsSource wraps a secure settings bag.
func NewSettingsSource(name string, secure settings.Settings) *SettingsSource {
	return &SettingsSource{name: name, secure: secure}
}

// Name returns the source name
func (s *SettingsSource) Name() string { return s.name }

// Load parses the secure settings.
func (s *SettingsSource) Load(context.Context) (map[string]Entry, error) {
	return Load(s.secure), nil
}

type timeoutSource struct {
	Source
	timeout time.Duration
}

// WithTimeout bounds every Load of src by timeout.
func WithTimeout(src Source, timeout time.Duration) Source {
	if timeout <= 0 {
		return src
	}
	return &timeoutSource{Source: src, timeout: timeout}
}

func (t *timeoutSource) Load(ctx context.Context) (map[string]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	entries, err := t.Source.Load(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, dserrors.UserError{
			Message:    fmt.Sprintf("secret source %s timed out", t.Name()),
			Details:    fmt.Sprintf("Load exceeded %s", t.timeout),
			Suggestion: "Check connectivity to the source or increase timeout_ms",
			Err:        err,
		}
	}
	return entries, err
}

// LoadAll loads every source in order and merges the results; an account found
// in a later source replaces the entry from an earlier one. Any failing source
// fails the whole load so a partial secret set is never installed.
func LoadAll(ctx context.Context, logger *logging.Logger, sources ...Source) (map[string]Entry, error) {
	merged := make(map[string]Entry)
	for _, src := range sources {
		entries, err := src.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load secrets from %s: %w", src.Name(), err)
		}
		for account, e := range entries {
			if _, dup := merged[account]; dup {
				logger.Debug("Account %s overridden by secret source %s", account, src.Name())
			}
			e.Account = account
			merged[account] = e
		}
		logger.Debug("Loaded %d account(s) from secret source %s", len(entries), src.Name())
	}
	return merged, nil
}

// configString reads an optional string option from a source configuration.
func configString(cfg map[string]interface{}, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

// configStrings reads a list option, accepting either a YAML list or a single string.
func configStrings(cfg map[string]interface{}, key string) []string {
	switch v := cfg[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}
