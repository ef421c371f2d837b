package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/cosrepo/internal/errors"
	"github.com/systmms/cosrepo/internal/logging"
	"github.com/systmms/cosrepo/internal/settings"
)

//go:embed schema.json
var schemaJSON string

// DefaultSourceTimeout applies when a secret source sets no timeout_ms.
const DefaultSourceTimeout = 30 * time.Second

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the cosrepo.yaml structure
type Definition struct {
	Version       int                               `yaml:"version"`
	Settings      map[string]interface{}            `yaml:"settings,omitempty"`
	Secure        map[string]interface{}            `yaml:"secure,omitempty"`
	SecretSources map[string]SecretSourceConfig     `yaml:"secretSources,omitempty"`
	Repositories  map[string]map[string]interface{} `yaml:"repositories,omitempty"`
}

// SecretSourceConfig holds the configuration of one external secret source
type SecretSourceConfig struct {
	Type      string                 `yaml:"type"`
	TimeoutMs int                    `yaml:"timeout_ms,omitempty"`
	Config    map[string]interface{} `yaml:",inline"`
}

// GetTimeout returns the load timeout for the source
func (s SecretSourceConfig) GetTimeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return DefaultSourceTimeout
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// Load reads, validates and parses the configuration file
func (c *Config) Load() error {
	def, err := c.Read()
	if err != nil {
		return err
	}

	c.Definition = def
	return nil
}

// Read parses the configuration file without replacing the loaded definition
func (c *Config) Read() (*Definition, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Pass --config or set COSREPO_CONFIG to the cosrepo.yaml location",
			}
		}
		return nil, dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	return Parse(data)
}

// Parse validates and decodes a configuration document
func Parse(data []byte) (*Definition, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters",
		}
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    fmt.Sprintf("failed to decode configuration: %v", err),
			Suggestion: "Check the types of values in your cosrepo.yaml",
		}
	}

	return &def, nil
}

func validateSchema(doc interface{}) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		sort.Strings(problems)
		return dserrors.ConfigError{
			Message:    "configuration does not match the expected schema:\n  - " + strings.Join(problems, "\n  - "),
			Suggestion: "Only version, settings, secure, secretSources and repositories are allowed at the top level",
		}
	}

	return nil
}

// GlobalSettings returns the flattened process-wide settings bag
func (c *Config) GlobalSettings() settings.Settings {
	if c.Definition == nil {
		return settings.Empty
	}
	return settings.Flatten(c.Definition.Settings)
}

// SecureSettings returns the flattened secure namespace
func (c *Config) SecureSettings() settings.Settings {
	if c.Definition == nil {
		return settings.Empty
	}
	return settings.Flatten(c.Definition.Secure)
}

// RepositoryNames returns the configured repository names in order
func (c *Config) RepositoryNames() []string {
	if c.Definition == nil {
		return nil
	}
	names := make([]string, 0, len(c.Definition.Repositories))
	for name := range c.Definition.Repositories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetRepository returns the metadata of a configured repository
func (c *Config) GetRepository(name string) (settings.RepositoryMetadata, error) {
	if c.Definition == nil {
		return settings.RepositoryMetadata{}, dserrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}

	repo, ok := c.Definition.Repositories[name]
	if !ok {
		suggestion := "Add the repository to the 'repositories:' section of your cosrepo.yaml"
		if available := c.RepositoryNames(); len(available) > 0 {
			suggestion = fmt.Sprintf("Available repositories: %s", strings.Join(available, ", "))
		}
		return settings.RepositoryMetadata{}, dserrors.ConfigError{
			Field:      "repository",
			Value:      name,
			Message:    "repository not found",
			Suggestion: suggestion,
		}
	}

	return settings.RepositoryMetadata{
		Name:     name,
		Settings: settings.Flatten(repo),
	}, nil
}

// SecretSourceNames returns the configured secret source names in order.
// Sources are applied in this order, later ones overriding earlier ones.
func (c *Config) SecretSourceNames() []string {
	if c.Definition == nil {
		return nil
	}
	names := make([]string, 0, len(c.Definition.SecretSources))
	for name := range c.Definition.SecretSources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSecretSource returns the configuration for a specific secret source
func (c *Config) GetSecretSource(name string) (SecretSourceConfig, error) {
	if c.Definition == nil {
		return SecretSourceConfig{}, dserrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}

	if src, ok := c.Definition.SecretSources[name]; ok {
		return src, nil
	}

	return SecretSourceConfig{}, dserrors.ConfigError{
		Field:   "secretSources",
		Value:   name,
		Message: "secret source not found",
	}
}
