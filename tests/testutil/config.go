// Package testutil provides test utilities and helpers for cosrepo tests.
//
// This package contains shared test infrastructure for building and writing
// cosrepo.yaml configurations.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/systmms/cosrepo/internal/config"
	"gopkg.in/yaml.v3"
)

// TestConfigBuilder provides a fluent API for building test configurations.
//
// Example usage:
//
//	path := NewTestConfig(t).
//	    WithClient("default", "ap-guangzhou", "").
//	    WithAccount("default", "AKIDexample", "secret").
//	    WithRepository("backups", map[string]any{"bucket": "snapshots"}).
//	    Write()
type TestConfigBuilder struct {
	config  *config.Definition
	tempDir string
	t       *testing.T
}

// NewTestConfig creates a new TestConfigBuilder.
//
// The builder starts with a minimal valid configuration (version: 0).
func NewTestConfig(t *testing.T) *TestConfigBuilder {
	t.Helper()

	return &TestConfigBuilder{
		config: &config.Definition{
			Version:       0,
			Settings:      map[string]interface{}{},
			Secure:        map[string]interface{}{},
			SecretSources: map[string]config.SecretSourceConfig{},
			Repositories:  map[string]map[string]interface{}{},
		},
		tempDir: t.TempDir(),
		t:       t,
	}
}

// WithClient adds a client profile. Empty values are left out.
func (b *TestConfigBuilder) WithClient(name, region, endpoint string) *TestConfigBuilder {
	b.t.Helper()

	profile := map[string]interface{}{}
	if region != "" {
		profile["region"] = region
	}
	if endpoint != "" {
		profile["end_point"] = endpoint
	}
	nested(b.config.Settings, "cos", "client")[name] = profile
	return b
}

// WithAccount adds a credential pair to the secure namespace.
func (b *TestConfigBuilder) WithAccount(name, secretID, secretKey string) *TestConfigBuilder {
	b.t.Helper()

	nested(b.config.Secure, "cos", "account")[name] = map[string]interface{}{
		"secret_id":  secretID,
		"secret_key": secretKey,
	}
	return b
}

// WithSecretSource adds an external secret source.
func (b *TestConfigBuilder) WithSecretSource(name, sourceType string, cfg map[string]any) *TestConfigBuilder {
	b.t.Helper()

	b.config.SecretSources[name] = config.SecretSourceConfig{
		Type:   sourceType,
		Config: cfg,
	}
	return b
}

// WithRepository adds a repository and its settings.
func (b *TestConfigBuilder) WithRepository(name string, settings map[string]any) *TestConfigBuilder {
	b.t.Helper()

	b.config.Repositories[name] = settings
	return b
}

// Build returns the built configuration Definition.
func (b *TestConfigBuilder) Build() *config.Definition {
	b.t.Helper()

	return b.config
}

// Write writes the configuration to a temporary file and returns the path.
func (b *TestConfigBuilder) Write() string {
	b.t.Helper()

	data, err := yaml.Marshal(b.config)
	if err != nil {
		b.t.Fatalf("Failed to marshal test config: %v", err)
	}
	return writeFile(b.t, b.tempDir, data)
}

// WriteTestConfig writes a YAML string to a temporary cosrepo.yaml and
// returns its path.
func WriteTestConfig(t *testing.T, yamlContent string) string {
	t.Helper()

	return writeFile(t, t.TempDir(), []byte(yamlContent))
}

func writeFile(t *testing.T, dir string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, "cosrepo.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

// nested returns the map at keys under root, creating levels as needed.
func nested(root map[string]interface{}, keys ...string) map[string]interface{} {
	m := root
	for _, k := range keys {
		next, ok := m[k].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			m[k] = next
		}
		m = next
	}
	return m
}
