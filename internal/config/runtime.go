package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces the environment variables read by LoadRuntime.
const EnvPrefix = "cosrepo"

// Runtime carries CLI defaults that may come from the environment.
// Command-line flags take precedence over these values.
type Runtime struct {
	ConfigPath  string `envconfig:"CONFIG" default:"cosrepo.yaml"`
	Debug       bool   `envconfig:"DEBUG"`
	NoColor     bool   `envconfig:"NO_COLOR"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// LoadRuntime reads COSREPO_* variables.
func LoadRuntime() (Runtime, error) {
	var rt Runtime
	if err := envconfig.Process(EnvPrefix, &rt); err != nil {
		return Runtime{}, fmt.Errorf("invalid COSREPO_* environment: %w", err)
	}
	return rt, nil
}
