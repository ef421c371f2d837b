package commands

import (
	"context"
	"fmt"

	"github.com/systmms/cosrepo/internal/clientcache"
	"github.com/systmms/cosrepo/internal/config"
	"github.com/systmms/cosrepo/internal/cosclient"
	"github.com/systmms/cosrepo/internal/logging"
	"github.com/systmms/cosrepo/internal/secrets"
	"github.com/systmms/cosrepo/internal/service"
)

// clientFactory builds the factory used for COS clients. Tests replace it.
var clientFactory = func(logger *logging.Logger) clientcache.Factory {
	return cosclient.NewFactory(cosclient.WithLogger(logger))
}

// sourceRegistry creates external secret sources. Tests replace it.
var sourceRegistry = secrets.NewRegistry

// secretSources returns the secure settings source followed by every
// configured external source, in name order.
func secretSources(cfg *config.Config) ([]secrets.Source, error) {
	registry := sourceRegistry()
	sources := []secrets.Source{secrets.NewSettingsSource("settings", cfg.SecureSettings())}

	for _, name := range cfg.SecretSourceNames() {
		sourceCfg, err := cfg.GetSecretSource(name)
		if err != nil {
			return nil, err
		}
		src, err := registry.CreateSource(name, sourceCfg)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// loadSecrets reads every secret source. Any failing source fails the load.
func loadSecrets(ctx context.Context, cfg *config.Config) (map[string]secrets.Entry, error) {
	sources, err := secretSources(cfg)
	if err != nil {
		return nil, err
	}
	return secrets.LoadAll(ctx, cfg.Logger, sources...)
}

// loadService loads the configuration file and builds a service over it.
func loadService(ctx context.Context, cfg *config.Config, withSources bool, opts ...service.Option) (*service.Service, error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}

	entries := secrets.Load(cfg.SecureSettings())
	if withSources {
		var err error
		if entries, err = loadSecrets(ctx, cfg); err != nil {
			return nil, err
		}
	}

	opts = append([]service.Option{
		service.WithLogger(cfg.Logger),
		service.WithFactory(clientFactory(cfg.Logger)),
	}, opts...)

	svc, err := service.New(cfg.GlobalSettings(), entries, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return svc, nil
}

func presence(v string) string {
	if v == "" {
		return "-"
	}
	return "set"
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
