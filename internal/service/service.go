// Package service ties profiles, secrets, resolution and the client cache
// together behind the operations repositories call.
package service

import (
	"context"
	"errors"
	"sync"

	"github.com/systmms/cosrepo/internal/clientcache"
	dserrors "github.com/systmms/cosrepo/internal/errors"
	"github.com/systmms/cosrepo/internal/logging"
	"github.com/systmms/cosrepo/internal/profiles"
	"github.com/systmms/cosrepo/internal/resolve"
	"github.com/systmms/cosrepo/internal/secrets"
	"github.com/systmms/cosrepo/internal/settings"
)

// Service resolves repository metadata to shared client handles.
//
// Lookups hold the read lock across resolution and cache access. Secret
// refresh and settings reload hold the write lock while they swap their store
// and invalidate the cache, so no lookup can pair new secrets with a handle
// built from the old ones.
type Service struct {
	mu sync.RWMutex

	profiles *profiles.Store
	secrets  *secrets.Store
	resolver *resolve.Resolver
	cache    *clientcache.Cache
	factory  clientcache.Factory
	logger   *logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithFactory sets how client handles are built.
func WithFactory(f clientcache.Factory) Option {
	return func(s *Service) { s.factory = f }
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithCache replaces the default client cache.
func WithCache(c *clientcache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// New builds a service from process-wide settings and the initial secret set.
func New(global settings.Settings, entries map[string]secrets.Entry, opts ...Option) (*Service, error) {
	s := &Service{logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	if s.factory == nil {
		return nil, errors.New("service requires a client factory")
	}
	if s.cache == nil {
		s.cache = clientcache.New(clientcache.WithLogger(s.logger))
	}

	s.profiles = profiles.NewStore(global)
	s.secrets = secrets.NewStore(entries)
	s.resolver = resolve.New(s.profiles, s.secrets, s.logger)

	s.logger.Debug("Loaded %d client profile(s) and %d account(s)", len(s.profiles.Names()), len(s.secrets.Accounts()))
	return s, nil
}

// ResolveAndGetClient returns the shared client for a repository, building it
// on first use.
//
// The read lock spans construction so a refresh cannot invalidate the cache
// between resolution and the store of a handle built from old secrets. While a
// refresh waits for the write lock, new lookups queue behind any construction
// in flight, so factories must not block on I/O.
func (s *Service) ResolveAndGetClient(ctx context.Context, md settings.RepositoryMetadata) (clientcache.Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	es, err := s.resolver.Resolve(md)
	if err != nil {
		return nil, err
	}

	h, err := s.cache.GetOrCreate(ctx, es.CacheKey(), s.factory)
	if err != nil {
		return nil, dserrors.WithRepository(err, md.Name, resolve.ProfileName(md))
	}
	return h, nil
}

// EffectiveSettings resolves md without touching the cache.
func (s *Service) EffectiveSettings(md settings.RepositoryMetadata) (resolve.EffectiveSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolver.Resolve(md)
}

// RefreshSecrets installs a new secret set and drops every cached client so
// the next lookup rebuilds with current credentials. It returns the previous
// set; the error reports handles that failed to shut down.
func (s *Service) RefreshSecrets(entries map[string]secrets.Entry) (map[string]secrets.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.secrets.Refresh(entries)
	added, removed, changed := secrets.Diff(prev, s.secrets.Snapshot())
	s.logger.Info("Secrets refreshed: %d added, %d removed, %d changed", len(added), len(removed), len(changed))

	return prev, s.invalidate()
}

// ReloadSettings replaces the static client profiles and drops every cached client.
func (s *Service) ReloadSettings(global settings.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles.Reload(global)
	s.logger.Info("Client settings reloaded: %d profile(s)", len(s.profiles.Names()))

	return s.invalidate()
}

// Reload swaps settings and secrets together, invalidating the cache once.
func (s *Service) Reload(global settings.Settings, entries map[string]secrets.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles.Reload(global)
	prev := s.secrets.Refresh(entries)
	added, removed, changed := secrets.Diff(prev, s.secrets.Snapshot())
	s.logger.Info("Reloaded %d profile(s); secrets: %d added, %d removed, %d changed",
		len(s.profiles.Names()), len(added), len(removed), len(changed))

	return s.invalidate()
}

func (s *Service) invalidate() error {
	s.resolver.Reset()
	return s.cache.InvalidateAll()
}

// Close shuts every cached client down. Lookups fail afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Close()
}

// Profiles returns the current static client profiles.
func (s *Service) Profiles() map[string]profiles.Profile {
	return s.profiles.Snapshot()
}

// Accounts returns the names of accounts in the secret store.
func (s *Service) Accounts() []string {
	return s.secrets.Accounts()
}

// CachedClients returns the keys of live client handles.
func (s *Service) CachedClients() []clientcache.Key {
	return s.cache.Keys()
}
