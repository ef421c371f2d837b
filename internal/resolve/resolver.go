// Package resolve layers client profiles, repository metadata and account
// secrets into the effective settings a client is built from.
package resolve

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/systmms/cosrepo/internal/clientcache"
	dserrors "github.com/systmms/cosrepo/internal/errors"
	"github.com/systmms/cosrepo/internal/logging"
	"github.com/systmms/cosrepo/internal/profiles"
	"github.com/systmms/cosrepo/internal/secrets"
	"github.com/systmms/cosrepo/internal/settings"
)

// AccountKey is the repository metadata key naming the client profile.
const AccountKey = "account"

// EffectiveSettings is what a client for one repository is built from.
type EffectiveSettings struct {
	AccessKeyID     string
	AccessKeySecret string
	Region          string
	Endpoint        string
}

// String never includes the secret.
func (e EffectiveSettings) String() string {
	endpoint := e.Endpoint
	if endpoint == "" {
		endpoint = "(default)"
	}
	return fmt.Sprintf("access_key_id=%s access_key_secret=%s region=%s end_point=%s",
		e.AccessKeyID, logging.Secret(e.AccessKeySecret), e.Region, endpoint)
}

// CacheKey returns the client cache key for these settings.
func (e EffectiveSettings) CacheKey() clientcache.Key {
	return clientcache.Key{
		AccessKeyID:     e.AccessKeyID,
		AccessKeySecret: e.AccessKeySecret,
		Region:          e.Region,
		Endpoint:        e.Endpoint,
	}
}

// SecretLookup finds the credential pair stored for an account.
type SecretLookup interface {
	Get(account string) (secrets.Entry, bool)
}

// ProfileName returns the client profile a repository uses.
func ProfileName(md settings.RepositoryMetadata) string {
	if name := md.Settings.Get(AccountKey); name != "" {
		return name
	}
	return profiles.DefaultName
}

type resolution struct {
	md       settings.RepositoryMetadata
	profiles map[string]profiles.Profile
	secrets  SecretLookup

	name    string
	profile profiles.Profile
}

type step func(*resolution) error

// steps run in order; the first failure stops resolution.
var steps = []step{
	selectProfile,
	applyOverrides,
	resolveAccount,
	requireRegion,
}

// Resolve derives the effective settings for a repository. It performs no I/O
// and is safe for concurrent use with immutable inputs.
func Resolve(md settings.RepositoryMetadata, profs map[string]profiles.Profile, lookup SecretLookup) (EffectiveSettings, error) {
	r := &resolution{md: md, profiles: profs, secrets: lookup}
	for _, s := range steps {
		if err := s(r); err != nil {
			return EffectiveSettings{}, err
		}
	}
	return EffectiveSettings{
		AccessKeyID:     r.profile.AccessKeyID,
		AccessKeySecret: r.profile.AccessKeySecret,
		Region:          r.profile.Region,
		Endpoint:        r.profile.Endpoint,
	}, nil
}

func selectProfile(r *resolution) error {
	r.name = ProfileName(r.md)
	p, ok := r.profiles[r.name]
	if !ok {
		return &dserrors.ResolutionError{
			Repository: r.md.Name,
			Profile:    r.name,
			Known:      profiles.SortedNames(r.profiles),
			Kind:       dserrors.ErrUnknownProfile,
		}
	}
	r.profile = p
	return nil
}

func applyOverrides(r *resolution) error {
	r.profile = r.profile.Refine(r.md.Settings)
	return nil
}

// resolveAccount fills both credentials from the secret store when either is
// missing after overrides. The profile name doubles as the account name.
func resolveAccount(r *resolution) error {
	if r.profile.AccessKeyID != "" && r.profile.AccessKeySecret != "" {
		return nil
	}
	var (
		e  secrets.Entry
		ok bool
	)
	if r.secrets != nil {
		e, ok = r.secrets.Get(r.name)
	}
	if !ok {
		return &dserrors.ResolutionError{
			Repository: r.md.Name,
			Profile:    r.name,
			Account:    r.name,
			Kind:       dserrors.ErrUnknownAccount,
		}
	}
	r.profile.AccessKeyID = e.SecretID
	r.profile.AccessKeySecret = e.SecretKey
	return nil
}

func requireRegion(r *resolution) error {
	if r.profile.Region == "" {
		return &dserrors.ResolutionError{
			Repository: r.md.Name,
			Profile:    r.name,
			Kind:       dserrors.ErrMissingRegion,
		}
	}
	return nil
}

// Resolver resolves against live profile and secret stores and memoises
// results by the repository settings bag. Reset must be called whenever either
// store changes.
type Resolver struct {
	profiles *profiles.Store
	secrets  *secrets.Store
	logger   *logging.Logger

	mu   sync.Mutex // serializes writers of memo
	memo atomic.Pointer[map[string]EffectiveSettings]
}

// New creates a resolver over the given stores.
func New(p *profiles.Store, s *secrets.Store, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Resolver{profiles: p, secrets: s, logger: logger}
	r.memo.Store(&map[string]EffectiveSettings{})
	return r
}

// Resolve returns the effective settings for md. Failures are not memoised.
func (r *Resolver) Resolve(md settings.RepositoryMetadata) (EffectiveSettings, error) {
	key := md.Settings.Canonical()
	if es, ok := (*r.memo.Load())[key]; ok {
		return es, nil
	}

	es, err := Resolve(md, r.profiles.Snapshot(), r.secrets)
	if err != nil {
		return EffectiveSettings{}, err
	}
	r.logger.Debug("Resolved repository %s: %s", md.Name, es)

	r.mu.Lock()
	defer r.mu.Unlock()
	cur := *r.memo.Load()
	next := make(map[string]EffectiveSettings, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[key] = es
	r.memo.Store(&next)
	return es, nil
}

// Reset drops every memoised result.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo.Store(&map[string]EffectiveSettings{})
}

// Len returns the number of memoised results.
func (r *Resolver) Len() int {
	return len(*r.memo.Load())
}
