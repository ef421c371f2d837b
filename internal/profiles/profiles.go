// Package profiles parses the named cos client profiles from process-wide settings.
package profiles

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/systmms/cosrepo/internal/settings"
)

// Prefix is the settings namespace that holds client profile groups.
const Prefix = "cos.client."

// DefaultName is the profile that always exists.
const DefaultName = "default"

// Setting keys, relative to a profile group or a repository settings bag.
const (
	KeyAccessKeyID     = "access_key_id"
	KeyAccessKeySecret = "access_key_secret"
	KeyEndpoint        = "end_point"
	KeyRegion          = "region"
)

// Profile is one named bundle of default connection settings.
type Profile struct {
	Name            string
	AccessKeyID     string
	AccessKeySecret string
	Endpoint        string
	Region          string
}

// Load reads every profile group under Prefix. A "default" profile is always
// present; when not configured it is built from the same lookups, so it picks up
// nothing but still exists with empty fields.
func Load(s settings.Settings) map[string]Profile {
	out := make(map[string]Profile)
	for _, name := range s.Names(Prefix) {
		out[name] = fromSettings(s, name)
	}
	if _, ok := out[DefaultName]; !ok {
		out[DefaultName] = fromSettings(s, DefaultName)
	}
	return out
}

func fromSettings(s settings.Settings, name string) Profile {
	key := func(k string) string { return Prefix + name + "." + k }
	return Profile{
		Name:            name,
		AccessKeyID:     s.Get(key(KeyAccessKeyID)),
		AccessKeySecret: s.Get(key(KeyAccessKeySecret)),
		Endpoint:        normalizeEndpoint(s.Get(key(KeyEndpoint))),
		Region:          s.Get(key(KeyRegion)),
	}
}

// Refine overrides profile fields with the non-empty values in repo.
// The receiver is returned unchanged when no field differs.
func (p Profile) Refine(repo settings.Settings) Profile {
	refined := p
	if v := repo.Get(KeyAccessKeyID); v != "" {
		refined.AccessKeyID = v
	}
	if v := repo.Get(KeyAccessKeySecret); v != "" {
		refined.AccessKeySecret = v
	}
	if v := repo.Get(KeyEndpoint); v != "" {
		refined.Endpoint = normalizeEndpoint(v)
	}
	if v := repo.Get(KeyRegion); v != "" {
		refined.Region = v
	}
	return refined
}

func normalizeEndpoint(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// Store holds the current profile snapshot. Snapshots are never mutated;
// Reload swaps in a new one.
type Store struct {
	snapshot atomic.Pointer[map[string]Profile]
}

// NewStore returns a store loaded from s.
func NewStore(s settings.Settings) *Store {
	st := &Store{}
	st.Reload(s)
	return st
}

// Reload replaces the snapshot with profiles parsed from s.
func (st *Store) Reload(s settings.Settings) {
	profiles := Load(s)
	st.snapshot.Store(&profiles)
}

// Snapshot returns the current immutable profile map. Callers must not modify it.
func (st *Store) Snapshot() map[string]Profile {
	return *st.snapshot.Load()
}

// Get returns the named profile.
func (st *Store) Get(name string) (Profile, bool) {
	p, ok := st.Snapshot()[name]
	return p, ok
}

// Names returns the sorted profile names.
func (st *Store) Names() []string {
	return SortedNames(st.Snapshot())
}

// SortedNames returns the keys of profiles in order.
func SortedNames(profiles map[string]Profile) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
