// Package secrets holds the account-name → credential pair mapping used to
// resolve account references, and the sources it can be loaded from.
package secrets

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/systmms/cosrepo/internal/settings"
)

// Prefix is the secure settings namespace holding account credentials.
const Prefix = "cos.account."

// Keys below an account group.
const (
	KeySecretID  = "secret_id"
	KeySecretKey = "secret_key"
)

// Entry is the credential pair stored for one account.
type Entry struct {
	Account   string
	SecretID  string
	SecretKey string
}

// String never includes the secret key.
func (e Entry) String() string {
	return fmt.Sprintf("%s (secret_id=%s)", e.Account, e.SecretID)
}

// Load reads one entry per account declared under Prefix in the secure settings.
func Load(secure settings.Settings) map[string]Entry {
	out := make(map[string]Entry)
	for _, account := range secure.Names(Prefix) {
		out[account] = Entry{
			Account:   account,
			SecretID:  secure.Get(Prefix + account + "." + KeySecretID),
			SecretKey: secure.Get(Prefix + account + "." + KeySecretKey),
		}
	}
	return out
}

// Store holds the current secret snapshot. Snapshots are never mutated in place;
// Refresh swaps the whole map, so readers see either the old or the new one.
type Store struct {
	snapshot atomic.Pointer[map[string]Entry]
}

// NewStore returns a store holding a copy of entries.
func NewStore(entries map[string]Entry) *Store {
	s := &Store{}
	s.Refresh(entries)
	return s
}

// Get returns the entry for account.
func (s *Store) Get(account string) (Entry, bool) {
	e, ok := s.Snapshot()[account]
	return e, ok
}

// Snapshot returns the current immutable map. Callers must not modify it.
func (s *Store) Snapshot() map[string]Entry {
	if p := s.snapshot.Load(); p != nil {
		return *p
	}
	return map[string]Entry{}
}

// Accounts returns the known account names in order.
func (s *Store) Accounts() []string {
	snap := s.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Refresh atomically replaces every entry and returns the previous snapshot.
func (s *Store) Refresh(entries map[string]Entry) map[string]Entry {
	next := make(map[string]Entry, len(entries))
	for account, e := range entries {
		e.Account = account
		next[account] = e
	}

	prev := s.snapshot.Swap(&next)
	if prev == nil {
		return map[string]Entry{}
	}
	return *prev
}

// Diff reports which accounts were added, removed or changed between two snapshots.
func Diff(prev, next map[string]Entry) (added, removed, changed []string) {
	for account, e := range next {
		old, ok := prev[account]
		switch {
		case !ok:
			added = append(added, account)
		case old != e:
			changed = append(changed, account)
		}
	}
	for account := range prev {
		if _, ok := next[account]; !ok {
			removed = append(removed, account)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(changed)
	return added, removed, changed
}
