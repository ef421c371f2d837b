package secrets

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/cosrepo/internal/settings"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	secure := settings.Settings{
		"cos.account.prod.secret_id":  "AKIDprod",
		"cos.account.prod.secret_key": "prod-key",
		"cos.account.dev.secret_id":   "AKIDdev",
		"cos.client.default.region":   "ap-guangzhou",
	}

	entries := Load(secure)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Account: "prod", SecretID: "AKIDprod", SecretKey: "prod-key"}, entries["prod"])
	assert.Equal(t, Entry{Account: "dev", SecretID: "AKIDdev"}, entries["dev"])
}

func TestEntry_StringOmitsKey(t *testing.T) {
	t.Parallel()

	e := Entry{Account: "prod", SecretID: "AKIDprod", SecretKey: "super-secret"}
	assert.NotContains(t, e.String(), "super-secret")
	assert.NotContains(t, fmt.Sprint(e), "super-secret")
	assert.Contains(t, e.String(), "AKIDprod")
}

func TestStore_GetAndAccounts(t *testing.T) {
	t.Parallel()

	s := NewStore(map[string]Entry{
		"b": {SecretID: "id-b", SecretKey: "key-b"},
		"a": {SecretID: "id-a", SecretKey: "key-a"},
	})

	e, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", e.Account)
	assert.Equal(t, "id-a", e.SecretID)

	_, ok = s.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, s.Accounts())
}

func TestStore_NewStoreCopiesInput(t *testing.T) {
	t.Parallel()

	in := map[string]Entry{"a": {SecretID: "id-a", SecretKey: "key-a"}}
	s := NewStore(in)
	in["b"] = Entry{SecretID: "id-b"}

	_, ok := s.Get("b")
	assert.False(t, ok)
}

func TestStore_RefreshReplacesWholeSnapshot(t *testing.T) {
	t.Parallel()

	s := NewStore(map[string]Entry{
		"old": {SecretID: "id-old", SecretKey: "key-old"},
	})
	before := s.Snapshot()

	prev := s.Refresh(map[string]Entry{
		"new": {SecretID: "id-new", SecretKey: "key-new"},
	})

	assert.Contains(t, prev, "old")
	_, ok := s.Get("old")
	assert.False(t, ok, "accounts absent from the new set are removed")
	_, ok = s.Get("new")
	assert.True(t, ok)

	// A snapshot taken earlier is never mutated.
	assert.Contains(t, before, "old")
	assert.NotContains(t, before, "new")
}

func TestStore_RefreshOnEmptyStore(t *testing.T) {
	t.Parallel()

	var s Store
	assert.Empty(t, s.Snapshot())

	prev := s.Refresh(map[string]Entry{"a": {SecretID: "x", SecretKey: "y"}})
	assert.NotNil(t, prev)
	assert.Empty(t, prev)
}

func TestStore_ConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	t.Parallel()

	gen := func(i int) map[string]Entry {
		id := fmt.Sprintf("id-%d", i)
		return map[string]Entry{
			"a": {SecretID: id, SecretKey: "key-" + id},
			"b": {SecretID: id, SecretKey: "key-" + id},
		}
	}
	s := NewStore(gen(0))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 100)

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				if snap["a"].SecretID != snap["b"].SecretID {
					select {
					case errs <- fmt.Sprintf("torn snapshot: %s vs %s", snap["a"].SecretID, snap["b"].SecretID):
					default:
					}
				}
			}
		}()
	}

	for i := 1; i <= 200; i++ {
		s.Refresh(gen(i))
	}
	close(stop)
	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Error(msg)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	prev := map[string]Entry{
		"keep":   {Account: "keep", SecretID: "1", SecretKey: "k"},
		"change": {Account: "change", SecretID: "1", SecretKey: "k"},
		"drop":   {Account: "drop", SecretID: "1", SecretKey: "k"},
	}
	next := map[string]Entry{
		"keep":   {Account: "keep", SecretID: "1", SecretKey: "k"},
		"change": {Account: "change", SecretID: "1", SecretKey: "rotated"},
		"add":    {Account: "add", SecretID: "2", SecretKey: "k"},
	}

	added, removed, changed := Diff(prev, next)
	assert.Equal(t, []string{"add"}, added)
	assert.Equal(t, []string{"drop"}, removed)
	assert.Equal(t, []string{"change"}, changed)
}
