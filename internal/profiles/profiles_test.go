package profiles_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/cosrepo/internal/profiles"
	"github.com/systmms/cosrepo/internal/settings"
)

func TestLoadSynthesizesDefault(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings settings.Settings
		want     []string
	}{
		{"empty settings", settings.Empty, []string{"default"}},
		{
			name:     "only named profiles",
			settings: settings.Settings{"cos.client.prod.region": "ap-guangzhou"},
			want:     []string{"default", "prod"},
		},
		{
			name:     "unrelated keys",
			settings: settings.Settings{"cos.account.prod.secret_id": "id"},
			want:     []string{"default"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			loaded := profiles.Load(tt.settings)
			assert.Equal(t, tt.want, profiles.SortedNames(loaded))
			assert.Equal(t, profiles.Profile{Name: "default"}, loaded["default"])
		})
	}
}

func TestLoadReadsAllFields(t *testing.T) {
	t.Parallel()

	loaded := profiles.Load(settings.Settings{
		"cos.client.default.region":            "ap-guangzhou",
		"cos.client.prod.access_key_id":        "AKIDprod",
		"cos.client.prod.access_key_secret":    "secret",
		"cos.client.prod.end_point":            "COS.Example.COM",
		"cos.client.prod.region":               "ap-beijing",
		"cos.client.prod.unknown_setting_name": "ignored",
	})

	require.Len(t, loaded, 2)
	assert.Equal(t, profiles.Profile{Name: "default", Region: "ap-guangzhou"}, loaded["default"])
	assert.Equal(t, profiles.Profile{
		Name:            "prod",
		AccessKeyID:     "AKIDprod",
		AccessKeySecret: "secret",
		Endpoint:        "cos.example.com",
		Region:          "ap-beijing",
	}, loaded["prod"])
}

func TestRefineOverridesFieldByField(t *testing.T) {
	t.Parallel()

	base := profiles.Profile{
		Name:            "prod",
		AccessKeyID:     "AKIDstatic",
		AccessKeySecret: "static-secret",
		Endpoint:        "static.example.com",
		Region:          "ap-guangzhou",
	}

	tests := []struct {
		name string
		repo settings.Settings
		want profiles.Profile
	}{
		{
			name: "no overrides returns same profile",
			repo: settings.Empty,
			want: base,
		},
		{
			name: "empty values never erase",
			repo: settings.Settings{"region": "", "end_point": ""},
			want: base,
		},
		{
			name: "endpoint only",
			repo: settings.Settings{"end_point": "Custom.Example.com"},
			want: profiles.Profile{
				Name: "prod", AccessKeyID: "AKIDstatic", AccessKeySecret: "static-secret",
				Endpoint: "custom.example.com", Region: "ap-guangzhou",
			},
		},
		{
			name: "all fields",
			repo: settings.Settings{
				"access_key_id":     "AKIDrepo",
				"access_key_secret": "repo-secret",
				"end_point":         "repo.example.com",
				"region":            "ap-shanghai",
				"bucket":            "ignored",
			},
			want: profiles.Profile{
				Name: "prod", AccessKeyID: "AKIDrepo", AccessKeySecret: "repo-secret",
				Endpoint: "repo.example.com", Region: "ap-shanghai",
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := base.Refine(tt.repo)
			assert.Equal(t, tt.want, got)
			// Refining twice with the same bag is idempotent.
			assert.Equal(t, got, got.Refine(tt.repo))
		})
	}
}

func TestStoreReloadSwapsSnapshot(t *testing.T) {
	t.Parallel()

	store := profiles.NewStore(settings.Settings{"cos.client.prod.region": "ap-guangzhou"})
	before := store.Snapshot()

	p, ok := store.Get("prod")
	require.True(t, ok)
	assert.Equal(t, "ap-guangzhou", p.Region)

	store.Reload(settings.Settings{"cos.client.dev.region": "ap-beijing"})

	_, ok = store.Get("prod")
	assert.False(t, ok)
	assert.Equal(t, []string{"default", "dev"}, store.Names())
	assert.Contains(t, before, "prod", "old snapshot is untouched")
}

func TestStoreConcurrentReadsDuringReload(t *testing.T) {
	t.Parallel()

	a := settings.Settings{"cos.client.x.region": "a", "cos.client.y.region": "a"}
	b := settings.Settings{"cos.client.x.region": "b", "cos.client.y.region": "b"}
	store := profiles.NewStore(a)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				store.Reload(a)
			} else {
				store.Reload(b)
			}
		}(i)
		go func() {
			defer wg.Done()
			snap := store.Snapshot()
			// A snapshot is always internally consistent.
			assert.Equal(t, snap["x"].Region, snap["y"].Region)
		}()
	}
	wg.Wait()
}
