package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/cosrepo/internal/clientcache"
	dserrors "github.com/systmms/cosrepo/internal/errors"
	"github.com/systmms/cosrepo/internal/logging"
	"github.com/systmms/cosrepo/internal/secrets"
	"github.com/systmms/cosrepo/internal/settings"
	"github.com/systmms/cosrepo/tests/fakes"
)

var global = settings.Settings{
	"cos.client.default.region":    "ap-guangzhou",
	"cos.client.archive.region":    "ap-beijing",
	"cos.client.archive.end_point": "cos.archive.example.com",
}

func initialSecrets() map[string]secrets.Entry {
	return map[string]secrets.Entry{
		"default": {SecretID: "AKIDdefault-v1", SecretKey: "default-v1"},
		"archive": {SecretID: "AKIDarchive-v1", SecretKey: "archive-v1"},
	}
}

func md(name string, kv ...string) settings.RepositoryMetadata {
	s := settings.Settings{}
	for i := 0; i+1 < len(kv); i += 2 {
		s[kv[i]] = kv[i+1]
	}
	return settings.RepositoryMetadata{Name: name, Settings: s}
}

func newService(t *testing.T) (*Service, *fakes.CountingFactory) {
	t.Helper()

	factory := fakes.NewCountingFactory()
	svc, err := New(global, initialSecrets(), WithFactory(factory.Build), WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, factory
}

func handleKey(t *testing.T, h clientcache.Handle) clientcache.Key {
	t.Helper()
	fh, ok := h.(*fakes.FakeHandle)
	require.True(t, ok)
	return fh.Key
}

func TestNew_RequiresFactory(t *testing.T) {
	t.Parallel()

	_, err := New(global, nil)
	assert.Error(t, err)
}

func TestService_RepositoriesWithSameSettingsShareClient(t *testing.T) {
	t.Parallel()

	svc, factory := newService(t)
	ctx := context.Background()

	a, err := svc.ResolveAndGetClient(ctx, md("a", "bucket", "one"))
	require.NoError(t, err)
	b, err := svc.ResolveAndGetClient(ctx, md("b", "bucket", "two"))
	require.NoError(t, err)
	c, err := svc.ResolveAndGetClient(ctx, md("c", "account", "archive"))
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, factory.Total())
	assert.Len(t, svc.CachedClients(), 2)

	assert.Equal(t, clientcache.Key{
		AccessKeyID:     "AKIDarchive-v1",
		AccessKeySecret: "archive-v1",
		Region:          "ap-beijing",
		Endpoint:        "cos.archive.example.com",
	}, handleKey(t, c))
}

func TestService_EffectiveSettings(t *testing.T) {
	t.Parallel()

	svc, factory := newService(t)

	es, err := svc.EffectiveSettings(md("a", "region", "ap-shanghai"))
	require.NoError(t, err)
	assert.Equal(t, "ap-shanghai", es.Region)
	assert.Equal(t, "AKIDdefault-v1", es.AccessKeyID)
	assert.Equal(t, 0, factory.Total())
}

func TestService_ResolutionErrorsNameRepository(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)

	_, err := svc.ResolveAndGetClient(context.Background(), md("backups", "account", "missing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, dserrors.ErrUnknownProfile)
	assert.Contains(t, err.Error(), "[backups]")
	assert.Contains(t, err.Error(), "archive,default")
}

func TestService_ConstructionFailureNamesRepositoryAndIsRetried(t *testing.T) {
	t.Parallel()

	svc, factory := newService(t)
	repo := md("cold", "account", "archive")

	es, err := svc.EffectiveSettings(repo)
	require.NoError(t, err)
	boom := errors.New("dial tcp: i/o timeout")
	factory.FailNext(es.CacheKey(), boom)

	_, err = svc.ResolveAndGetClient(context.Background(), repo)
	require.Error(t, err)
	assert.ErrorIs(t, err, dserrors.ErrClientConstruction)
	assert.ErrorIs(t, err, boom)

	var re *dserrors.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "cold", re.Repository)
	assert.Equal(t, "archive", re.Profile)

	_, err = svc.ResolveAndGetClient(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, 2, factory.Calls(es.CacheKey()))
}

func TestService_RefreshSecretsRebuildsClients(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()
	repo := md("backups", "bucket", "snapshots")

	old, err := svc.ResolveAndGetClient(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, "AKIDdefault-v1", handleKey(t, old).AccessKeyID)

	prev, err := svc.RefreshSecrets(map[string]secrets.Entry{
		"default": {SecretID: "AKIDdefault-v2", SecretKey: "default-v2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "AKIDdefault-v1", prev["default"].SecretID)
	assert.Contains(t, prev, "archive")

	assert.Equal(t, 1, old.(*fakes.FakeHandle).Shutdowns())
	assert.Empty(t, svc.CachedClients())
	assert.Equal(t, []string{"default"}, svc.Accounts())

	fresh, err := svc.ResolveAndGetClient(ctx, repo)
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, "AKIDdefault-v2", handleKey(t, fresh).AccessKeyID)

	_, err = svc.ResolveAndGetClient(ctx, md("cold", "account", "archive"))
	assert.ErrorIs(t, err, dserrors.ErrUnknownAccount)
}

func TestService_ReloadSettings(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()
	repo := md("backups", "bucket", "snapshots")

	old, err := svc.ResolveAndGetClient(ctx, repo)
	require.NoError(t, err)

	require.NoError(t, svc.ReloadSettings(settings.Settings{
		"cos.client.default.region": "ap-chengdu",
	}))
	assert.Equal(t, 1, old.(*fakes.FakeHandle).Shutdowns())
	assert.NotContains(t, svc.Profiles(), "archive")

	fresh, err := svc.ResolveAndGetClient(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, "ap-chengdu", handleKey(t, fresh).Region)
}

func TestService_ReloadSwapsSettingsAndSecretsTogether(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()
	repo := md("cold", "account", "archive")

	old, err := svc.ResolveAndGetClient(ctx, repo)
	require.NoError(t, err)

	require.NoError(t, svc.Reload(
		settings.Settings{"cos.client.archive.region": "ap-nanjing"},
		map[string]secrets.Entry{"archive": {SecretID: "AKIDarchive-v2", SecretKey: "archive-v2"}},
	))
	assert.Equal(t, 1, old.(*fakes.FakeHandle).Shutdowns())

	fresh, err := svc.ResolveAndGetClient(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, clientcache.Key{
		AccessKeyID:     "AKIDarchive-v2",
		AccessKeySecret: "archive-v2",
		Region:          "ap-nanjing",
	}, handleKey(t, fresh))
}

func TestService_ConcurrentLookupsAndRefresh(t *testing.T) {
	t.Parallel()

	svc, factory := newService(t)
	ctx := context.Background()

	const generations = 20
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			repo := md(fmt.Sprintf("repo-%d", i), "bucket", "b")
			for {
				select {
				case <-stop:
					return
				default:
				}
				h, err := svc.ResolveAndGetClient(ctx, repo)
				if !assert.NoError(t, err) {
					return
				}
				fh, ok := h.(*fakes.FakeHandle)
				if assert.True(t, ok) {
					assert.NotEmpty(t, fh.Key.AccessKeyID)
				}
			}
		}(i)
	}

	for g := 2; g <= generations; g++ {
		_, err := svc.RefreshSecrets(map[string]secrets.Entry{
			"default": {SecretID: fmt.Sprintf("AKIDdefault-v%d", g), SecretKey: "k"},
		})
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	live := svc.CachedClients()
	require.LessOrEqual(t, len(live), 1)
	if len(live) == 1 {
		assert.Equal(t, fmt.Sprintf("AKIDdefault-v%d", generations), live[0].AccessKeyID)
	}

	// Every handle except a live one was shut down exactly once.
	for _, h := range factory.Handles() {
		if len(live) == 1 && h.Key == live[0] {
			assert.Equal(t, 0, h.Shutdowns())
			continue
		}
		assert.Equal(t, 1, h.Shutdowns(), "handle %d", h.ID)
	}
}

func TestService_Close(t *testing.T) {
	t.Parallel()

	factory := fakes.NewCountingFactory()
	svc, err := New(global, initialSecrets(), WithFactory(factory.Build))
	require.NoError(t, err)

	h, err := svc.ResolveAndGetClient(context.Background(), md("a"))
	require.NoError(t, err)

	require.NoError(t, svc.Close())
	assert.Equal(t, 1, h.(*fakes.FakeHandle).Shutdowns())

	_, err = svc.ResolveAndGetClient(context.Background(), md("a"))
	assert.ErrorIs(t, err, clientcache.ErrClosed)
}
