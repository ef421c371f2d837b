package repository

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/dustin/go-humanize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/cosrepo/internal/clientcache"
	"github.com/systmms/cosrepo/internal/cosclient"
	dserrors "github.com/systmms/cosrepo/internal/errors"
	"github.com/systmms/cosrepo/internal/logging"
	"github.com/systmms/cosrepo/internal/settings"
	"github.com/systmms/cosrepo/tests/fakes"
)

func metadata(name string, kv ...string) settings.RepositoryMetadata {
	s := settings.Settings{}
	for i := 0; i+1 < len(kv); i += 2 {
		s[kv[i]] = kv[i+1]
	}
	return settings.RepositoryMetadata{Name: name, Settings: s}
}

func TestParseSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		md   settings.RepositoryMetadata
		want Settings
	}{
		{
			name: "defaults",
			md:   metadata("r", "bucket", "snapshots-1250000000"),
			want: Settings{Bucket: "snapshots-1250000000", ChunkSize: 1 << 30},
		},
		{
			name: "app_id appended to bucket",
			md:   metadata("r", "bucket", "snapshots", "app_id", "1250000000"),
			want: Settings{Bucket: "snapshots-1250000000", ChunkSize: DefaultChunkSize},
		},
		{
			name: "leading slash trimmed from base_path",
			md:   metadata("r", "bucket", "b", "base_path", "/es/backups/"),
			want: Settings{Bucket: "b", BasePath: "es/backups", ChunkSize: DefaultChunkSize},
		},
		{
			name: "compress and chunk size",
			md:   metadata("r", "bucket", "b", "compress", "true", "chunk_size", "64mb"),
			want: Settings{Bucket: "b", Compress: true, ChunkSize: 64 * humanize.MiByte},
		},
		{
			name: "gb is a binary unit",
			md:   metadata("r", "bucket", "b", "chunk_size", "1gb"),
			want: Settings{Bucket: "b", ChunkSize: 1 << 30},
		},
		{
			name: "single letter unit",
			md:   metadata("r", "bucket", "b", "chunk_size", "100M"),
			want: Settings{Bucket: "b", ChunkSize: 100 << 20},
		},
		{
			name: "lower bound is inclusive",
			md:   metadata("r", "bucket", "b", "chunk_size", "5mb"),
			want: Settings{Bucket: "b", ChunkSize: MinChunkSize},
		},
		{
			name: "upper bound is inclusive",
			md:   metadata("r", "bucket", "b", "chunk_size", "5tb"),
			want: Settings{Bucket: "b", ChunkSize: MaxChunkSize},
		},
		{
			name: "binary chunk size unit",
			md:   metadata("r", "bucket", "b", "chunk_size", "1GiB"),
			want: Settings{Bucket: "b", ChunkSize: humanize.GiByte},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseSettings(tt.md, logging.Discard())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSettings_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		md    settings.RepositoryMetadata
		field string
		want  string
	}{
		{
			name:  "missing bucket",
			md:    metadata("backups"),
			field: "repositories.backups.bucket",
			want:  "No bucket defined for cos repository [backups]",
		},
		{
			name:  "bad compress",
			md:    metadata("backups", "bucket", "b", "compress", "maybe"),
			field: "repositories.backups.compress",
			want:  "compress must be true or false",
		},
		{
			name:  "unparseable chunk size",
			md:    metadata("backups", "bucket", "b", "chunk_size", "lots"),
			field: "repositories.backups.chunk_size",
			want:  "invalid chunk_size",
		},
		{
			name:  "chunk size too small",
			md:    metadata("backups", "bucket", "b", "chunk_size", "1mb"),
			field: "repositories.backups.chunk_size",
			want:  "out of range",
		},
		{
			name:  "just below the lower bound",
			md:    metadata("backups", "bucket", "b", "chunk_size", "5000000"),
			field: "repositories.backups.chunk_size",
			want:  "out of range",
		},
		{
			name:  "chunk size too large",
			md:    metadata("backups", "bucket", "b", "chunk_size", "6tb"),
			field: "repositories.backups.chunk_size",
			want:  "out of range",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseSettings(tt.md, logging.Discard())
			require.Error(t, err)

			var cfgErr dserrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseSettings_DeprecationsLoggedOnce(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithOutput(&buf, false, true)

	for i := 0; i < 3; i++ {
		_, err := ParseSettings(metadata("r", "bucket", "b", "app_id", "125", "base_path", "/p"), logger)
		require.NoError(t, err)
	}

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "app_id will not be supported"))
	assert.Equal(t, 1, strings.Count(out, "leading `/` will not be supported"))
}

type stubProvider struct {
	handle clientcache.Handle
	err    error
	calls  int
}

func (p *stubProvider) ResolveAndGetClient(ctx context.Context, md settings.RepositoryMetadata) (clientcache.Handle, error) {
	p.calls++
	return p.handle, p.err
}

func newFakeClient(t *testing.T, bucket string) (*cosclient.Client, *fakes.FakeS3Client) {
	t.Helper()
	api := fakes.NewFakeS3Client()
	api.AddBucket(bucket)
	return cosclient.NewWithAPI(clientcache.Key{Region: "ap-guangzhou"}, api), api
}

func TestRepository_BlobStoreUsesProvider(t *testing.T) {
	t.Parallel()

	client, api := newFakeClient(t, "snapshots-125")
	provider := &stubProvider{handle: client}

	repo, err := New(metadata("backups", "bucket", "snapshots", "app_id", "125", "base_path", "es"), provider, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "backups", repo.Name())
	assert.Equal(t, "snapshots-125", repo.Settings().Bucket)

	store, err := repo.BlobStore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "snapshots-125", store.Bucket())

	_, err = store.Write(context.Background(), "index-0", strings.NewReader("data"), 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"es/index-0"}, api.Keys("snapshots-125"))

	_, err = repo.BlobStore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestRepository_BlobStoreErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("resolution failed")
	repo, err := New(metadata("backups", "bucket", "b"), &stubProvider{err: boom}, nil)
	require.NoError(t, err)

	_, err = repo.BlobStore(context.Background())
	assert.ErrorIs(t, err, boom)

	repo, err = New(metadata("backups", "bucket", "b"), &stubProvider{handle: &fakes.FakeHandle{}}, nil)
	require.NoError(t, err)

	_, err = repo.BlobStore(context.Background())
	assert.ErrorContains(t, err, "does not support blob operations")
}

func TestBlobStore_SingleObjectRoundTrip(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t, "b")
	store := NewBlobStore(client, Settings{Bucket: "b", BasePath: "es/backups"})
	ctx := context.Background()

	assert.Equal(t, "es/backups/meta.dat", store.Key("meta.dat"))

	exists, err := store.Exists(ctx, "meta.dat")
	require.NoError(t, err)
	assert.False(t, exists)

	parts, err := store.Write(ctx, "meta.dat", strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, parts)

	exists, err = store.Exists(ctx, "meta.dat")
	require.NoError(t, err)
	assert.True(t, exists)

	r, err := store.Read(ctx, "meta.dat")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello", string(data))
}

func TestBlobStore_ChunkedRoundTrip(t *testing.T) {
	t.Parallel()

	client, api := newFakeClient(t, "b")
	store := NewBlobStore(client, Settings{Bucket: "b", BasePath: "es", ChunkSize: 4})
	ctx := context.Background()

	payload := "0123456789"
	parts, err := store.Write(ctx, "__blob", strings.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, 3, parts)
	assert.Equal(t, []string{"es/__blob.part0", "es/__blob.part1", "es/__blob.part2"}, api.Keys("b"))

	r := store.ReadParts(ctx, "__blob", parts)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, payload, string(data))

	_, err = store.Write(ctx, "__blobby", strings.NewReader("x"), 1)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "__blob"))
	assert.Equal(t, []string{"es/__blobby"}, api.Keys("b"))
}

func TestBlobStore_WriteRequiresSize(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t, "b")
	_, err := NewBlobStore(client, Settings{Bucket: "b"}).Write(context.Background(), "x", strings.NewReader("x"), -1)
	assert.Error(t, err)
}

func TestBlobStore_List(t *testing.T) {
	t.Parallel()

	client, _ := newFakeClient(t, "b")
	store := NewBlobStore(client, Settings{Bucket: "b", BasePath: "es"})
	ctx := context.Background()

	for name, body := range map[string]string{"indices/a": "aa", "indices/b": "b", "index-0": "xyz"} {
		_, err := store.Write(ctx, name, strings.NewReader(body), int64(len(body)))
		require.NoError(t, err)
	}

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"index-0", "indices/a", "indices/b"}, Names(all))
	assert.Equal(t, int64(3), all["index-0"])

	indices, err := store.List(ctx, "indices/")
	require.NoError(t, err)
	assert.Equal(t, []string{"indices/a", "indices/b"}, Names(indices))
}

func TestBlobStore_DeleteLeavesSiblingBlobs(t *testing.T) {
	t.Parallel()

	client, api := newFakeClient(t, "b")
	store := NewBlobStore(client, Settings{Bucket: "b", BasePath: "base", ChunkSize: 4})
	ctx := context.Background()

	for name, body := range map[string]string{
		"foo":         "0123456789",
		"foo.partial": "p",
		"foo.party":   "p",
		"foo.part1x":  "p",
		"foobar":      "p",
	} {
		_, err := store.Write(ctx, name, strings.NewReader(body), int64(len(body)))
		require.NoError(t, err)
	}
	_, err := store.Write(ctx, "foo", strings.NewReader("x"), 1)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "foo"))
	assert.Equal(t, []string{"base/foo.part1x", "base/foo.partial", "base/foo.party", "base/foobar"}, api.Keys("b"))
}

func TestBlobStore_ListKeepsDirectoryBoundary(t *testing.T) {
	t.Parallel()

	for _, basePath := range []string{"", "base"} {
		basePath := basePath
		t.Run("base_path="+basePath, func(t *testing.T) {
			t.Parallel()

			client, _ := newFakeClient(t, "b")
			store := NewBlobStore(client, Settings{Bucket: "b", BasePath: basePath})
			ctx := context.Background()

			for _, name := range []string{"indices/x", "indices-old/y", "index-0"} {
				_, err := store.Write(ctx, name, strings.NewReader("1"), 1)
				require.NoError(t, err)
			}

			dir, err := store.List(ctx, "indices/")
			require.NoError(t, err)
			assert.Equal(t, []string{"indices/x"}, Names(dir))

			prefixed, err := store.List(ctx, "indices")
			require.NoError(t, err)
			assert.Equal(t, []string{"indices-old/y", "indices/x"}, Names(prefixed))
		})
	}
}
