package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/systmms/cosrepo/internal/clientcache"
	"github.com/systmms/cosrepo/internal/cosclient"
	"github.com/systmms/cosrepo/internal/logging"
	"github.com/systmms/cosrepo/internal/settings"
)

// partSuffix separates a blob name from its chunk number.
const partSuffix = ".part"

// ClientProvider hands out the shared client for a repository.
type ClientProvider interface {
	ResolveAndGetClient(ctx context.Context, md settings.RepositoryMetadata) (clientcache.Handle, error)
}

// BlobClient is the set of object operations a repository needs.
type BlobClient interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	HeadObject(ctx context.Context, bucket, key string) (int64, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	ListObjects(ctx context.Context, bucket, prefix string) ([]cosclient.ObjectInfo, error)
}

// Repository is one configured snapshot repository.
type Repository struct {
	md       settings.RepositoryMetadata
	settings Settings
	provider ClientProvider
	logger   *logging.Logger
}

// New parses md and binds it to provider.
func New(md settings.RepositoryMetadata, provider ClientProvider, logger *logging.Logger) (*Repository, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("repository", md.Name)

	s, err := ParseSettings(md, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("Using %s", s)

	return &Repository{md: md, settings: s, provider: provider, logger: logger}, nil
}

// Name returns the repository name.
func (r *Repository) Name() string { return r.md.Name }

// Settings returns the parsed repository settings.
func (r *Repository) Settings() Settings { return r.settings }

// Metadata returns the repository metadata the repository was built from.
func (r *Repository) Metadata() settings.RepositoryMetadata { return r.md }

// BlobStore returns a store backed by the repository's current client. The
// client is looked up on every call so refreshed credentials take effect.
func (r *Repository) BlobStore(ctx context.Context) (*BlobStore, error) {
	h, err := r.provider.ResolveAndGetClient(ctx, r.md)
	if err != nil {
		return nil, err
	}
	client, ok := h.(BlobClient)
	if !ok {
		return nil, fmt.Errorf("client for repository %s does not support blob operations", r.md.Name)
	}
	return NewBlobStore(client, r.settings), nil
}

// BlobStore addresses blobs relative to the repository base path.
type BlobStore struct {
	client    BlobClient
	bucket    string
	basePath  string
	chunkSize uint64
}

// NewBlobStore creates a blob store for s over client.
func NewBlobStore(client BlobClient, s Settings) *BlobStore {
	chunk := s.ChunkSize
	if chunk == 0 {
		chunk = DefaultChunkSize
	}
	return &BlobStore{client: client, bucket: s.Bucket, basePath: s.BasePath, chunkSize: chunk}
}

// Bucket returns the bucket the store writes to.
func (b *BlobStore) Bucket() string { return b.bucket }

// Key returns the object key for a blob name. The name is appended to the
// base path as is, so a trailing "/" survives.
func (b *BlobStore) Key(name string) string {
	if b.basePath == "" {
		return name
	}
	return b.basePath + "/" + name
}

// Write stores a blob of known size. Blobs larger than the chunk size are
// split into name.part0, name.part1, ... and the number of parts is returned.
func (b *BlobStore) Write(ctx context.Context, name string, r io.Reader, size int64) (int, error) {
	if size < 0 {
		return 0, fmt.Errorf("blob %s: size must be known", name)
	}
	if uint64(size) <= b.chunkSize {
		return 1, b.client.PutObject(ctx, b.bucket, b.Key(name), r, size)
	}

	parts := 0
	for remaining := size; remaining > 0; parts++ {
		n := int64(b.chunkSize)
		if remaining < n {
			n = remaining
		}
		if err := b.client.PutObject(ctx, b.bucket, b.Key(partName(name, parts)), io.LimitReader(r, n), n); err != nil {
			return parts, err
		}
		remaining -= n
	}
	return parts, nil
}

// Read opens a blob written as a single object.
func (b *BlobStore) Read(ctx context.Context, name string) (io.ReadCloser, error) {
	return b.client.GetObject(ctx, b.bucket, b.Key(name))
}

// ReadParts opens a blob written in parts, streaming them in order.
func (b *BlobStore) ReadParts(ctx context.Context, name string, parts int) io.ReadCloser {
	return &partReader{ctx: ctx, store: b, name: name, parts: parts}
}

// Exists reports whether a single-object blob exists.
func (b *BlobStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := b.client.HeadObject(ctx, b.bucket, b.Key(name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, cosclient.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Delete removes a blob and any parts it was split into.
func (b *BlobStore) Delete(ctx context.Context, name string) error {
	objects, err := b.client.ListObjects(ctx, b.bucket, b.Key(name))
	if err != nil {
		return err
	}
	key := b.Key(name)
	for _, obj := range objects {
		if obj.Key != key && !isPartOf(obj.Key, key) {
			continue
		}
		if err := b.client.DeleteObject(ctx, b.bucket, obj.Key); err != nil {
			return err
		}
	}
	return nil
}

// List returns blob sizes below prefix, keyed by name relative to the base path.
func (b *BlobStore) List(ctx context.Context, prefix string) (map[string]int64, error) {
	objects, err := b.client.ListObjects(ctx, b.bucket, b.Key(prefix))
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(objects))
	for _, obj := range objects {
		name := obj.Key
		if b.basePath != "" {
			name = strings.TrimPrefix(name, b.basePath+"/")
		}
		out[name] = obj.Size
	}
	return out, nil
}

// Names returns the sorted keys of a List result.
func Names(blobs map[string]int64) []string {
	names := make([]string, 0, len(blobs))
	for name := range blobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func partName(name string, part int) string {
	return fmt.Sprintf("%s%s%d", name, partSuffix, part)
}

// isPartOf reports whether objectKey is key.partN for a chunk number N.
func isPartOf(objectKey, key string) bool {
	n, ok := strings.CutPrefix(objectKey, key+partSuffix)
	if !ok || n == "" || strings.TrimLeft(n, "0123456789") != "" {
		return false
	}
	_, err := strconv.Atoi(n)
	return err == nil
}

type partReader struct {
	ctx   context.Context
	store *BlobStore
	name  string
	parts int

	next    int
	current io.ReadCloser
}

func (p *partReader) Read(buf []byte) (int, error) {
	for {
		if p.current == nil {
			if p.next >= p.parts {
				return 0, io.EOF
			}
			rc, err := p.store.client.GetObject(p.ctx, p.store.bucket, p.store.Key(partName(p.name, p.next)))
			if err != nil {
				return 0, err
			}
			p.current = rc
			p.next++
		}

		n, err := p.current.Read(buf)
		if err == io.EOF {
			closeErr := p.current.Close()
			p.current = nil
			if closeErr != nil {
				return n, closeErr
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (p *partReader) Close() error {
	if p.current == nil {
		return nil
	}
	err := p.current.Close()
	p.current = nil
	return err
}
