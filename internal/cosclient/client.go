// Package cosclient builds COS clients over the S3-compatible API.
package cosclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/systmms/cosrepo/internal/clientcache"
	"github.com/systmms/cosrepo/internal/logging"
)

// DefaultHTTPTimeout bounds a single HTTP exchange with COS.
const DefaultHTTPTimeout = 60 * time.Second

var (
	// ErrNotFound is returned when a bucket or object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrShutdown is returned by operations on a client that was shut down.
	ErrShutdown = errors.New("cos client is shut down")
)

// S3API is the subset of the S3 client used by Client.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Client is a live connection to COS for one set of effective settings.
// It implements clientcache.Handle.
type Client struct {
	key      clientcache.Key
	endpoint string
	api      S3API
	idle     func()

	down         atomic.Bool
	shutdownOnce sync.Once
}

// NewWithAPI wraps an existing S3 API. It is used with fakes in tests.
func NewWithAPI(key clientcache.Key, api S3API) *Client {
	endpoint, _ := Endpoint(key.Region, key.Endpoint)
	return &Client{key: key, endpoint: endpoint, api: api}
}

// Key returns the settings the client was built from.
func (c *Client) Key() clientcache.Key {
	return c.key
}

// Endpoint returns the base URL requests are sent to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Shutdown releases idle connections. It is safe to call more than once.
func (c *Client) Shutdown() error {
	c.shutdownOnce.Do(func() {
		c.down.Store(true)
		if c.idle != nil {
			c.idle()
		}
	})
	return nil
}

// IsShutdown reports whether Shutdown was called.
func (c *Client) IsShutdown() bool {
	return c.down.Load()
}

func (c *Client) check() error {
	if c.down.Load() {
		return ErrShutdown
	}
	return nil
}

// HeadBucket checks that the bucket exists and is reachable with these credentials.
func (c *Client) HeadBucket(ctx context.Context, bucket string) error {
	if err := c.check(); err != nil {
		return err
	}
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return wrap(err, "failed to access bucket %s", bucket)
	}
	return nil
}

// PutObject uploads body under key.
func (c *Client) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	if err := c.check(); err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := c.api.PutObject(ctx, input); err != nil {
		return wrap(err, "failed to put object %s to bucket %s", key, bucket)
	}
	return nil
}

// GetObject opens the object for reading. The caller closes the reader.
func (c *Client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrap(err, "failed to get object %s from bucket %s", key, bucket)
	}
	return out.Body, nil
}

// HeadObject returns the object size.
func (c *Client) HeadObject(ctx context.Context, bucket, key string) (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, wrap(err, "failed to head object %s in bucket %s", key, bucket)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// DeleteObject removes the object. Removing a missing object is not an error.
func (c *Client) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := c.check(); err != nil {
		return err
	}
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return wrap(err, "failed to delete object %s from bucket %s", key, bucket)
	}
	return nil
}

// ListObjects lists every object under prefix.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	var objects []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrap(err, "failed to list objects with prefix %s in bucket %s", prefix, bucket)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			objects = append(objects, ObjectInfo{Key: *obj.Key, Size: aws.ToInt64(obj.Size)})
		}
	}
	return objects, nil
}

// wrap adds context to err and marks missing buckets and objects with ErrNotFound.
func wrap(err error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if isNotFound(err) {
		return fmt.Errorf("%s: %w: %w", msg, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isNotFound(err error) bool {
	var (
		noBucket *types.NoSuchBucket
		noKey    *types.NoSuchKey
		notFound *types.NotFound
	)
	if errors.As(err, &noBucket) || errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

// Endpoint returns the base URL for a region, honouring an end_point override.
// An override without a scheme is served over https.
func Endpoint(region, override string) (string, error) {
	if override == "" {
		if region == "" {
			return "", fmt.Errorf("no region to derive the default endpoint from")
		}
		return "https://cos." + region + ".myqcloud.com", nil
	}

	raw := override
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid end_point %q: %w", override, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid end_point %q: unsupported scheme %q", override, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid end_point %q: missing host", override)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// APIConstructor builds the S3 API for a client. The default builds a real
// *s3.Client.
type APIConstructor func(key clientcache.Key, endpoint string, httpClient *http.Client) S3API

// FactoryOption configures NewFactory.
type FactoryOption func(*factory)

type factory struct {
	timeout   time.Duration
	logger    *logging.Logger
	newAPI    APIConstructor
	pathStyle bool
}

// WithHTTPTimeout sets the per-request timeout of built clients.
func WithHTTPTimeout(d time.Duration) FactoryOption {
	return func(f *factory) { f.timeout = d }
}

// WithLogger sets the logger for construction events.
func WithLogger(l *logging.Logger) FactoryOption {
	return func(f *factory) { f.logger = l }
}

// WithAPIConstructor replaces the S3 client constructor (for testing).
func WithAPIConstructor(c APIConstructor) FactoryOption {
	return func(f *factory) { f.newAPI = c }
}

// WithPathStyle addresses buckets as a path component instead of a subdomain.
// Custom endpoints that do not serve virtual-hosted buckets need it.
func WithPathStyle(enabled bool) FactoryOption {
	return func(f *factory) { f.pathStyle = enabled }
}

// NewFactory returns a clientcache.Factory building one Client per key. Every
// client owns its HTTP transport so shutting one down leaves the others intact.
func NewFactory(opts ...FactoryOption) clientcache.Factory {
	f := &factory{
		timeout: DefaultHTTPTimeout,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.newAPI == nil {
		f.newAPI = f.newS3Client
	}
	return f.build
}

func (f *factory) build(ctx context.Context, key clientcache.Key) (clientcache.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key.AccessKeyID == "" || key.AccessKeySecret == "" {
		return nil, fmt.Errorf("credentials are incomplete")
	}
	endpoint, err := Endpoint(key.Region, key.Endpoint)
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	httpClient := &http.Client{Transport: transport, Timeout: f.timeout}

	f.logger.Debug("Building COS client for region %s at %s", key.Region, endpoint)
	return &Client{
		key:      key,
		endpoint: endpoint,
		api:      f.newAPI(key, endpoint, httpClient),
		idle:     transport.CloseIdleConnections,
	}, nil
}

func (f *factory) newS3Client(key clientcache.Key, endpoint string, httpClient *http.Client) S3API {
	cfg := aws.Config{
		Region:                     key.Region,
		Credentials:                credentials.NewStaticCredentialsProvider(key.AccessKeyID, key.AccessKeySecret, ""),
		HTTPClient:                 httpClient,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = f.pathStyle
	})
}
