package fakes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
)

// FakeSecretsManagerClient is a mock implementation of the Secrets Manager API
type FakeSecretsManagerClient struct {
	// Secrets maps secret names to their string value
	Secrets map[string]string
	// Errors maps secret names to errors to return
	Errors map[string]error
	// GetSecretValueFunc allows custom behavior for GetSecretValue
	GetSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)

	mu    sync.Mutex
	Calls int
}

// NewFakeSecretsManagerClient creates a new mock Secrets Manager client
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets: make(map[string]string),
		Errors:  make(map[string]error),
	}
}

// AddSecretString adds a string secret to the mock client
func (f *FakeSecretsManagerClient) AddSecretString(name, value string) {
	f.Secrets[name] = value
}

// AddError configures the mock to return an error for a specific secret
func (f *FakeSecretsManagerClient) AddError(name string, err error) {
	f.Errors[name] = err
}

// GetSecretValue mocks the GetSecretValue operation
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	f.Calls++
	f.mu.Unlock()

	if f.GetSecretValueFunc != nil {
		return f.GetSecretValueFunc(ctx, params)
	}

	secretName := aws.ToString(params.SecretId)

	if err, exists := f.Errors[secretName]; exists {
		return nil, err
	}

	value, exists := f.Secrets[secretName]
	if !exists {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", secretName)),
		}
	}

	now := time.Now()
	return &secretsmanager.GetSecretValueOutput{
		ARN:           aws.String(fmt.Sprintf("arn:aws:secretsmanager:us-east-1:123456789012:secret:%s", secretName)),
		Name:          params.SecretId,
		SecretString:  aws.String(value),
		VersionId:     aws.String("v1-abc123"),
		VersionStages: []string{"AWSCURRENT"},
		CreatedDate:   &now,
	}, nil
}

// FakeSSMClient is a mock implementation of the SSM Parameter Store API
type FakeSSMClient struct {
	// Parameters maps full parameter names to values
	Parameters map[string]string
	// PageSize limits parameters per page so pagination is exercised
	PageSize int
	// Err is returned from every call when set
	Err error
	// GetParametersByPathFunc allows custom behavior for GetParametersByPath
	GetParametersByPathFunc func(ctx context.Context, params *ssm.GetParametersByPathInput) (*ssm.GetParametersByPathOutput, error)

	mu    sync.Mutex
	Pages int
}

// NewFakeSSMClient creates a new mock SSM client
func NewFakeSSMClient() *FakeSSMClient {
	return &FakeSSMClient{
		Parameters: make(map[string]string),
		PageSize:   10,
	}
}

// AddSecureStringParameter adds a parameter to the mock client
func (f *FakeSSMClient) AddSecureStringParameter(name, value string) {
	f.Parameters[name] = value
}

// GetParametersByPath mocks the GetParametersByPath operation. NextToken is
// the decimal offset of the next page.
func (f *FakeSSMClient) GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	f.mu.Lock()
	f.Pages++
	f.mu.Unlock()

	if f.GetParametersByPathFunc != nil {
		return f.GetParametersByPathFunc(ctx, params)
	}
	if f.Err != nil {
		return nil, f.Err
	}

	prefix := strings.TrimRight(aws.ToString(params.Path), "/") + "/"
	recursive := aws.ToBool(params.Recursive)

	var names []string
	for name := range f.Parameters {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if !recursive && strings.Contains(strings.TrimPrefix(name, prefix), "/") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	offset := 0
	if token := aws.ToString(params.NextToken); token != "" {
		n, err := strconv.Atoi(token)
		if err != nil {
			return nil, &ssmtypes.InvalidNextToken{Message: aws.String("invalid token " + token)}
		}
		offset = n
	}

	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = len(names) + 1
	}
	end := offset + pageSize
	if end > len(names) {
		end = len(names)
	}

	out := &ssm.GetParametersByPathOutput{}
	for _, name := range names[offset:end] {
		out.Parameters = append(out.Parameters, ssmtypes.Parameter{
			Name:  aws.String(name),
			Value: aws.String(f.Parameters[name]),
			Type:  ssmtypes.ParameterTypeSecureString,
		})
	}
	if end < len(names) {
		out.NextToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

// FakeS3Client is an in-memory implementation of the S3 object API
type FakeS3Client struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte

	// HeadBucketFunc allows custom behavior for HeadBucket
	HeadBucketFunc func(ctx context.Context, params *s3.HeadBucketInput) (*s3.HeadBucketOutput, error)
}

// NewFakeS3Client creates an empty in-memory S3 client
func NewFakeS3Client() *FakeS3Client {
	return &FakeS3Client{buckets: make(map[string]map[string][]byte)}
}

// AddBucket creates an empty bucket
func (f *FakeS3Client) AddBucket(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[name]; !ok {
		f.buckets[name] = make(map[string][]byte)
	}
}

// Keys returns every object key in bucket, sorted
func (f *FakeS3Client) Keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.buckets[bucket]))
	for k := range f.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func notFound(code, msg string) error {
	return &smithy.GenericAPIError{Code: code, Message: msg}
}

func (f *FakeS3Client) bucket(name string) (map[string][]byte, error) {
	b, ok := f.buckets[name]
	if !ok {
		return nil, &s3types.NoSuchBucket{Message: aws.String("The specified bucket does not exist: " + name)}
	}
	return b, nil
}

// HeadBucket mocks the HeadBucket operation
func (f *FakeS3Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.HeadBucketFunc != nil {
		return f.HeadBucketFunc(ctx, params)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[aws.ToString(params.Bucket)]; !ok {
		return nil, notFound("NotFound", "Not Found")
	}
	return &s3.HeadBucketOutput{}, nil
}

// PutObject mocks the PutObject operation
func (f *FakeS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	b[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{ETag: aws.String(fmt.Sprintf("%q", strconv.Itoa(len(data))))}, nil
}

// GetObject mocks the GetObject operation
func (f *FakeS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	data, ok := b[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

// HeadObject mocks the HeadObject operation
func (f *FakeS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	data, ok := b[aws.ToString(params.Key)]
	if !ok {
		return nil, notFound("NotFound", "Not Found")
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

// DeleteObject mocks the DeleteObject operation. Deleting a missing key succeeds.
func (f *FakeS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}
	delete(b, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 mocks the ListObjectsV2 operation. Results are a single page.
func (f *FakeS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.bucket(aws.ToString(params.Bucket))
	if err != nil {
		return nil, err
	}

	prefix := aws.ToString(params.Prefix)
	var keys []string
	for k := range b {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{KeyCount: aws.Int32(int32(len(keys)))}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(b[k]))),
		})
	}
	return out, nil
}
