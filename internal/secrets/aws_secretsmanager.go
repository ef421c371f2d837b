package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerClientAPI is the subset of the Secrets Manager client used here.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource reads all account credentials from one JSON secret:
//
//	{"prod": {"secret_id": "AKID...", "secret_key": "..."}, "dev": {...}}
type SecretsManagerSource struct {
	name     string
	secretID string
	client   SecretsManagerClientAPI
}

// SecretsManagerOption is a functional option for the Secrets Manager source
type SecretsManagerOption func(*SecretsManagerSource)

// WithSecretsManagerClient sets a custom client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) SecretsManagerOption {
	return func(s *SecretsManagerSource) {
		s.client = client
	}
}

// NewSecretsManagerSourceFactory creates a Secrets Manager source from configuration
func NewSecretsManagerSourceFactory(name string, config map[string]interface{}) (Source, error) {
	return NewSecretsManagerSource(name, config)
}

// NewSecretsManagerSource creates a source reading config["secret_id"].
func NewSecretsManagerSource(name string, config map[string]interface{}, opts ...SecretsManagerOption) (*SecretsManagerSource, error) {
	secretID := configString(config, "secret_id")
	if secretID == "" {
		return nil, fmt.Errorf("missing required 'secret_id' field for aws.secretsmanager source")
	}

	s := &SecretsManagerSource{
		name:     name,
		secretID: secretID,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		cfg, err := loadAWSConfig(config)
		if err != nil {
			return nil, err
		}

		var clientOpts []func(*secretsmanager.Options)
		if endpoint := configString(config, "endpoint"); endpoint != "" {
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			})
		}
		s.client = secretsmanager.NewFromConfig(cfg, clientOpts...)
	}

	return s, nil
}

// Name returns the source name
func (s *SecretsManagerSource) Name() string {
	return s.name
}

type accountDocument struct {
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
}

// Load fetches and decodes the secret.
func (s *SecretsManagerSource) Load(ctx context.Context) (map[string]Entry, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("secret %s not found: %w", s.secretID, err)
		}
		return nil, fmt.Errorf("failed to read secret %s: %w", s.secretID, err)
	}

	var raw []byte
	switch {
	case result.SecretString != nil:
		raw = []byte(*result.SecretString)
	case result.SecretBinary != nil:
		raw = result.SecretBinary
	default:
		return nil, fmt.Errorf("secret %s has no value", s.secretID)
	}

	var doc map[string]accountDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object of accounts: %w", s.secretID, err)
	}

	out := make(map[string]Entry, len(doc))
	for account, d := range doc {
		out[account] = Entry{Account: account, SecretID: d.SecretID, SecretKey: d.SecretKey}
	}
	return out, nil
}

// loadAWSConfig builds an aws.Config from the common region/profile/static
// credential options shared by the AWS sources.
func loadAWSConfig(config map[string]interface{}) (aws.Config, error) {
	var configOpts []func(*awsconfig.LoadOptions) error

	if region := configString(config, "region"); region != "" {
		configOpts = append(configOpts, awsconfig.WithRegion(region))
	}
	if profile := configString(config, "profile"); profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(profile))
	}

	// Static credentials are meant for LocalStack and tests.
	accessKeyID := configString(config, "access_key_id")
	secretAccessKey := configString(config, "secret_access_key")
	if accessKeyID != "" && secretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}
