package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SSMClientAPI is the subset of the SSM client used here.
type SSMClientAPI interface {
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// SSMSource reads account credentials from Parameter Store. Parameters are
// laid out as <path>/<account>/secret_id and <path>/<account>/secret_key.
type SSMSource struct {
	name           string
	path           string
	withDecryption bool
	client         SSMClientAPI
}

// SSMOption is a functional option for the SSM source
type SSMOption func(*SSMSource)

// WithSSMClient sets a custom SSM client (for testing)
func WithSSMClient(client SSMClientAPI) SSMOption {
	return func(s *SSMSource) {
		s.client = client
	}
}

// NewSSMSourceFactory creates an SSM source from configuration
func NewSSMSourceFactory(name string, config map[string]interface{}) (Source, error) {
	return NewSSMSource(name, config)
}

// NewSSMSource creates a source reading everything below config["path"].
func NewSSMSource(name string, config map[string]interface{}, opts ...SSMOption) (*SSMSource, error) {
	path := strings.TrimRight(configString(config, "path"), "/")
	if path == "" || !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("aws.ssm source requires an absolute 'path', got %q", configString(config, "path"))
	}

	s := &SSMSource{
		name:           name,
		path:           path,
		withDecryption: true, // SecureString parameters are the norm here
	}
	if decrypt, ok := config["with_decryption"].(bool); ok {
		s.withDecryption = decrypt
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		cfg, err := loadAWSConfig(config)
		if err != nil {
			return nil, err
		}

		var clientOpts []func(*ssm.Options)
		if endpoint := configString(config, "endpoint"); endpoint != "" {
			clientOpts = append(clientOpts, func(o *ssm.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			})
		}
		s.client = ssm.NewFromConfig(cfg, clientOpts...)
	}

	return s, nil
}

// Name returns the source name
func (s *SSMSource) Name() string {
	return s.name
}

// Load walks every page under the configured path.
func (s *SSMSource) Load(ctx context.Context) (map[string]Entry, error) {
	out := make(map[string]Entry)

	paginator := ssm.NewGetParametersByPathPaginator(s.client, &ssm.GetParametersByPathInput{
		Path:           aws.String(s.path),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(s.withDecryption),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list parameters under %s: %w", s.path, err)
		}

		for _, p := range page.Parameters {
			account, field, ok := s.split(aws.ToString(p.Name))
			if !ok {
				continue
			}
			e := out[account]
			e.Account = account
			switch field {
			case KeySecretID:
				e.SecretID = aws.ToString(p.Value)
			case KeySecretKey:
				e.SecretKey = aws.ToString(p.Value)
			}
			out[account] = e
		}
	}

	for account, e := range out {
		if e.SecretID == "" || e.SecretKey == "" {
			return nil, fmt.Errorf("parameter path %s/%s holds an incomplete credential pair", s.path, account)
		}
	}
	return out, nil
}

// split maps "<path>/<account>/<field>" to its parts. Other names are ignored.
func (s *SSMSource) split(name string) (account, field string, ok bool) {
	rest, found := strings.CutPrefix(name, s.path+"/")
	if !found {
		return "", "", false
	}
	account, field, found = strings.Cut(rest, "/")
	if !found || account == "" || strings.Contains(field, "/") {
		return "", "", false
	}
	if field != KeySecretID && field != KeySecretKey {
		return "", "", false
	}
	return account, field, true
}
