package provider

import (
	"context"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/cockroachdb/errors"

	"github.com/hubenschmidt/care-ai/gateway/internal/credentials"
)

// AWSConfig is shared by the Comprehend, Translate and Polly adapters.
type AWSConfig struct {
	Region     string // used when the credential carries no region
	HTTPClient *http.Client
}

// awsClients builds one service client per credential snapshot. A new
// credential (refresh or rotation) yields a new client; the old one is
// dropped.
type awsClients[T any] struct {
	cfg   AWSConfig
	build func(aws.Config) T

	mu     sync.Mutex
	cred   *credentials.Credential
	client T
}

func newAWSClients[T any](cfg AWSConfig, build func(aws.Config) T) *awsClients[T] {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &awsClients[T]{cfg: cfg, build: build}
}

func (c *awsClients[T]) get(ctx context.Context, cred *credentials.Credential) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred == cred {
		return c.client, nil
	}

	var zero T
	ak, sk := cred.Get("access_key_id"), cred.Get("secret_access_key")
	if ak == "" || sk == "" {
		return zero, errors.Mark(errors.New("aws: credential has no access key"), ErrAuth)
	}
	region := cred.Get("region")
	if region == "" {
		region = c.cfg.Region
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(ak, sk, cred.Get("session_token"))),
		awsconfig.WithRetryMaxAttempts(1),
	}
	if c.cfg.HTTPClient != nil {
		opts = append(opts, awsconfig.WithHTTPClient(c.cfg.HTTPClient))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return zero, Transient(err, "load aws config")
	}
	c.client = c.build(awsCfg)
	c.cred = cred
	return c.client, nil
}
