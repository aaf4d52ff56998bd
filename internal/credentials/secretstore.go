package credentials

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretStore returns the raw JSON blob stored under name.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) ([]byte, error)
}

type secretsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerStore reads secrets from AWS Secrets Manager.
type SecretsManagerStore struct {
	client secretsClient
}

// NewSecretsManagerStore loads the default AWS config for region.
// The gateway's own execution role is used here; provider credentials for
// the AWS AI services are resolved separately through the resolver.
func NewSecretsManagerStore(ctx context.Context, region string) (*SecretsManagerStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SecretsManagerStore{client: secretsmanager.NewFromConfig(cfg)}, nil
}

func newSecretsManagerStoreWithClient(client secretsClient) *SecretsManagerStore {
	return &SecretsManagerStore{client: client}
}

// GetSecret returns the SecretString of name, or SecretBinary when the
// secret was stored as binary.
func (s *SecretsManagerStore) GetSecret(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", name, err)
	}
	if out.SecretString != nil {
		return []byte(*out.SecretString), nil
	}
	if len(out.SecretBinary) > 0 {
		return out.SecretBinary, nil
	}
	return nil, fmt.Errorf("secret %s has no value", name)
}

// SecretName returns the environment-qualified name of a provider's secret.
func SecretName(product, env string, provider ProviderID) string {
	return fmt.Sprintf("%s/%s/%s-credentials", product, env, provider)
}
