package kek

import (
	"context"
	"fmt"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// SecretsManagerClientAPI is the subset of the AWS Secrets Manager client
// this provider needs, kept small so tests can supply a fake.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManagerProvider fetches the KEK from a named AWS Secrets
// Manager secret.
type AWSSecretsManagerProvider struct {
	SecretID string
	Region   string
	client   SecretsManagerClientAPI
}

// AWSOption configures an AWS-backed KEK provider.
type AWSOption func(*AWSSecretsManagerProvider)

// WithSecretsManagerClient injects a client, bypassing live AWS config
// loading; used by tests.
func WithSecretsManagerClient(c SecretsManagerClientAPI) AWSOption {
	return func(p *AWSSecretsManagerProvider) { p.client = c }
}

// NewAWSSecretsManagerProvider returns a provider reading secretID from the
// given region's Secrets Manager.
func NewAWSSecretsManagerProvider(ctx context.Context, secretID, region string, opts ...AWSOption) (*AWSSecretsManagerProvider, error) {
	p := &AWSSecretsManagerProvider{SecretID: secretID, Region: region}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("aws-secretsmanager-kek: loading AWS config: %w", err)
		}
		p.client = secretsmanager.NewFromConfig(cfg)
	}
	return p, nil
}

func (p *AWSSecretsManagerProvider) Name() string { return "aws-secretsmanager:" + p.SecretID }

func (p *AWSSecretsManagerProvider) Fetch(ctx context.Context) ([]byte, error) {
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &p.SecretID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("%s: secret has no string value", p.Name())
	}
	return decodeAndValidate(p.Name(), *out.SecretString)
}

// SSMClientAPI is the subset of the AWS SSM client this provider needs.
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// AWSSSMProvider fetches the KEK from an SSM Parameter Store SecureString
// parameter.
type AWSSSMProvider struct {
	ParameterName string
	Region        string
	client        SSMClientAPI
}

// AWSSSMOption configures an SSM-backed KEK provider.
type AWSSSMOption func(*AWSSSMProvider)

// WithSSMClient injects a client; used by tests.
func WithSSMClient(c SSMClientAPI) AWSSSMOption {
	return func(p *AWSSSMProvider) { p.client = c }
}

// NewAWSSSMProvider returns a provider reading parameterName from SSM
// Parameter Store in the given region.
func NewAWSSSMProvider(ctx context.Context, parameterName, region string, opts ...AWSSSMOption) (*AWSSSMProvider, error) {
	p := &AWSSSMProvider{ParameterName: parameterName, Region: region}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("aws-ssm-kek: loading AWS config: %w", err)
		}
		p.client = ssm.NewFromConfig(cfg)
	}
	return p, nil
}

func (p *AWSSSMProvider) Name() string { return "aws-ssm:" + p.ParameterName }

func (p *AWSSSMProvider) Fetch(ctx context.Context) ([]byte, error) {
	withDecryption := true
	out, err := p.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &p.ParameterName,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, fmt.Errorf("%s: parameter has no value", p.Name())
	}
	return decodeAndValidate(p.Name(), *out.Parameter.Value)
}
