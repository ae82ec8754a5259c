package kek

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validKEK() string {
	key := make([]byte, KeyLength)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return base64.StdEncoding.EncodeToString(key)
}

type fakeSecretsManagerClient struct {
	out *secretsmanager.GetSecretValueOutput
	err error
}

func (f *fakeSecretsManagerClient) GetSecretValue(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return f.out, f.err
}

func TestAWSSecretsManagerProviderFetch(t *testing.T) {
	value := validKEK()
	fake := &fakeSecretsManagerClient{out: &secretsmanager.GetSecretValueOutput{SecretString: &value}}

	p, err := NewAWSSecretsManagerProvider(context.Background(), "ironseal/kek", "us-east-1", WithSecretsManagerClient(fake))
	require.NoError(t, err)
	assert.Equal(t, "aws-secretsmanager:ironseal/kek", p.Name())

	got, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, KeyLength)
}

func TestAWSSecretsManagerProviderPropagatesError(t *testing.T) {
	fake := &fakeSecretsManagerClient{err: errors.New("access denied")}
	p, err := NewAWSSecretsManagerProvider(context.Background(), "ironseal/kek", "us-east-1", WithSecretsManagerClient(fake))
	require.NoError(t, err)

	_, err = p.Fetch(context.Background())
	require.Error(t, err)
}

func TestAWSSecretsManagerProviderNoStringValue(t *testing.T) {
	fake := &fakeSecretsManagerClient{out: &secretsmanager.GetSecretValueOutput{}}
	p, err := NewAWSSecretsManagerProvider(context.Background(), "ironseal/kek", "us-east-1", WithSecretsManagerClient(fake))
	require.NoError(t, err)

	_, err = p.Fetch(context.Background())
	require.Error(t, err)
}

type fakeSSMClient struct {
	out *ssm.GetParameterOutput
	err error
}

func (f *fakeSSMClient) GetParameter(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return f.out, f.err
}

func TestAWSSSMProviderFetch(t *testing.T) {
	value := validKEK()
	fake := &fakeSSMClient{out: &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: &value}}}

	p, err := NewAWSSSMProvider(context.Background(), "/ironseal/kek", "us-east-1", WithSSMClient(fake))
	require.NoError(t, err)
	assert.Equal(t, "aws-ssm:/ironseal/kek", p.Name())

	got, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, KeyLength)
}

func TestAWSSSMProviderMissingParameter(t *testing.T) {
	fake := &fakeSSMClient{out: &ssm.GetParameterOutput{}}
	p, err := NewAWSSSMProvider(context.Background(), "/ironseal/kek", "us-east-1", WithSSMClient(fake))
	require.NoError(t, err)

	_, err = p.Fetch(context.Background())
	require.Error(t, err)
}
