package kek

import (
	"context"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAzureKeyVaultClient struct {
	resp azsecrets.GetSecretResponse
	err  error
}

func (f *fakeAzureKeyVaultClient) GetSecret(_ context.Context, _, _ string, _ *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	return f.resp, f.err
}

func TestAzureKeyVaultProviderFetch(t *testing.T) {
	value := validKEK()
	fake := &fakeAzureKeyVaultClient{resp: azsecrets.GetSecretResponse{Secret: azsecrets.Secret{Value: &value}}}

	p, err := NewAzureKeyVaultProvider("https://ironseal.vault.azure.net", "kek", WithAzureClient(fake))
	require.NoError(t, err)
	assert.Equal(t, "azure-keyvault:https://ironseal.vault.azure.net/kek", p.Name())

	got, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, KeyLength)
}

func TestAzureKeyVaultProviderPropagatesError(t *testing.T) {
	fake := &fakeAzureKeyVaultClient{err: errors.New("forbidden")}
	p, err := NewAzureKeyVaultProvider("https://ironseal.vault.azure.net", "kek", WithAzureClient(fake))
	require.NoError(t, err)

	_, err = p.Fetch(context.Background())
	require.Error(t, err)
}

func TestAzureKeyVaultProviderNoValue(t *testing.T) {
	fake := &fakeAzureKeyVaultClient{resp: azsecrets.GetSecretResponse{}}
	p, err := NewAzureKeyVaultProvider("https://ironseal.vault.azure.net", "kek", WithAzureClient(fake))
	require.NoError(t, err)

	_, err = p.Fetch(context.Background())
	require.Error(t, err)
}
