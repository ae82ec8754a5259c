package kek

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// AzureKeyVaultClientAPI is the subset of the Azure Key Vault secrets
// client this provider needs, kept as an interface so tests can inject a
// fake.
type AzureKeyVaultClientAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// AzureKeyVaultProvider fetches the KEK from a named Azure Key Vault secret.
type AzureKeyVaultProvider struct {
	VaultURL   string
	SecretName string
	client     AzureKeyVaultClientAPI
}

// AzureOption configures an Azure-backed KEK provider.
type AzureOption func(*AzureKeyVaultProvider)

// WithAzureClient injects a client; used by tests.
func WithAzureClient(c AzureKeyVaultClientAPI) AzureOption {
	return func(p *AzureKeyVaultProvider) { p.client = c }
}

// NewAzureKeyVaultProvider returns a provider reading secretName from the
// vault at vaultURL, authenticating via the default Azure credential chain
// (managed identity, environment, CLI) unless a client is injected.
func NewAzureKeyVaultProvider(vaultURL, secretName string, opts ...AzureOption) (*AzureKeyVaultProvider, error) {
	p := &AzureKeyVaultProvider{VaultURL: vaultURL, SecretName: secretName}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("azure-keyvault-kek: creating default credential: %w", err)
		}
		client, err := azsecrets.NewClient(vaultURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("azure-keyvault-kek: creating client: %w", err)
		}
		p.client = client
	}
	return p, nil
}

func (p *AzureKeyVaultProvider) Name() string {
	return "azure-keyvault:" + p.VaultURL + "/" + p.SecretName
}

func (p *AzureKeyVaultProvider) Fetch(ctx context.Context) ([]byte, error) {
	resp, err := p.client.GetSecret(ctx, p.SecretName, "", nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	if resp.Value == nil {
		return nil, fmt.Errorf("%s: secret has no value", p.Name())
	}
	return decodeAndValidate(p.Name(), *resp.Value)
}
