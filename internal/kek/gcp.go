package kek

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// GCPSecretManagerClientAPI is the subset of the GCP Secret Manager client
// this provider needs, kept as an interface so tests can inject a fake.
type GCPSecretManagerClientAPI interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...any) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// gcpClientAdapter adapts the concrete *secretmanager.Client (whose
// AccessSecretVersion takes ...gax.CallOption) to GCPSecretManagerClientAPI.
type gcpClientAdapter struct {
	client *secretmanager.Client
}

func (a *gcpClientAdapter) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...any) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return a.client.AccessSecretVersion(ctx, req)
}

// GCPSecretManagerProvider fetches the KEK from a GCP Secret Manager secret
// version, addressed by its full resource name
// (projects/*/secrets/*/versions/*).
type GCPSecretManagerProvider struct {
	SecretVersionName string
	client            GCPSecretManagerClientAPI
}

// GCPOption configures a GCP-backed KEK provider.
type GCPOption func(*GCPSecretManagerProvider)

// WithGCPClient injects a client; used by tests.
func WithGCPClient(c GCPSecretManagerClientAPI) GCPOption {
	return func(p *GCPSecretManagerProvider) { p.client = c }
}

// NewGCPSecretManagerProvider returns a provider reading secretVersionName
// (e.g. "projects/my-proj/secrets/ironseal-kek/versions/latest").
func NewGCPSecretManagerProvider(ctx context.Context, secretVersionName string, opts ...GCPOption) (*GCPSecretManagerProvider, error) {
	p := &GCPSecretManagerProvider{SecretVersionName: secretVersionName}
	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		client, err := secretmanager.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcp-secretmanager-kek: creating client: %w", err)
		}
		p.client = &gcpClientAdapter{client: client}
	}
	return p, nil
}

func (p *GCPSecretManagerProvider) Name() string {
	return "gcp-secretmanager:" + p.SecretVersionName
}

func (p *GCPSecretManagerProvider) Fetch(ctx context.Context) ([]byte, error) {
	resp, err := p.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: p.SecretVersionName,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name(), err)
	}
	if resp.Payload == nil {
		return nil, fmt.Errorf("%s: secret version has no payload", p.Name())
	}
	return decodeAndValidate(p.Name(), string(resp.Payload.Data))
}
