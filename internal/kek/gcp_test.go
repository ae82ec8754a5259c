package kek

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGCPSecretManagerClient struct {
	resp *secretmanagerpb.AccessSecretVersionResponse
	err  error
}

func (f *fakeGCPSecretManagerClient) AccessSecretVersion(_ context.Context, _ *secretmanagerpb.AccessSecretVersionRequest, _ ...any) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return f.resp, f.err
}

func TestGCPSecretManagerProviderFetch(t *testing.T) {
	value := validKEK()
	fake := &fakeGCPSecretManagerClient{resp: &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}}

	name := "projects/ironseal/secrets/kek/versions/latest"
	p, err := NewGCPSecretManagerProvider(context.Background(), name, WithGCPClient(fake))
	require.NoError(t, err)
	assert.Equal(t, "gcp-secretmanager:"+name, p.Name())

	got, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, KeyLength)
}

func TestGCPSecretManagerProviderPropagatesError(t *testing.T) {
	fake := &fakeGCPSecretManagerClient{err: errors.New("permission denied")}
	p, err := NewGCPSecretManagerProvider(context.Background(), "projects/ironseal/secrets/kek/versions/latest", WithGCPClient(fake))
	require.NoError(t, err)

	_, err = p.Fetch(context.Background())
	require.Error(t, err)
}

func TestGCPSecretManagerProviderNoPayload(t *testing.T) {
	fake := &fakeGCPSecretManagerClient{resp: &secretmanagerpb.AccessSecretVersionResponse{}}
	p, err := NewGCPSecretManagerProvider(context.Background(), "projects/ironseal/secrets/kek/versions/latest", WithGCPClient(fake))
	require.NoError(t, err)

	_, err = p.Fetch(context.Background())
	require.Error(t, err)
}
