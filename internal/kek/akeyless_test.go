package kek

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAkeylessClient struct {
	token     string
	authErr   error
	values    map[string]string
	valuesErr error
}

func (f *fakeAkeylessClient) Authenticate(_ context.Context, _, _ string) (string, error) {
	return f.token, f.authErr
}

func (f *fakeAkeylessClient) GetSecretValue(_ context.Context, _, path string) (string, error) {
	if f.valuesErr != nil {
		return "", f.valuesErr
	}
	v, ok := f.values[path]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestAkeylessProviderFetch(t *testing.T) {
	value := validKEK()
	fake := &fakeAkeylessClient{token: "t-123", values: map[string]string{"/ironseal/kek": value}}

	p := NewAkeylessProvider("https://gw.example.com:8080", "acc-id", "acc-key", "/ironseal/kek", WithAkeylessClient(fake))
	assert.Equal(t, "akeyless:/ironseal/kek", p.Name())

	got, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, KeyLength)
}

func TestAkeylessProviderAuthFailure(t *testing.T) {
	fake := &fakeAkeylessClient{authErr: errors.New("invalid credentials")}
	p := NewAkeylessProvider("https://gw.example.com:8080", "acc-id", "acc-key", "/ironseal/kek", WithAkeylessClient(fake))

	_, err := p.Fetch(context.Background())
	require.Error(t, err)
}

func TestAkeylessProviderSecretNotFound(t *testing.T) {
	fake := &fakeAkeylessClient{token: "t-123", values: map[string]string{}}
	p := NewAkeylessProvider("https://gw.example.com:8080", "acc-id", "acc-key", "/missing", WithAkeylessClient(fake))

	_, err := p.Fetch(context.Background())
	require.Error(t, err)
}
