package kek

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

type fakeKeyringClient struct {
	values map[string]string
}

func (f *fakeKeyringClient) Get(service, account string) (string, error) {
	v, ok := f.values[service+"/"+account]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return v, nil
}

func TestKeyringProviderFetch(t *testing.T) {
	value := validKEK()
	fake := &fakeKeyringClient{values: map[string]string{"ironseal/kek": value}}

	p := NewKeyringProvider("ironseal", "kek", WithKeyringClient(fake))
	assert.Equal(t, "keyring:ironseal/kek", p.Name())

	got, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, KeyLength)
}

func TestKeyringProviderNotFound(t *testing.T) {
	fake := &fakeKeyringClient{values: map[string]string{}}
	p := NewKeyringProvider("ironseal", "kek", WithKeyringClient(fake))

	_, err := p.Fetch(context.Background())
	require.Error(t, err)
}

func TestKeyringProviderOtherError(t *testing.T) {
	p := NewKeyringProvider("ironseal", "kek", WithKeyringClient(errorKeyringClient{}))
	_, err := p.Fetch(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, keyring.ErrNotFound)
}

type errorKeyringClient struct{}

func (errorKeyringClient) Get(_, _ string) (string, error) {
	return "", errors.New("keychain locked")
}
