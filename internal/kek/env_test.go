package kek

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvProviderFetch(t *testing.T) {
	key := make([]byte, KeyLength)
	for i := range key {
		key[i] = byte(i)
	}
	encoded := base64.StdEncoding.EncodeToString(key)

	t.Setenv("IRONSEAL_KEK_TEST", encoded)

	p := NewEnvProvider("IRONSEAL_KEK_TEST")
	assert.Equal(t, "env:IRONSEAL_KEK_TEST", p.Name())

	got, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestEnvProviderDefaultsVarName(t *testing.T) {
	p := NewEnvProvider("")
	assert.Equal(t, DefaultEnvVar, p.Var)
}

func TestEnvProviderMissingVar(t *testing.T) {
	p := NewEnvProvider("IRONSEAL_KEK_DOES_NOT_EXIST")
	_, err := p.Fetch(context.Background())
	require.Error(t, err)
}

func TestEnvProviderWrongLength(t *testing.T) {
	t.Setenv("IRONSEAL_KEK_SHORT", base64.StdEncoding.EncodeToString([]byte("too-short")))
	p := NewEnvProvider("IRONSEAL_KEK_SHORT")
	_, err := p.Fetch(context.Background())
	require.Error(t, err)
	var lenErr *ErrInvalidLength
	assert.ErrorAs(t, err, &lenErr)
}
