package cryptosvc

import (
	"testing"

	ierrors "github.com/ironseal/ironseal/internal/errors"
	"github.com/ironseal/ironseal/internal/secure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsealedService(t *testing.T) *Service {
	t.Helper()
	cell := &secure.MasterKeyCell{}
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	cell.Install(key)
	return New(cell)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc := unsealedService(t)

	ciphertext, err := svc.Encrypt([]byte("top secret"), []byte("aad"))
	require.NoError(t, err)
	assert.NotEmpty(t, ciphertext)

	plaintext, err := svc.Decrypt(ciphertext, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, "top secret", string(plaintext))
}

func TestDecryptWrongAADFailsUniformly(t *testing.T) {
	svc := unsealedService(t)

	ciphertext, err := svc.Encrypt([]byte("top secret"), []byte("aad-a"))
	require.NoError(t, err)

	_, err = svc.Decrypt(ciphertext, []byte("aad-b"))
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.InvalidCiphertext))
}

func TestDecryptMalformedEnvelopeFailsUniformly(t *testing.T) {
	svc := unsealedService(t)

	_, err := svc.Decrypt("not-valid-base64!!!", nil)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.InvalidCiphertext))
}

func TestEncryptFailsWhenSealed(t *testing.T) {
	cell := &secure.MasterKeyCell{}
	svc := New(cell)

	_, err := svc.Encrypt([]byte("data"), nil)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.Sealed))
}

func TestDecryptFailsWhenSealed(t *testing.T) {
	cell := &secure.MasterKeyCell{}
	svc := New(cell)

	_, err := svc.Decrypt("AQIDBA==", nil)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.Sealed))
}
