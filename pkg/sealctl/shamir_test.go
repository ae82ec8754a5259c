package sealctl

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, MasterKeyLength)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	return secret
}

func TestSplitCombineRoundTrip(t *testing.T) {
	secret := randomSecret(t)

	shares, err := Split(secret, 5, 3)
	require.NoError(t, err)
	assert.Len(t, shares, 5)
	for i, s := range shares {
		assert.Len(t, s, ShareLength)
		assert.Equal(t, byte(i+1), s[0])
	}

	// every 3-of-5 subset reconstructs the secret
	subsets := [][]int{{0, 1, 2}, {0, 1, 3}, {0, 1, 4}, {0, 2, 3}, {0, 2, 4}, {0, 3, 4}, {1, 2, 3}, {1, 2, 4}, {1, 3, 4}, {2, 3, 4}}
	for _, idx := range subsets {
		subset := [][]byte{shares[idx[0]], shares[idx[1]], shares[idx[2]]}
		got, err := Combine(subset)
		require.NoError(t, err)
		assert.Equal(t, secret, got, "subset %v failed to reconstruct", idx)
	}
}

func TestCombineWithAllShares(t *testing.T) {
	secret := randomSecret(t)
	shares, err := Split(secret, 5, 3)
	require.NoError(t, err)

	got, err := Combine(shares)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestSplitRejectsInvalidParameters(t *testing.T) {
	secret := randomSecret(t)

	_, err := Split(secret, 5, 0)
	assert.Error(t, err)

	_, err = Split(secret, 0, 0)
	assert.Error(t, err)

	_, err = Split(secret, 5, 6)
	assert.Error(t, err)

	_, err = Split(secret, 256, 1)
	assert.Error(t, err)

	_, err = Split(secret[:10], 5, 3)
	assert.Error(t, err)
}

func TestCombineRejectsDuplicateXCoordinate(t *testing.T) {
	secret := randomSecret(t)
	shares, err := Split(secret, 5, 3)
	require.NoError(t, err)

	_, err = Combine([][]byte{shares[0], shares[0], shares[1]})
	assert.Error(t, err)
}

func TestCombineRejectsWrongLength(t *testing.T) {
	_, err := Combine([][]byte{{1, 2, 3}})
	assert.Error(t, err)
}

func TestCombineRejectsZeroXCoordinate(t *testing.T) {
	bad := make([]byte, ShareLength)
	_, err := Combine([][]byte{bad})
	assert.Error(t, err)
}

func TestFewerThanThresholdSharesDoNotReconstruct(t *testing.T) {
	secret := randomSecret(t)
	shares, err := Split(secret, 5, 3)
	require.NoError(t, err)

	got, err := Combine(shares[:2])
	require.NoError(t, err)
	assert.NotEqual(t, secret, got)
}
