package sealctl

import (
	"context"
	"encoding/base64"
	"testing"

	ierrors "github.com/ironseal/ironseal/internal/errors"
	"github.com/ironseal/ironseal/internal/kek"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memConfigStore struct {
	cfg *Config
}

func (m *memConfigStore) Load(_ context.Context) (*Config, error) {
	return m.cfg, nil
}

func (m *memConfigStore) Save(_ context.Context, cfg *Config) error {
	m.cfg = cfg
	return nil
}

func envKEK(t *testing.T, varName string) kek.Provider {
	t.Helper()
	key := make([]byte, kek.KeyLength)
	for i := range key {
		key[i] = byte(i + 7)
	}
	t.Setenv(varName, base64.StdEncoding.EncodeToString(key))
	return kek.NewEnvProvider(varName)
}

func newTestController(t *testing.T, envVar string) (*Controller, *memConfigStore) {
	t.Helper()
	store := &memConfigStore{}
	ctrl := NewController(store, envKEK(t, envVar), nil)
	require.NoError(t, ctrl.LoadState(context.Background()))
	return ctrl, store
}

func TestInitializeSealUnsealRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctrl, _ := newTestController(t, "IRONSEAL_KEK_CTRL_1")

	result, err := ctrl.Initialize(ctx, 5, 3)
	require.NoError(t, err)
	assert.Len(t, result.Shares, 5)
	assert.NotEmpty(t, result.RootToken)

	st := ctrl.Status()
	assert.True(t, st.Sealed)

	st, err = ctrl.Unseal(ctx, result.Shares[0])
	require.NoError(t, err)
	assert.True(t, st.Sealed)
	assert.Equal(t, 1, st.Progress)

	st, err = ctrl.Unseal(ctx, result.Shares[1])
	require.NoError(t, err)
	assert.True(t, st.Sealed)
	assert.Equal(t, 2, st.Progress)

	st, err = ctrl.Unseal(ctx, result.Shares[2])
	require.NoError(t, err)
	assert.False(t, st.Sealed)
	assert.True(t, ctrl.MasterKeyCell().Present())

	require.NoError(t, ctrl.Seal(ctx))
	assert.False(t, ctrl.MasterKeyCell().Present())

	// a different 3-of-5 subset also unseals
	st, err = ctrl.Unseal(ctx, result.Shares[0])
	require.NoError(t, err)
	st, err = ctrl.Unseal(ctx, result.Shares[2])
	require.NoError(t, err)
	st, err = ctrl.Unseal(ctx, result.Shares[4])
	require.NoError(t, err)
	assert.False(t, st.Sealed)
}

func TestUnsealRejectsDuplicateShare(t *testing.T) {
	ctx := context.Background()
	ctrl, _ := newTestController(t, "IRONSEAL_KEK_CTRL_2")

	result, err := ctrl.Initialize(ctx, 5, 3)
	require.NoError(t, err)

	_, err = ctrl.Unseal(ctx, result.Shares[0])
	require.NoError(t, err)
	_, err = ctrl.Unseal(ctx, result.Shares[1])
	require.NoError(t, err)
	_, err = ctrl.Unseal(ctx, result.Shares[0])
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.InvalidShare))
}

func TestUnsealRejectsWrongLengthShare(t *testing.T) {
	ctx := context.Background()
	ctrl, _ := newTestController(t, "IRONSEAL_KEK_CTRL_3")

	_, err := ctrl.Initialize(ctx, 5, 3)
	require.NoError(t, err)

	bad := base64.StdEncoding.EncodeToString([]byte("too-short"))
	_, err = ctrl.Unseal(ctx, bad)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.InvalidShare))
}

func TestReinitializeFails(t *testing.T) {
	ctx := context.Background()
	ctrl, _ := newTestController(t, "IRONSEAL_KEK_CTRL_4")

	_, err := ctrl.Initialize(ctx, 5, 3)
	require.NoError(t, err)

	_, err = ctrl.Initialize(ctx, 5, 3)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.AlreadyInitialized))
}

func TestUnsealBeforeInitializeFails(t *testing.T) {
	ctx := context.Background()
	ctrl, _ := newTestController(t, "IRONSEAL_KEK_CTRL_5")

	_, err := ctrl.Unseal(ctx, base64.StdEncoding.EncodeToString(make([]byte, ShareLength)))
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.NotInitialized))
}

func TestWrongKEKDetection(t *testing.T) {
	ctx := context.Background()
	envVar := "IRONSEAL_KEK_CTRL_6"
	ctrl, store := newTestController(t, envVar)

	result, err := ctrl.Initialize(ctx, 5, 3)
	require.NoError(t, err)
	require.NoError(t, ctrl.Seal(ctx))

	// swap in a different, still-valid-length KEK
	wrongKey := make([]byte, kek.KeyLength)
	for i := range wrongKey {
		wrongKey[i] = byte(255 - i)
	}
	t.Setenv(envVar, base64.StdEncoding.EncodeToString(wrongKey))

	// fresh controller sharing the same persisted config, now reading the new KEK
	ctrl2 := NewController(store, kek.NewEnvProvider(envVar), nil)
	require.NoError(t, ctrl2.LoadState(ctx))

	_, err = ctrl2.Unseal(ctx, result.Shares[0])
	require.NoError(t, err)
	_, err = ctrl2.Unseal(ctx, result.Shares[1])
	require.NoError(t, err)
	_, err = ctrl2.Unseal(ctx, result.Shares[2])
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.VerificationFailed))
	assert.False(t, ctrl2.MasterKeyCell().Present())
}

func TestVerifyRootToken(t *testing.T) {
	ctx := context.Background()
	ctrl, _ := newTestController(t, "IRONSEAL_KEK_CTRL_7")

	result, err := ctrl.Initialize(ctx, 3, 2)
	require.NoError(t, err)

	assert.True(t, ctrl.VerifyRootToken(result.RootToken))
	assert.False(t, ctrl.VerifyRootToken(base64.StdEncoding.EncodeToString(make([]byte, 32))))
}
