package transit

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	ierrors "github.com/ironseal/ironseal/internal/errors"
	"github.com/ironseal/ironseal/internal/secure"
	"github.com/ironseal/ironseal/pkg/cryptosvc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu   sync.Mutex
	keys map[string]*Key
}

func newMemRepo() *memRepo { return &memRepo{keys: map[string]*Key{}} }

func (r *memRepo) Load(_ context.Context, name string) (*Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[name]
	if !ok {
		return nil, nil
	}
	return k, nil
}

func (r *memRepo) Save(_ context.Context, key *Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[key.Name] = key
	return nil
}

func (r *memRepo) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, name)
	return nil
}

func (r *memRepo) ListNames(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for name := range r.keys {
		names = append(names, name)
	}
	return names, nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cell := &secure.MasterKeyCell{}
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	cell.Install(key)
	return New(newMemRepo(), cryptosvc.New(cell), nil)
}

// TestTransitLifecycle exercises the create/encrypt/rotate/decrypt/rewrap/
// min-decryption-version sequence.
func TestTransitLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.CreateKey(ctx, "k1", KeyTypeAES256GCM, false, false, false))

	plaintext := []byte("hello transit")
	e1, err := e.Encrypt(ctx, "k1", plaintext, []byte("ctx"), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(e1, "vault:v1:"))

	require.NoError(t, e.Rotate(ctx, "k1", false))

	got, err := e.Decrypt(ctx, "k1", e1, []byte("ctx"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	e2, err := e.Rewrap(ctx, "k1", e1, []byte("ctx"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(e2, "vault:v2:"))

	got, err = e.Decrypt(ctx, "k1", e2, []byte("ctx"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	require.NoError(t, e.SetVersionBounds(ctx, "k1", 0, 2))

	_, err = e.Decrypt(ctx, "k1", e1, []byte("ctx"))
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.InvalidArgument))

	got, err = e.Decrypt(ctx, "k1", e2, []byte("ctx"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestTransitRotateRequiresOverrideWhenProtected(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.CreateKey(ctx, "k1", KeyTypeAES256GCM, false, false, true))

	err := e.Rotate(ctx, "k1", false)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.Unsupported))

	require.NoError(t, e.Rotate(ctx, "k1", true))
}

func TestTransitEncryptNonexistentKey(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Encrypt(ctx, "missing", []byte("x"), nil, nil)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.NotFound))
}

func TestTransitSignVerify(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.CreateKey(ctx, "sig1", KeyTypeECDSAP256, false, false, false))

	message := []byte("sign me")
	sig, err := e.Sign(ctx, "sig1", message)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sig, "vault:v1:"))

	ok, err := e.Verify(ctx, "sig1", message, sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Verify(ctx, "sig1", []byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransitChaChaRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.CreateKey(ctx, "cc1", KeyTypeChaCha20Poly1305, false, false, false))

	plaintext := []byte("chacha plaintext")
	envelope, err := e.Encrypt(ctx, "cc1", plaintext, []byte("ctx"), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(envelope, "vault:v1:"))

	got, err := e.Decrypt(ctx, "cc1", envelope, []byte("ctx"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	_, err = e.Decrypt(ctx, "cc1", envelope, []byte("other"))
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.InvalidCiphertext))
}

// TestTransitSignVerifyAllAsymmetricTypes runs the sign/verify/tamper
// sequence once per asymmetric key type, since the signature algorithm
// differs per type.
func TestTransitSignVerifyAllAsymmetricTypes(t *testing.T) {
	types := []KeyType{KeyTypeECDSAP256, KeyTypeECDSAP384, KeyTypeRSA2048, KeyTypeEd25519}
	for _, keyType := range types {
		t.Run(string(keyType), func(t *testing.T) {
			ctx := context.Background()
			e := newTestEngine(t)

			require.NoError(t, e.CreateKey(ctx, "sig", keyType, false, false, false))

			message := []byte("sign me")
			sig, err := e.Sign(ctx, "sig", message)
			require.NoError(t, err)

			ok, err := e.Verify(ctx, "sig", message, sig)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = e.Verify(ctx, "sig", []byte("tampered"), sig)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestTransitEncryptRejectsAsymmetricKey(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.CreateKey(ctx, "sig", KeyTypeEd25519, false, false, false))

	_, err := e.Encrypt(ctx, "sig", []byte("x"), nil, nil)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.InvalidArgument))
}

func TestTransitCreateKeyRejectsUnknownType(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	err := e.CreateKey(ctx, "bad", KeyType("des-56"), false, false, false)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.InvalidArgument))
}

func TestTransitSweepAutoRotate(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.CreateKey(ctx, "auto", KeyTypeAES256GCM, false, false, false))
	require.NoError(t, e.CreateKey(ctx, "manual", KeyTypeAES256GCM, false, false, false))
	require.NoError(t, e.SetAutoRotate(ctx, "auto", time.Nanosecond))

	time.Sleep(time.Millisecond)

	rotated, err := e.SweepAutoRotate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"auto"}, rotated)

	key, err := e.loadKey(ctx, "auto", "test")
	require.NoError(t, err)
	assert.Equal(t, 2, key.CurrentVersion)

	key, err = e.loadKey(ctx, "manual", "test")
	require.NoError(t, err)
	assert.Equal(t, 1, key.CurrentVersion)
}

func TestTransitSetAutoRotateRejectsNegative(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.CreateKey(ctx, "k1", KeyTypeAES256GCM, false, false, false))
	err := e.SetAutoRotate(ctx, "k1", -time.Second)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.InvalidArgument))
}

func TestTransitSignRejectsSymmetricKey(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.CreateKey(ctx, "k1", KeyTypeAES256GCM, false, false, false))

	_, err := e.Sign(ctx, "k1", []byte("x"))
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.InvalidArgument))
}

func TestTransitExportRequiresExportable(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.CreateKey(ctx, "k1", KeyTypeAES256GCM, false, false, false))

	_, err := e.Export(ctx, "k1", 1)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.Unauthorized))

	require.NoError(t, e.CreateKey(ctx, "k2", KeyTypeAES256GCM, true, false, false))
	material, err := e.Export(ctx, "k2", 1)
	require.NoError(t, err)
	assert.Len(t, material, 32)
}

func TestTransitDeleteRequiresProtectionOff(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.CreateKey(ctx, "k1", KeyTypeAES256GCM, false, false, true))

	err := e.Delete(ctx, "k1")
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.Unsupported))

	// Clearing protection makes Delete reachable.
	require.NoError(t, e.SetDeletionProtection(ctx, "k1", false))
	require.NoError(t, e.Delete(ctx, "k1"))

	_, err = e.Encrypt(ctx, "k1", []byte("x"), nil, nil)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.NotFound))
}

func TestTransitCreateDuplicateNameConflicts(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	require.NoError(t, e.CreateKey(ctx, "k1", KeyTypeAES256GCM, false, false, false))
	err := e.CreateKey(ctx, "k1", KeyTypeAES256GCM, false, false, false)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.Conflict))
}
