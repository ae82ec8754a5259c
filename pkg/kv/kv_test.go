package kv

import (
	"context"
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
	mu      sync.Mutex
	secrets map[string]*StoredSecret
}

func newMemRepo() *memRepo {
	return &memRepo{secrets: map[string]*StoredSecret{}}
}

func (r *memRepo) Load(_ context.Context, path string) (*StoredSecret, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.secrets[path]
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (r *memRepo) Save(_ context.Context, secret *StoredSecret) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets[secret.Path] = secret
	return nil
}

func (r *memRepo) List(_ context.Context, prefix string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for p := range r.secrets {
		out = append(out, p)
	}
	_ = prefix
	return out, nil
}

func (r *memRepo) Delete(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.secrets, path)
	return nil
}

type noopAudit struct{}

func (noopAudit) RecordRead(context.Context, string, int) error                 { return nil }
func (noopAudit) RecordWrite(context.Context, string, *int, int, string) error { return nil }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cell := &secure.MasterKeyCell{}
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	cell.Install(key)
	return New(newMemRepo(), cryptosvc.New(cell), noopAudit{})
}

func TestKVVersionLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	v, err := e.Write(ctx, "a/b", map[string]any{"k": "v1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = e.Write(ctx, "a/b", map[string]any{"k": "v2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	expected := 1
	_, err = e.Write(ctx, "a/b", map[string]any{"k": "v3"}, &expected)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.Conflict))

	data, err := e.Read(ctx, "a/b", nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", data["k"])

	v1 := 1
	data, err = e.Read(ctx, "a/b", &v1)
	require.NoError(t, err)
	assert.Equal(t, "v1", data["k"])

	require.NoError(t, e.SoftDelete(ctx, "a/b", []int{1}))
	_, err = e.Read(ctx, "a/b", &v1)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.NotFound))

	require.NoError(t, e.Undelete(ctx, "a/b", []int{1}))
	data, err = e.Read(ctx, "a/b", &v1)
	require.NoError(t, err)
	assert.Equal(t, "v1", data["k"])

	require.NoError(t, e.Destroy(ctx, "a/b", []int{1}))
	_, err = e.Read(ctx, "a/b", &v1)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.NotFound))

	require.NoError(t, e.Undelete(ctx, "a/b", []int{1}))
	_, err = e.Read(ctx, "a/b", &v1)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.NotFound))
}

func TestKVReadVersionOutOfRange(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Write(ctx, "p", map[string]any{"k": "v1"}, nil)
	require.NoError(t, err)

	zero := 0
	_, err = e.Read(ctx, "p", &zero)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.NotFound))

	future := 99
	_, err = e.Read(ctx, "p", &future)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.NotFound))
}

func TestKVEmptyPathRejected(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Write(ctx, "///", map[string]any{"k": "v"}, nil)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.InvalidArgument))
}

func TestKVMaxVersionsEvictsOldest(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	for i := 0; i < defaultMaxVersions+3; i++ {
		_, err := e.Write(ctx, "p", map[string]any{"n": i}, nil)
		require.NoError(t, err)
	}

	meta, err := e.GetMetadata(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, defaultMaxVersions+3, meta.CurrentVersion)

	_, err = e.Read(ctx, "p", intPtr(1))
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.NotFound))
}

func TestKVDeleteVersionAfterExpiresReads(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Write(ctx, "p", map[string]any{"k": "v"}, nil)
	require.NoError(t, err)

	require.NoError(t, e.UpdateMetadata(ctx, "p", defaultMaxVersions, false, time.Nanosecond, nil))
	time.Sleep(time.Millisecond)

	_, err = e.Read(ctx, "p", nil)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.NotFound))

	// Clearing the policy makes the retained payload readable again, since
	// expiry is a soft-delete, not a destruction.
	require.NoError(t, e.UpdateMetadata(ctx, "p", defaultMaxVersions, false, 0, nil))
	data, err := e.Read(ctx, "p", nil)
	require.NoError(t, err)
	assert.Equal(t, "v", data["k"])
}

func TestKVDeleteMetadataIsTerminal(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Write(ctx, "p", map[string]any{"k": "v"}, nil)
	require.NoError(t, err)

	require.NoError(t, e.DeleteMetadata(ctx, "p"))

	_, err = e.Read(ctx, "p", nil)
	require.Error(t, err)
	assert.True(t, ierrors.Is(err, ierrors.NotFound))
}

func intPtr(i int) *int { return &i }
