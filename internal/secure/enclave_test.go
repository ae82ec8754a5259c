package secure

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferOpenDestroy(t *testing.T) {
	t.Parallel()

	buf := NewBuffer([]byte("my-secret-password"))
	locked, err := buf.Open()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(locked.Bytes(), []byte("my-secret-password")))
	locked.Destroy()

	buf.Destroy()
	assert.True(t, buf.Destroyed())

	locked2, err := buf.Open()
	require.NoError(t, err)
	assert.Empty(t, locked2.Bytes())
}

func TestBufferDestroyIdempotent(t *testing.T) {
	t.Parallel()

	buf := NewBuffer([]byte("x"))
	buf.Destroy()
	buf.Destroy()
	assert.True(t, buf.Destroyed())
}

func TestMasterKeyCellLifecycle(t *testing.T) {
	t.Parallel()

	var cell MasterKeyCell
	assert.False(t, cell.Present())

	key := bytes.Repeat([]byte{0x42}, 32)
	cell.Install(key)
	assert.True(t, cell.Present())

	var seen []byte
	ok, err := cell.Use(func(k []byte) error {
		seen = append([]byte{}, k...)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, key, seen)

	cell.Clear()
	assert.False(t, cell.Present())

	ok, err = cell.Use(func(k []byte) error { return nil })
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShareAccumulatorDedup(t *testing.T) {
	t.Parallel()

	acc := NewShareAccumulator()
	assert.True(t, acc.Add([]byte("share-1")))
	assert.True(t, acc.Add([]byte("share-2")))
	assert.False(t, acc.Add([]byte("share-1")))
	assert.Equal(t, 2, acc.Len())

	snap := acc.Snapshot()
	assert.Len(t, snap, 2)

	acc.Reset()
	assert.Equal(t, 0, acc.Len())
	assert.True(t, acc.Add([]byte("share-1")))
}
