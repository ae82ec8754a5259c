package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretAlwaysRedacts(t *testing.T) {
	t.Parallel()

	s := Secret("super-secret-password")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", s.GoString())
	assert.NotContains(t, s.String(), "super-secret-password")
}

func TestNewNopDoesNotPanic(t *testing.T) {
	t.Parallel()

	l := NewNop()
	l.Info("hello %s", "world")
	l.Debug("debug %d", 1)
	l.Warn("warn")
	l.Error("error %v", assert.AnError)
	require := l.With("op", "test")
	require.Info("child logger works")
	assert.NoError(t, l.Sync())
}

func TestNewBuildsRealLogger(t *testing.T) {
	t.Parallel()

	l := New(true)
	assert.NotNil(t, l)
	l.Debug("debug enabled at this level")
}
