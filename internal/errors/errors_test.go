package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "op and message",
			err:  New(NotFound, "kv.Read", "path not found"),
			want: "kv.Read: path not found",
		},
		{
			name: "op and wrapped cause",
			err:  Wrap(ConnectorError, "dbcreds.Issue", errors.New("connection refused")),
			want: "dbcreds.Issue: connection refused",
		},
		{
			name: "op only",
			err:  &Error{Kind: Sealed, Op: "cryptosvc.Encrypt"},
			want: "cryptosvc.Encrypt: sealed",
		},
		{
			name: "message only",
			err:  &Error{Kind: Internal, Message: "boom"},
			want: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorIs(t *testing.T) {
	t.Parallel()

	err := New(NotFound, "kv.Read", "missing")
	require.True(t, Is(err, NotFound))
	require.False(t, Is(err, Conflict))
	require.True(t, errors.Is(err, New(NotFound, "", "")))
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("root cause")
	err := Wrap(ConnectorError, "op", cause)
	require.ErrorIs(t, err, cause)
}

func TestOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, NotFound, Of(New(NotFound, "op", "")))
	assert.Equal(t, Internal, Of(errors.New("plain error")))
	assert.Equal(t, Kind(""), Of(nil))
}
