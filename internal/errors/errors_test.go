package errors_test

import (
	"testing"

	"github.com/jrsteele09/go-chat-server/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapf(t *testing.T) {
	require.NoError(t, errors.Wrapf(nil, "ignored"))

	err := errors.Wrapf(errors.ErrMissingConfig, "resolving %s", "env:KEY")
	require.EqualError(t, err, "resolving env:KEY: missing configuration")
	require.True(t, errors.Is(err, errors.ErrMissingConfig))
	require.False(t, errors.Is(err, errors.ErrInternal))
}
