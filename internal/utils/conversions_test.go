package utils_test

import (
	"testing"

	"github.com/jrsteele09/go-chat-server/internal/utils"
	"github.com/stretchr/testify/require"
)

func TestToStringSlice(t *testing.T) {
	require.Equal(t, []string{"admins", "support"}, utils.ToStringSlice([]any{"admins", 7, "support", nil}))
	require.Empty(t, utils.ToStringSlice(nil))
}
