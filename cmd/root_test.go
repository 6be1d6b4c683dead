package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/internal/i18n"
)

func TestRootPreRunAttached(t *testing.T) {
	require.NotNil(t, rootCmd.PersistentPreRunE)

	require.NoError(t, i18n.Init("en"))
	short := rootCmd.Short
	applyCommandLocalization()
	assert.Equal(t, short, rootCmd.Short)
}

func TestCommandErrorIsUsage(t *testing.T) {
	err := commandError("need %d args", 2)
	assert.True(t, adberrors.IsKind(err, adberrors.KindUsage))
	assert.False(t, adberrors.IsKind(err, adberrors.KindUnknownOption))
	assert.Equal(t, "need 2 args", err.(*adberrors.AdbError).Message)
}
