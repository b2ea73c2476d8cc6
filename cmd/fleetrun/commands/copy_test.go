package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopy(t *testing.T) {
	cmd := Copy()

	require.NotNil(t, cmd)
	assert.Equal(t, "copy SRC DST", cmd.Use)
	assert.Contains(t, cmd.Long, "s3://")
}

func TestCopy_Args(t *testing.T) {
	cmd := Copy()

	assert.Error(t, cmd.Args(cmd, []string{"./data"}))
	assert.NoError(t, cmd.Args(cmd, []string{"./data", "/opt/data"}))
	assert.Error(t, cmd.Args(cmd, []string{"a", "b", "c"}))
}

func TestCopy_RecursiveFlag(t *testing.T) {
	cmd := Copy()

	flag := cmd.Flags().Lookup("recursive")
	require.NotNil(t, flag)
	assert.Equal(t, "r", flag.Shorthand)
	assert.Equal(t, "false", flag.DefValue)
}
