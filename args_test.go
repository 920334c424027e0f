package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetArgs(t *testing.T) {
	args, err := getArgs([]string{"-config", "parley.conf"})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(args.ConfigFile))
	assert.Equal(t, "parley.conf", filepath.Base(args.ConfigFile))
}

func TestGetArgsMissingConfig(t *testing.T) {
	_, err := getArgs(nil)
	assert.Error(t, err)
}
