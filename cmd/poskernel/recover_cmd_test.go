package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecoverCommand(t *testing.T) {
	cmd := newRecoverCommand()
	assert.NotNil(t, cmd)
	assert.Equal(t, "recover [terminal-id]", cmd.Use)
}

func TestRecoverCommandOnFreshTerminal(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("POS_KERNEL_DATA_DIR", dataDir)
	yamlConfigPath = filepath.Join(dataDir, "does-not-exist.yaml")
	t.Cleanup(func() { yamlConfigPath = "" })

	cmd := newRecoverCommand()
	cmd.SetArgs([]string{"T1"})

	require.NoError(t, cmd.Execute())
}
