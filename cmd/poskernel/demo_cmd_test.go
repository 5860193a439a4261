package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDemoCommand(t *testing.T) {
	cmd := newDemoCommand()
	assert.NotNil(t, cmd)
	assert.Equal(t, "demo [terminal-id]", cmd.Use)
}

func TestDemoCommandEndToEnd(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("POS_KERNEL_DATA_DIR", dataDir)
	yamlConfigPath = filepath.Join(dataDir, "does-not-exist.yaml")
	t.Cleanup(func() { yamlConfigPath = "" })

	cmd := newDemoCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"T1"})

	err := cmd.Execute()
	require.NoError(t, err)
}
