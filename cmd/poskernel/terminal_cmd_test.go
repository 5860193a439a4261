package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewInitTerminalCommand(t *testing.T) {
	cmd := newInitTerminalCommand()
	assert.NotNil(t, cmd)
	assert.Equal(t, "init-terminal [terminal-id]", cmd.Use)
	assert.Contains(t, cmd.Short, "Acquire a terminal's lock")
}

func TestNewListActiveTerminalsCommand(t *testing.T) {
	cmd := newListActiveTerminalsCommand()
	assert.NotNil(t, cmd)
	assert.Equal(t, "list-active-terminals", cmd.Use)
}
