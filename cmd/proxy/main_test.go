package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommandRunsWithoutError(t *testing.T) {
	version = "1.2.3"
	t.Cleanup(func() { version = "dev" })

	cmd := newVersionCommand()
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "version", cmd.Use)
}
