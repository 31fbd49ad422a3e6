package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailuresCommandRequiresJournalAndLabel(t *testing.T) {
	for _, name := range []string{"journal", "label"} {
		f := failuresCmd.Flags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, []string{"true"}, f.Annotations[cobra.BashCompOneRequiredFlag], name)
	}
}

func TestFailuresCommandIsRegistered(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"failures"})
	require.NoError(t, err)
	assert.Same(t, failuresCmd, cmd)
}
