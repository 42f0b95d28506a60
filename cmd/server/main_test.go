package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["playlog"])

	playlog, _, err := root.Find([]string{"playlog", "extend"})
	require.NoError(t, err)
	assert.Equal(t, "extend", playlog.Name())
	assert.NotNil(t, playlog.Flags().Lookup("channel"))
	assert.Equal(t, "24", playlog.Flags().Lookup("hours").DefValue)
}

func TestPlaylogExtendRejectsBadHours(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"playlog", "extend", "--hours", "0"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--hours")
}
