package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	s, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s := Default()
	s.LLM.ServerURL = "http://localhost:9999"
	s.Paths.OutputDir = "/tmp/bids"
	s.UI.Theme = "light"

	require.NoError(t, Save(dir, s))

	got, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}
