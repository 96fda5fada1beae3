package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadLocal_MissingFileReturnsZeroValue(t *testing.T) {
	local, err := LoadLocal(filepath.Join(t.TempDir(), "local.yaml"))
	require.NoError(t, err)
	require.False(t, local.NoEmbeddings)
}

func TestLoadLocal_ParsesNoEmbeddings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.yaml")
	require.NoError(t, os.WriteFile(path, []byte("no-embeddings: true\n"), 0o600))

	local, err := LoadLocal(path)
	require.NoError(t, err)
	require.True(t, local.NoEmbeddings)
}

func TestLoadLocal_MalformedYamlErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.yaml")
	require.NoError(t, os.WriteFile(path, []byte("no-embeddings: [this is not a bool"), 0o600))
	_, err := LoadLocal(path)
	require.Error(t, err)
}
