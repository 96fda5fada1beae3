package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_ParsesSummarizationTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[summarization]
enabled = true
model = "claude-3-5-haiku-20241022"
max_tokens = 512
api_key = "sk-test"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Summarization.Enabled)
	require.Equal(t, "claude-3-5-haiku-20241022", cfg.Summarization.Model)
	require.Equal(t, int64(512), cfg.Summarization.MaxTokens)
	require.Equal(t, "sk-test", cfg.Summarization.APIKey)
}

func TestLoad_MalformedTomlErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}
