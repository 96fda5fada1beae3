package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diachron/diachron/internal/config"
	"github.com/diachron/diachron/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSetupEmbedding_SkipsWhenNoEmbeddingsSet(t *testing.T) {
	engine, err := setupEmbedding(context.Background(), t.TempDir(), config.Local{NoEmbeddings: true}, testLogger())
	require.NoError(t, err)
	require.Nil(t, engine)
}

func TestSetupSummarizer_SkipsWhenDisabled(t *testing.T) {
	client, err := setupSummarizer(config.Config{}, testLogger())
	require.NoError(t, err)
	require.Nil(t, client)
}

func TestLoadOrCreateIndex_CreatesEmptyIndexWhenFileMissing(t *testing.T) {
	idx := loadOrCreateIndex(filepath.Join(t.TempDir(), "missing.native"), testLogger())
	require.NotNil(t, idx)
	require.Equal(t, 0, idx.Len())
}

func TestLoadOrCreateIndex_LoadsPersistedIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.native")
	idx := loadOrCreateIndex(path, testLogger())
	require.NoError(t, idx.Add("event:1", make([]float32, types.EmbeddingDim)))
	require.NoError(t, idx.Save(path))

	reloaded := loadOrCreateIndex(path, testLogger())
	require.Equal(t, 1, reloaded.Len())
}
