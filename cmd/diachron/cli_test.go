package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/diachron/diachron/internal/blame"
	"github.com/diachron/diachron/internal/ipc"
	"github.com/diachron/diachron/internal/retrieval"
	"github.com/diachron/diachron/internal/storage"
	"github.com/diachron/diachron/internal/types"
	"github.com/diachron/diachron/internal/vectorindex"
)

func startTestDaemon(t *testing.T) (home string, store *storage.Store) {
	t.Helper()
	home = t.TempDir()
	store, err := storage.Open(filepath.Join(home, "diachron.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	eventIndex := vectorindex.New(types.EmbeddingDim)
	engine := retrieval.New(store, nil, eventIndex, nil, 0, nil)
	resolver := blame.New(store, nil, eventIndex)

	srv := ipc.New(filepath.Join(home, "diachron.sock"), ipc.Deps{
		Store:      store,
		EventIndex: eventIndex,
		Engine:     engine,
		Blame:      resolver,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case <-srv.WaitReady():
	case err := <-errCh:
		t.Fatalf("daemon failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for test daemon")
	}
	t.Cleanup(func() { _ = srv.Stop(ipc.IndexPaths{}) })

	return home, store
}

func runCLI(t *testing.T, home string, args ...string) string {
	t.Helper()
	homeFlag = home

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	rootCmd.SetArgs(args)
	cmdErr := rootCmd.Execute()

	w.Close()
	os.Stdout = oldStdout
	out, _ := io.ReadAll(r)

	require.NoError(t, cmdErr)
	return string(out)
}

func TestPing_ReportsUptimeAndEventCount(t *testing.T) {
	home, store := startTestDaemon(t)
	require.NoError(t, store.SaveEvent(context.Background(), &types.Event{
		Timestamp: time.Now(), ToolName: "Edit", Operation: types.OpModify,
	}))

	out := runCLI(t, home, "ping")
	require.Contains(t, out, "1 events recorded")
}

func TestDoctor_PrintsDiagnosticInfoJSON(t *testing.T) {
	home, _ := startTestDaemon(t)

	out := runCLI(t, home, "doctor")
	require.Contains(t, out, "diachron_version")
	require.Contains(t, out, "chain_valid")
}

func TestTimeline_ListsSavedEvents(t *testing.T) {
	home, store := startTestDaemon(t)
	require.NoError(t, store.SaveEvent(context.Background(), &types.Event{
		Timestamp: time.Now(), ToolName: "Write", FilePath: "a.go", Operation: types.OpCreate,
	}))

	out := runCLI(t, home, "timeline")
	require.Contains(t, out, "a.go")
}

func TestBlame_ReportsNotFoundForUnknownLine(t *testing.T) {
	home, _ := startTestDaemon(t)

	out := runCLI(t, home, "blame", "nope.go", "--line", "1", "--content", "x")
	require.NotEmpty(t, out)
}
