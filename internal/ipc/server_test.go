package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/diachron/diachron/internal/blame"
	"github.com/diachron/diachron/internal/retrieval"
	"github.com/diachron/diachron/internal/storage"
	"github.com/diachron/diachron/internal/types"
	"github.com/diachron/diachron/internal/vectorindex"
)

func newTestServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "diachron.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	eventIndex := vectorindex.New(types.EmbeddingDim)
	engine := retrieval.New(s, nil, eventIndex, nil, 0, nil)
	resolver := blame.New(s, nil, eventIndex)

	srv := New(filepath.Join(t.TempDir(), "diachron.sock"), Deps{
		Store:      s,
		EventIndex: eventIndex,
		Engine:     engine,
		Blame:      resolver,
	})
	return srv, s
}

func startServer(t *testing.T, srv *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case <-srv.WaitReady():
	case err := <-errCh:
		t.Fatalf("server exited before becoming ready: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to become ready")
	}
	t.Cleanup(func() { _ = srv.Stop(IndexPaths{}) })
}

func roundTrip(t *testing.T, socketPath string, req Request) Response {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	data, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(append(data, '\n'))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

func TestServer_PingReportsUptimeAndEventCount(t *testing.T) {
	srv, s := newTestServer(t)
	startServer(t, srv)

	require.NoError(t, s.SaveEvent(context.Background(), &types.Event{
		Timestamp: time.Now(), ToolName: "Edit", Operation: types.OpModify,
	}))

	resp := roundTrip(t, srv.socketPath, Request{Type: TypePing})
	require.Equal(t, TypePong, resp.Type)

	var pong PongPayload
	require.NoError(t, json.Unmarshal(resp.Payload, &pong))
	require.Equal(t, int64(1), pong.EventsCount)
}

func TestServer_CaptureSavesEventAndIndexesNothingWithoutEmbedder(t *testing.T) {
	srv, s := newTestServer(t)
	startServer(t, srv)

	payload, err := json.Marshal(CaptureEventPayload{
		ToolName: "Edit", FilePath: "main.go", Operation: "modify", DiffSummary: "added retry",
	})
	require.NoError(t, err)

	resp := roundTrip(t, srv.socketPath, Request{Type: TypeCapture, Payload: payload})
	require.Equal(t, TypeOk, resp.Type)

	count, err := s.EventCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestServer_UnknownRequestTypeReturnsError(t *testing.T) {
	srv, _ := newTestServer(t)
	startServer(t, srv)

	resp := roundTrip(t, srv.socketPath, Request{Type: "Nonsense"})
	require.Equal(t, TypeError, resp.Type)
}

func TestServer_ShutdownClosesListener(t *testing.T) {
	srv, _ := newTestServer(t)
	startServer(t, srv)

	resp := roundTrip(t, srv.socketPath, Request{Type: TypeShutdown})
	require.Equal(t, TypeOk, resp.Type)

	require.Eventually(t, func() bool {
		_, err := net.DialTimeout("unix", srv.socketPath, 100*time.Millisecond)
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServer_BlameByFingerprintNotFoundForUnknownFile(t *testing.T) {
	srv, _ := newTestServer(t)
	startServer(t, srv)

	payload, err := json.Marshal(BlamePayload{FilePath: "missing.go", Content: "x := 1", Mode: "best-effort"})
	require.NoError(t, err)

	resp := roundTrip(t, srv.socketPath, Request{Type: TypeBlameByFingerprint, Payload: payload})
	require.Equal(t, TypeBlameNotFound, resp.Type)
}

func TestServer_DoctorInfoReportsStoreStats(t *testing.T) {
	srv, s := newTestServer(t)
	startServer(t, srv)

	require.NoError(t, s.SaveEvent(context.Background(), &types.Event{
		Timestamp: time.Now(), ToolName: "Edit", Operation: types.OpModify,
	}))

	resp := roundTrip(t, srv.socketPath, Request{Type: TypeDoctorInfo})
	require.Equal(t, TypeDoctor, resp.Type)

	var info types.DiagnosticInfo
	require.NoError(t, json.Unmarshal(resp.Payload, &info))
	require.Equal(t, int64(1), info.EventCount)
	require.False(t, info.EmbeddingEngineLoaded)
}

func TestServer_MaintenanceWithoutRetentionSkipsPruning(t *testing.T) {
	srv, _ := newTestServer(t)
	startServer(t, srv)

	payload, err := json.Marshal(MaintenancePayload{RetentionDays: 0})
	require.NoError(t, err)

	resp := roundTrip(t, srv.socketPath, Request{Type: TypeMaintenance, Payload: payload})
	require.Equal(t, TypeMaintenanceResp, resp.Type)
}

func TestServer_SearchWithoutEngineConfiguredErrors(t *testing.T) {
	s, err := storage.Open(filepath.Join(t.TempDir(), "diachron.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	srv := New(filepath.Join(t.TempDir(), "diachron.sock"), Deps{Store: s})
	startServer(t, srv)

	payload, err := json.Marshal(SearchPayload{Query: "anything", Limit: 10})
	require.NoError(t, err)

	resp := roundTrip(t, srv.socketPath, Request{Type: TypeSearch, Payload: payload})
	require.Equal(t, TypeError, resp.Type)
}

func TestRemoveStaleSocket_NoFileIsNotAnError(t *testing.T) {
	srv := New(filepath.Join(t.TempDir(), "nonexistent.sock"), Deps{})
	require.NoError(t, srv.removeStaleSocket())
}
