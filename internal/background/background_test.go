package background

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/diachron/diachron/internal/archive"
	"github.com/diachron/diachron/internal/storage"
)

func newTestIndexer(t *testing.T) *archive.Indexer {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "diachron.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return archive.New(
		filepath.Join(t.TempDir(), "archives"),
		filepath.Join(t.TempDir(), "state.json"),
		s, nil, nil, "", nil,
	)
}

func TestNew_DefaultsIntervalWhenZero(t *testing.T) {
	d := New(newTestIndexer(t), 0, nil)
	require.Equal(t, defaultInterval, d.interval)
}

func TestNew_KeepsExplicitInterval(t *testing.T) {
	d := New(newTestIndexer(t), time.Minute, nil)
	require.Equal(t, time.Minute, d.interval)
}

func TestStart_TicksAtLeastOnceThenStops(t *testing.T) {
	d := New(newTestIndexer(t), 10*time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		d.Start(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	d.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestStart_ContextCancelStopsLoop(t *testing.T) {
	d := New(newTestIndexer(t), 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancel")
	}
}
