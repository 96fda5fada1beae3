package hooks

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diachron/diachron/internal/eventbus"
)

func TestHookExists_FalseWhenMissing(t *testing.T) {
	r := NewRunner(t.TempDir())
	require.False(t, r.HookExists())
}

func TestHandle_NoHookIsSilentNoOp(t *testing.T) {
	r := NewRunner(t.TempDir())
	err := r.Handle(context.Background(), &eventbus.Event{Type: eventbus.EventPostToolUse}, &eventbus.Result{})
	require.NoError(t, err)
}

func TestHandle_RunsExecutableOnCaptureHook(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exercises the unix process-group path")
	}
	dir := t.TempDir()
	hookPath := filepath.Join(dir, hookOnCapture)
	require.NoError(t, os.WriteFile(hookPath, []byte("#!/bin/sh\ncat > /dev/null\n"), 0o755))

	r := NewRunner(dir)
	require.True(t, r.HookExists())

	err := r.Handle(context.Background(), &eventbus.Event{Type: eventbus.EventPostToolUse, SessionID: "s1"}, &eventbus.Result{})
	require.NoError(t, err)
}

func TestHandle_NonExecutableHookIsSkipped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, hookOnCapture), []byte("echo hi"), 0o644))

	r := NewRunner(dir)
	require.False(t, r.HookExists())
	err := r.Handle(context.Background(), &eventbus.Event{Type: eventbus.EventPostToolUse}, &eventbus.Result{})
	require.NoError(t, err)
}

func TestHandles_ReturnsPostToolUseOnly(t *testing.T) {
	r := NewRunner(t.TempDir())
	require.Equal(t, []eventbus.EventType{eventbus.EventPostToolUse}, r.Handles())
}
