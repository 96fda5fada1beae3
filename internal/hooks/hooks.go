// Package hooks runs the user-provided post-capture shell hook
// (.diachron/hooks/on_capture), the one extensibility point spec.md's
// on-disk layout carries over from the teacher's hook system.
package hooks

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/diachron/diachron/internal/eventbus"
)

// hookOnCapture is the single hook file name this runner recognizes.
const hookOnCapture = "on_capture"

// capturePriority places the hook runner after any in-process handlers that
// might want to inspect or annotate the event first.
const capturePriority = 50

// Runner discovers and executes the on_capture hook. It satisfies
// eventbus.Handler so it can be registered on the daemon's bus.
type Runner struct {
	hooksDir string
	timeout  time.Duration
}

// NewRunner creates a hook runner rooted at hooksDir.
func NewRunner(hooksDir string) *Runner {
	return &Runner{hooksDir: hooksDir, timeout: 10 * time.Second}
}

// NewRunnerFromHome creates a hook runner for `<home>/.diachron/hooks`.
func NewRunnerFromHome(home string) *Runner {
	return NewRunner(filepath.Join(home, ".diachron", "hooks"))
}

func (r *Runner) ID() string { return "on_capture" }

func (r *Runner) Handles() []eventbus.EventType {
	return []eventbus.EventType{eventbus.EventPostToolUse}
}

func (r *Runner) Priority() int { return capturePriority }

// Handle runs the on_capture hook if present and executable, passing the
// event as JSON on stdin. A missing or non-executable hook is a silent
// no-op, not an error.
func (r *Runner) Handle(ctx context.Context, event *eventbus.Event, result *eventbus.Result) error {
	hookPath := filepath.Join(r.hooksDir, hookOnCapture)
	info, err := os.Stat(hookPath)
	if err != nil || info.IsDir() {
		return nil
	}
	if info.Mode()&0o111 == 0 {
		return nil
	}
	return r.runHook(ctx, hookPath, event)
}

// HookExists reports whether an executable on_capture hook is configured.
func (r *Runner) HookExists() bool {
	info, err := os.Stat(filepath.Join(r.hooksDir, hookOnCapture))
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
