//go:build windows

package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/diachron/diachron/internal/eventbus"
)

// runHook executes the hook and enforces a timeout on Windows. Windows lacks
// Unix-style process groups; on timeout we best-effort kill the started
// process only. Descendants may survive if they detach.
func (r *Runner) runHook(ctx context.Context, hookPath string, event *eventbus.Event) (retErr error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tracer := otel.Tracer("github.com/diachron/diachron/hooks")
	ctx, span := tracer.Start(ctx, "hook.exec",
		trace.WithAttributes(
			attribute.String("hook.event", string(event.Type)),
			attribute.String("hook.path", hookPath),
			attribute.String("diachron.session_id", event.SessionID),
		),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, hookPath)
	cmd.Stdin = bytes.NewReader(eventJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
		addHookOutputEvents(span, &stdout, &stderr)
		return ctx.Err()
	case err := <-done:
		addHookOutputEvents(span, &stdout, &stderr)
		return err
	}
}
