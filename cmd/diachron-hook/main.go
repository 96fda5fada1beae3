// Command diachron-hook is the thin binary Claude Code invokes as a
// PostToolUse hook. It decodes the hook event JSON on stdin, maps it to a
// Capture IPC request, and forwards it to the resident daemon (spec.md §6).
// It does no indexing or storage itself — communication failures exit
// non-zero but never block the tool call that triggered the hook.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/diachron/diachron/internal/eventbus"
	"github.com/diachron/diachron/internal/ipc"
	"github.com/diachron/diachron/internal/types"
)

const (
	exitOK             = 0
	exitCommunication  = 1
	exitUnreadableHook = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "diachron-hook: read stdin: %v\n", err)
		return exitUnreadableHook
	}

	var event eventbus.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		fmt.Fprintf(os.Stderr, "diachron-hook: decode hook event: %v\n", err)
		return exitUnreadableHook
	}
	event.Raw = raw

	payload, err := toCapturePayload(&event)
	if err != nil {
		fmt.Fprintf(os.Stderr, "diachron-hook: %v\n", err)
		return exitUnreadableHook
	}

	sockPath := socketPath()
	client, err := ipc.Dial(sockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "diachron-hook: is the daemon running? %v\n", err)
		return exitCommunication
	}
	defer client.Close()

	if _, err := client.SendJSON(ipc.TypeCapture, payload, nil); err != nil {
		fmt.Fprintf(os.Stderr, "diachron-hook: capture failed: %v\n", err)
		return exitCommunication
	}

	return exitOK
}

func socketPath() string {
	if home := os.Getenv("DIACHRON_HOME"); home != "" {
		return filepath.Join(home, "diachron.sock")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".diachron", "diachron.sock")
}

// toCapturePayload builds the daemon's CaptureEvent contract out of a
// Claude Code tool-use hook event. Only PostToolUse and PostToolUseFailure
// carry a file operation worth recording; anything else is rejected so the
// caller can no-op instead of capturing noise.
func toCapturePayload(event *eventbus.Event) (ipc.CaptureEventPayload, error) {
	switch event.Type {
	case eventbus.EventPostToolUse, eventbus.EventPostToolUseFailure:
	default:
		return ipc.CaptureEventPayload{}, fmt.Errorf("hook event type %q does not capture", event.Type)
	}

	filePath, _ := event.ToolInput["file_path"].(string)
	operation, category := classifyTool(event.ToolName, event.ToolInput)

	meta := types.EventMetadata{CommandCategory: category}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return ipc.CaptureEventPayload{}, fmt.Errorf("encode metadata: %w", err)
	}

	rawInput, err := json.Marshal(event.ToolInput)
	if err != nil {
		rawInput = nil
	}

	return ipc.CaptureEventPayload{
		ToolName:  event.ToolName,
		FilePath:  filePath,
		Operation: string(operation),
		RawInput:  string(rawInput),
		Metadata:  string(metaJSON),
		SessionID: event.SessionID,
	}, nil
}

// classifyTool maps a Claude Code tool name to the Operation/CommandCategory
// pair the daemon records (spec.md §3, §6).
func classifyTool(toolName string, input map[string]interface{}) (types.Operation, types.CommandCategory) {
	switch toolName {
	case "Write":
		return types.OpCreate, types.CategoryFileOps
	case "Edit", "MultiEdit", "NotebookEdit":
		return types.OpModify, types.CategoryFileOps
	case "Bash":
		command, _ := input["command"].(string)
		return types.OpExecute, classifyCommand(command)
	default:
		return types.OpUnknown, types.CategoryUnknown
	}
}

func classifyCommand(command string) types.CommandCategory {
	switch {
	case containsAny(command, "git "):
		return types.CategoryGit
	case containsAny(command, "go test", "pytest", "npm test", "jest", "cargo test"):
		return types.CategoryTest
	case containsAny(command, "go build", "make", "npm run build", "cargo build"):
		return types.CategoryBuild
	case containsAny(command, "docker push", "kubectl apply", "terraform apply"):
		return types.CategoryDeploy
	case containsAny(command, "npm install", "go get", "pip install", "cargo add"):
		return types.CategoryPackage
	default:
		return types.CategoryUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
