// Package archive incrementally indexes Claude Code conversation archives
// (spec.md §4.6): line-delimited JSON transcripts organized as
// <home>/.claude/projects/<project>/<session>.jsonl, one message per line.
package archive

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxToolResultBytes is the truncation limit for flattened tool_result blocks.
const maxToolResultBytes = 200

// rawEntry is one line of a conversation archive.
type rawEntry struct {
	Type      string     `json:"type"`
	Message   *rawMsg    `json:"message,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	CWD       string     `json:"cwd,omitempty"`
	GitBranch string     `json:"gitBranch,omitempty"`
	Timestamp string     `json:"timestamp,omitempty"`
}

type rawMsg struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// rawBlock is a single content block. Content carries a tool_result's own
// content, which is itself either a plain string or a nested block array.
type rawBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// flattenContent renders a message's content (string or block array) into
// display text plus the list of tool_use blocks it contained. thinking
// blocks are discarded; tool_result blocks are truncated to
// maxToolResultBytes at a UTF-8 char boundary (spec.md §4.6).
func flattenContent(raw json.RawMessage) (text string, toolCalls []rawBlock) {
	if len(raw) == 0 {
		return "", nil
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain, nil
	}

	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", nil
	}
	return flattenBlocks(blocks)
}

func flattenBlocks(blocks []rawBlock) (string, []rawBlock) {
	var sb strings.Builder
	var toolCalls []rawBlock

	for _, b := range blocks {
		switch b.Type {
		case "thinking":
			continue
		case "text":
			sb.WriteString(b.Text)
		case "tool_use":
			toolCalls = append(toolCalls, b)
			fmt.Fprintf(&sb, "[tool_use:%s]", b.Name)
		case "tool_result":
			sb.WriteString(truncateBytes(toolResultText(b.Content), maxToolResultBytes))
		default:
			continue
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), toolCalls
}

// toolResultText flattens a tool_result block's own content, which is
// either a plain string or a nested array of text blocks.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	text, _ := flattenBlocks(blocks)
	return text
}

// truncateBytes shortens s to at most n bytes, backing off to the nearest
// rune boundary so the result is always valid UTF-8.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// marshalToolCalls renders tool_use blocks as the Exchange.ToolCalls raw
// JSON array, or "" when there were none.
func marshalToolCalls(blocks []rawBlock) string {
	if len(blocks) == 0 {
		return ""
	}
	data, err := json.Marshal(blocks)
	if err != nil {
		return ""
	}
	return string(data)
}
