package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/diachron/diachron/internal/embedding"
	"github.com/diachron/diachron/internal/storage"
	"github.com/diachron/diachron/internal/types"
	"github.com/diachron/diachron/internal/vectorindex"
)

// runKey is the single singleflight key every Run call shares: the
// background ticker and an on-demand IndexConversations request must
// never index the same archives concurrently (spec.md §7).
const runKey = "archive-index"

// maxScanLine mirrors the teacher's jsonl reader: transcripts can carry very
// large tool_result payloads on a single line.
const maxScanLine = 64 * 1024 * 1024

// Stats summarizes one indexing pass (the IndexStats IPC response, spec.md
// message catalog).
type Stats struct {
	ExchangesIndexed  int
	ArchivesProcessed int
	Errors            int
}

// Indexer runs the incremental archive pass described in spec.md §4.6.
type Indexer struct {
	archivesRoot      string
	statePath         string
	store             *storage.Store
	embedder          *embedding.Engine // nil: semantic indexing degrades to lexical-only
	exchangeIndex     *vectorindex.Index
	exchangeIndexPath string
	log               *slog.Logger

	group singleflight.Group
}

func New(archivesRoot, statePath string, store *storage.Store, embedder *embedding.Engine, exchangeIndex *vectorindex.Index, exchangeIndexPath string, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{
		archivesRoot:      archivesRoot,
		statePath:         statePath,
		store:             store,
		embedder:          embedder,
		exchangeIndex:     exchangeIndex,
		exchangeIndexPath: exchangeIndexPath,
		log:               log,
	}
}

// Run executes one full indexing pass: enumerate archives, parse new lines
// in each, embed and store new exchanges, checkpoint, flush. ctx is checked
// between archives so a shutdown request stops the pass without losing the
// progress already made.
//
// Concurrent calls (the background ticker racing an on-demand
// IndexConversations request) are coalesced onto a single in-flight pass;
// every caller waiting on the same key gets that pass's result rather than
// starting a redundant one.
func (ix *Indexer) Run(ctx context.Context) (Stats, error) {
	v, err, _ := ix.group.Do(runKey, func() (interface{}, error) {
		return ix.runOnce(ctx)
	})
	stats, _ := v.(Stats)
	return stats, err
}

func (ix *Indexer) runOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	st, err := loadState(ix.statePath)
	if err != nil {
		return stats, fmt.Errorf("archive: load state: %w", err)
	}

	paths, err := ix.findArchives()
	if err != nil {
		return stats, fmt.Errorf("archive: enumerate archives: %w", err)
	}

	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}

		n, err := ix.indexArchive(ctx, path, st)
		stats.ArchivesProcessed++
		if err != nil {
			stats.Errors++
			ix.log.Warn("archive: indexing failed, continuing with remaining archives", "path", path, "error", err)
			continue
		}
		stats.ExchangesIndexed += n
	}

	if err := st.save(); err != nil {
		return stats, fmt.Errorf("archive: save state: %w", err)
	}
	if ix.exchangeIndex != nil {
		if err := ix.exchangeIndex.Save(ix.exchangeIndexPath); err != nil {
			return stats, fmt.Errorf("archive: save vector index: %w", err)
		}
	}
	return stats, nil
}

// findArchives enumerates every *.jsonl file under the archives root.
func (ix *Indexer) findArchives() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(ix.archivesRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == ix.archivesRoot {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".jsonl") {
			paths = append(paths, path)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return paths, err
}

// pendingExchange accumulates a user turn awaiting its paired assistant
// reply.
type pendingExchange struct {
	Text      string
	LineStart int
	Timestamp time.Time
	Project   string
	SessionID string
	CWD       string
	GitBranch string
}

// indexArchive incrementally parses a single archive file starting just
// past its checkpointed line, extracting and saving new exchanges.
func (ix *Indexer) indexArchive(ctx context.Context, path string, st *state) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	cp := st.get(path)
	if !cp.MTime.IsZero() && !info.ModTime().After(cp.MTime) {
		return 0, nil
	}

	// #nosec G304 - path comes from WalkDir over the daemon's own archives root
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			ix.log.Warn("archive: failed to close archive file", "path", path, "error", err)
		}
	}()

	project := projectName(ix.archivesRoot, path)
	sessionID := strings.TrimSuffix(filepath.Base(path), ".jsonl")

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxScanLine)

	lineNum := 0
	maxLineEnd := cp.LastLine
	count := 0
	var pending *pendingExchange

	for scanner.Scan() {
		lineNum++
		if lineNum <= cp.LastLine {
			continue
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry rawEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // malformed lines are skipped silently (spec.md §4.6)
		}
		if entry.Message == nil {
			continue
		}

		switch entry.Message.Role {
		case "user":
			text, _ := flattenContent(entry.Message.Content)
			ts := parseTimestamp(entry.Timestamp)
			sid := entry.SessionID
			if sid == "" {
				sid = sessionID
			}
			pending = &pendingExchange{
				Text:      text,
				LineStart: lineNum,
				Timestamp: ts,
				Project:   project,
				SessionID: sid,
				CWD:       entry.CWD,
				GitBranch: entry.GitBranch,
			}
		case "assistant":
			if pending == nil {
				continue
			}
			text, toolCalls := flattenContent(entry.Message.Content)
			ex := &types.Exchange{
				ID:            generateExchangeID(pending.Project, formatTimestamp(pending.Timestamp), pending.Text),
				Timestamp:     pending.Timestamp,
				Project:       pending.Project,
				SessionID:     pending.SessionID,
				UserMessage:   pending.Text,
				AssistantText: text,
				ToolCalls:     marshalToolCalls(toolCalls),
				ArchivePath:   path,
				LineStart:     pending.LineStart,
				LineEnd:       lineNum,
				GitBranch:     pending.GitBranch,
				CWD:           pending.CWD,
			}

			if ix.embedder != nil {
				v, embErr := ix.embedder.Embed(ex.UserMessage + "\n" + ex.AssistantText)
				if embErr == nil {
					ex.Embedding = v
				} else {
					ix.log.Warn("archive: embedding failed, exchange saved without vector", "id", ex.ID, "error", embErr)
				}
			}

			if err := ix.store.SaveExchange(ctx, ex); err != nil {
				return count, fmt.Errorf("archive: save exchange %s: %w", ex.ID, err)
			}
			if ix.embedder != nil && ix.exchangeIndex != nil && ex.Embedding != nil {
				if err := ix.exchangeIndex.Add("exchange:"+ex.ID, ex.Embedding); err != nil {
					ix.log.Warn("archive: vector index add failed", "id", ex.ID, "error", err)
				}
			}

			count++
			if lineNum > maxLineEnd {
				maxLineEnd = lineNum
			}
			pending = nil
		default:
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}

	st.update(path, maxLineEnd, info.ModTime())
	return count, nil
}

// projectName derives the project directory name from an archive path
// rooted at archivesRoot (<root>/<project>/<session>.jsonl).
func projectName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
