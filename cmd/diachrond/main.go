// Command diachrond is the resident daemon: it owns the database, the
// vector indexes, the embedding engine, and the Unix-socket IPC front end
// that every other Diachron collaborator talks to (spec.md §2, §4.10).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/diachron/diachron/internal/archive"
	"github.com/diachron/diachron/internal/background"
	"github.com/diachron/diachron/internal/blame"
	"github.com/diachron/diachron/internal/config"
	"github.com/diachron/diachron/internal/daemonrunner"
	"github.com/diachron/diachron/internal/embedding"
	"github.com/diachron/diachron/internal/eventbus"
	"github.com/diachron/diachron/internal/hooks"
	"github.com/diachron/diachron/internal/ipc"
	"github.com/diachron/diachron/internal/retrieval"
	"github.com/diachron/diachron/internal/storage"
	"github.com/diachron/diachron/internal/summarize"
	"github.com/diachron/diachron/internal/types"
	"github.com/diachron/diachron/internal/vectorindex"
	"github.com/diachron/diachron/internal/version"
)

var homeFlag string

var rootCmd = &cobra.Command{
	Use:   "diachrond",
	Short: "Diachron provenance daemon",
	Long: `diachrond is the resident process that records, indexes, and answers
queries over a single developer's AI-assisted change history. It owns
diachron.db and the sidecar vector indexes under its state directory and
serves every other Diachron collaborator over a Unix socket.`,
	RunE: runDaemon,
}

func init() {
	home, _ := os.UserHomeDir()
	rootCmd.Flags().StringVar(&homeFlag, "home", filepath.Join(home, ".diachron"), "Diachron state directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	home := homeFlag
	if err := os.MkdirAll(filepath.Join(home, "logs"), 0o700); err != nil {
		return fmt.Errorf("diachrond: create state dir: %w", err)
	}

	log, logFile, err := setupLogging(home)
	if err != nil {
		return fmt.Errorf("diachrond: %w", err)
	}
	defer logFile.Close()

	lock, err := daemonrunner.Acquire(home, filepath.Join(home, "diachron.db"), version.Version)
	if err != nil {
		if err == daemonrunner.ErrDaemonLocked {
			return fmt.Errorf("diachrond: already running in %s", home)
		}
		return fmt.Errorf("diachrond: acquire daemon lock: %w", err)
	}
	defer lock.Close()

	dbPath := filepath.Join(home, "diachron.db")
	if err := daemonrunner.ValidateDatabasePath(home, dbPath); err != nil {
		return err
	}

	local, err := config.LoadLocal(filepath.Join(home, "local.yaml"))
	if err != nil {
		return fmt.Errorf("diachrond: load local.yaml: %w", err)
	}
	cfg, err := config.Load(filepath.Join(home, "config.toml"))
	if err != nil {
		return fmt.Errorf("diachrond: load config.toml: %w", err)
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("diachrond: open database: %w", err)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	embedder, err := setupEmbedding(ctx, home, local, log)
	if err != nil {
		log.Warn("embedding engine unavailable, semantic features degraded", "error", err)
	}
	if embedder != nil {
		defer embedder.Close()
	}

	indexPaths := ipc.IndexPaths{
		Events:    filepath.Join(home, "indexes", "events.native"),
		Exchanges: filepath.Join(home, "indexes", "exchanges.native"),
	}
	eventIndex := loadOrCreateIndex(indexPaths.Events, log)
	exIndex := loadOrCreateIndex(indexPaths.Exchanges, log)

	userHome, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("diachrond: resolve user home: %w", err)
	}
	archiver := archive.New(
		filepath.Join(userHome, ".claude", "projects"),
		filepath.Join(home, "index_state.json"),
		store, embedder, exIndex, indexPaths.Exchanges, log,
	)
	engine := retrieval.New(store, embedder, eventIndex, exIndex, 500, log)
	resolver := blame.New(store, embedder, eventIndex)

	summarizer, err := setupSummarizer(cfg, log)
	if err != nil {
		log.Warn("summarization unavailable", "error", err)
	}

	bus := eventbus.New(log)
	bus.Register(hooks.NewRunnerFromHome(home))

	srv := ipc.New(filepath.Join(home, "diachron.sock"), ipc.Deps{
		Store:      store,
		Embedder:   embedder,
		EventIndex: eventIndex,
		ExIndex:    exIndex,
		Engine:     engine,
		Blame:      resolver,
		Archiver:   archiver,
		Summarizer: summarizer,
		Bus:        bus,
		Config:     cfg,
		Log:        log,
		IndexPaths: indexPaths,
	})

	driver := background.New(archiver, 0, log)
	go driver.Start(ctx)
	defer driver.Stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start(ctx)
	}()

	log.Info("diachrond started", "home", home, "version", version.Version, "pid", os.Getpid())

	select {
	case <-ctx.Done():
		log.Info("diachrond shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error("ipc server exited", "error", err)
		}
		return err
	}

	return srv.Stop(indexPaths)
}

func setupLogging(home string) (*slog.Logger, *os.File, error) {
	logPath := filepath.Join(home, "logs", "daemon.out")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler), f, nil
}

func setupEmbedding(ctx context.Context, home string, local config.Local, log *slog.Logger) (*embedding.Engine, error) {
	if local.NoEmbeddings {
		log.Info("embeddings disabled via local.yaml")
		return nil, nil
	}
	dir := embedding.ModelDir(home)
	if err := embedding.EnsureModel(ctx, dir); err != nil {
		return nil, fmt.Errorf("ensure embedding model: %w", err)
	}
	return embedding.New(dir)
}

func setupSummarizer(cfg config.Config, log *slog.Logger) (*summarize.Client, error) {
	if !cfg.Summarization.Enabled {
		return nil, nil
	}
	client, err := summarize.New(summarize.Config{
		Enabled:   cfg.Summarization.Enabled,
		Model:     cfg.Summarization.Model,
		MaxTokens: cfg.Summarization.MaxTokens,
		APIKey:    cfg.Summarization.APIKey,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func loadOrCreateIndex(path string, log *slog.Logger) *vectorindex.Index {
	idx, err := vectorindex.Load(path)
	if err == nil {
		return idx
	}
	if !errors.Is(err, os.ErrNotExist) {
		log.Warn("vector index load failed, starting empty", "path", path, "error", err)
	}
	return vectorindex.New(types.EmbeddingDim)
}
