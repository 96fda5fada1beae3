// Package ipc is the Unix-socket, newline-delimited-JSON daemon front end
// (spec.md §4.10). It dispatches each tagged request to the component that
// owns it (§4.1-§4.9) and writes one response line back per request.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diachron/diachron/internal/archive"
	"github.com/diachron/diachron/internal/blame"
	"github.com/diachron/diachron/internal/config"
	"github.com/diachron/diachron/internal/embedding"
	"github.com/diachron/diachron/internal/eventbus"
	"github.com/diachron/diachron/internal/retrieval"
	"github.com/diachron/diachron/internal/storage"
	"github.com/diachron/diachron/internal/summarize"
	"github.com/diachron/diachron/internal/vectorindex"
)

// requestTimeout bounds how long a connection may sit idle between lines.
const requestTimeout = 30 * time.Second

// defaultMaxConns bounds concurrent connections, mirroring the teacher's
// connection-semaphore discipline.
const defaultMaxConns = 100

// Server is the IPC front end. One instance per daemon process.
type Server struct {
	socketPath string
	store      *storage.Store
	embedder   *embedding.Engine // optional: nil downgrades semantic features
	eventIndex *vectorindex.Index
	exIndex    *vectorindex.Index
	engine     *retrieval.Engine
	blame      *blame.Resolver
	archiver   *archive.Indexer
	summarizer *summarize.Client // optional: nil when summarization is disabled
	bus        *eventbus.Bus     // optional: nil skips hook dispatch on capture
	cfg        config.Config
	log        *slog.Logger

	mu       sync.RWMutex
	listener net.Listener
	shutdown bool

	shutdownChan chan struct{}
	doneChan     chan struct{}
	stopOnce     sync.Once
	readyChan    chan struct{}

	connSemaphore chan struct{}
	startTime     time.Time
	pendingStop   atomic.Bool
	indexPaths    IndexPaths
	metrics       *Metrics
}

// Deps bundles the already-constructed collaborators the server dispatches
// to. Fields other than Store may be nil; handlers degrade gracefully.
type Deps struct {
	Store      *storage.Store
	Embedder   *embedding.Engine
	EventIndex *vectorindex.Index
	ExIndex    *vectorindex.Index
	Engine     *retrieval.Engine
	Blame      *blame.Resolver
	Archiver   *archive.Indexer
	Summarizer *summarize.Client
	Bus        *eventbus.Bus
	Config     config.Config
	Log        *slog.Logger
	IndexPaths IndexPaths
}

// New builds a Server bound to socketPath, not yet listening.
func New(socketPath string, d Deps) *Server {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		socketPath:    socketPath,
		store:         d.Store,
		embedder:      d.Embedder,
		eventIndex:    d.EventIndex,
		exIndex:       d.ExIndex,
		engine:        d.Engine,
		blame:         d.Blame,
		archiver:      d.Archiver,
		summarizer:    d.Summarizer,
		bus:           d.Bus,
		cfg:           d.Config,
		log:           log,
		shutdownChan:  make(chan struct{}),
		doneChan:      make(chan struct{}),
		readyChan:     make(chan struct{}),
		connSemaphore: make(chan struct{}, defaultMaxConns),
		startTime:     time.Now(),
		indexPaths:    d.IndexPaths,
		metrics:       NewMetrics(),
	}
}

// Start binds the socket and loops accept until Stop is called or the
// listener errors. A stale socket file (no live daemon behind it) is
// removed first.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("ipc: ensure socket dir: %w", err)
	}
	if err := s.removeStaleSocket(); err != nil {
		return fmt.Errorf("ipc: remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("ipc: listen: %w", err)
	}
	_ = os.Chmod(s.socketPath, 0o600)

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.readyChan)
	defer close(s.doneChan)

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.RLock()
			shutdown := s.shutdown
			s.mu.RUnlock()
			if shutdown {
				return nil
			}
			return fmt.Errorf("ipc: accept: %w", err)
		}

		select {
		case s.connSemaphore <- struct{}{}:
			s.metrics.RecordConnection()
			go func(c net.Conn) {
				defer func() { <-s.connSemaphore }()
				s.handleConnection(ctx, c)
			}(conn)
		default:
			s.metrics.RecordRejectedConnection()
			_ = conn.Close()
		}
	}
}

// WaitReady returns a channel closed once the listener is bound.
func (s *Server) WaitReady() <-chan struct{} {
	return s.readyChan
}

// Stop closes the listener, flushes the vector indexes, and removes the
// socket file. Safe to call more than once.
func (s *Server) Stop(indexPaths IndexPaths) error {
	var stopErr error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()
		close(s.shutdownChan)

		if listener != nil {
			_ = listener.Close()
		}

		if s.eventIndex != nil && indexPaths.Events != "" {
			if err := s.eventIndex.Save(indexPaths.Events); err != nil {
				s.log.Error("save events index on shutdown", "error", err)
			}
		}
		if s.exIndex != nil && indexPaths.Exchanges != "" {
			if err := s.exIndex.Save(indexPaths.Exchanges); err != nil {
				s.log.Error("save exchanges index on shutdown", "error", err)
			}
		}

		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			stopErr = fmt.Errorf("ipc: remove socket: %w", err)
		}
	})

	select {
	case <-s.doneChan:
	case <-time.After(5 * time.Second):
	}
	return stopErr
}

// IndexPaths names where the two vector index sidecars live, so Stop can
// flush them.
type IndexPaths struct {
	Events    string
	Exchanges string
}

// handleConnection services one client connection: read a request line,
// dispatch it, write the response line, repeat until the client disconnects
// or a Shutdown request lands.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in ipc connection handler", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(requestTimeout)); err != nil {
			return
		}
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var req Request
		resp := errResponse("invalid request: unmarshal failed")
		reqStart := time.Now()
		if err := json.Unmarshal(line, &req); err != nil {
			resp = errResponse("invalid request: %v", err)
		} else {
			resp = s.dispatch(ctx, &req)
		}
		s.metrics.RecordRequest(string(req.Type), time.Since(reqStart), resp.Type == TypeError)

		if err := conn.SetWriteDeadline(time.Now().Add(requestTimeout)); err != nil {
			return
		}
		if err := writeResponse(writer, resp); err != nil {
			return
		}

		if s.pendingStop.Load() {
			go func() {
				if err := s.Stop(s.indexPaths); err != nil {
					s.log.Error("shutdown after Shutdown request", "error", err)
				}
			}()
			return
		}
	}
}

func writeResponse(w *bufio.Writer, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Server) removeStaleSocket() error {
	if _, err := os.Stat(s.socketPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	conn, err := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("socket %s is in use by another daemon", s.socketPath)
	}
	if rmErr := os.Remove(s.socketPath); rmErr != nil && !os.IsNotExist(rmErr) {
		return rmErr
	}
	return nil
}
