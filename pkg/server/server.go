// Package server exposes the storage kernel over a thin HTTP admin
// surface: table and index management, record operations, scans with
// cursors, statistics, a live websocket feed and scheduled maintenance.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/etushar89/rdbms-core/pkg/backup"
	"github.com/etushar89/rdbms-core/pkg/btree"
	"github.com/etushar89/rdbms-core/pkg/metrics"
	"github.com/etushar89/rdbms-core/pkg/record"
	"github.com/etushar89/rdbms-core/pkg/storage"
)

// Server wires the kernel managers behind a chi router.
type Server struct {
	config  *Config
	router  *chi.Mux
	httpSrv *http.Server

	tables  *record.Manager
	indexes *btree.Manager
	stats   *metrics.Collector
	cron    *cron.Cron

	mu      sync.Mutex
	open    map[string]*record.Table
	trees   map[string]*btree.BTree
	cursors map[string]*cursor
}

// cursor is a server-side scan and its creation time. Cursors do not
// expire; they live until closed or until Shutdown.
type cursor struct {
	table   string
	scan    *record.ScanIterator
	created time.Time
}

// New builds a server from the config, creating the data directory when
// missing.
func New(cfg *Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	fs, err := cfg.FileSystem()
	if err != nil {
		return nil, err
	}
	sm := storage.NewManager(fs)
	srv := &Server{
		config:  cfg,
		router:  chi.NewRouter(),
		tables:  record.NewManager(sm, cfg.BufferFrames, cfg.ReplacementStrategy()),
		indexes: btree.NewManager(sm, cfg.BufferFrames, cfg.ReplacementStrategy()),
		stats:   metrics.NewCollector(),
		open:    make(map[string]*record.Table),
		trees:   make(map[string]*btree.BTree),
		cursors: make(map[string]*cursor),
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.RealIP)
	srv.router.Use(middleware.Logger)
	srv.router.Use(middleware.Recoverer)
	srv.setupRoutes()

	if err := srv.setupJobs(); err != nil {
		return nil, err
	}

	srv.httpSrv = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv, nil
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/debug/live", s.handleLiveStats)
	s.router.Handle("/graphql", s.graphqlHandler())

	s.router.Route("/tables", func(r chi.Router) {
		r.Get("/", s.handleListTables)
		r.Post("/", s.handleCreateTable)
		r.Route("/{table}", func(r chi.Router) {
			r.Get("/", s.handleTableStats)
			r.Delete("/", s.handleDropTable)
			r.Post("/records", s.handleInsert)
			r.Get("/records/{page}/{slot}", s.handleGetRecord)
			r.Delete("/records/{page}/{slot}", s.handleDeleteRecord)
			r.Post("/scans", s.handleOpenScan)
			r.Post("/snapshot", s.handleSnapshot)
		})
	})
	s.router.Route("/scans/{cursor}", func(r chi.Router) {
		r.Get("/", s.handleScanNext)
		r.Delete("/", s.handleCloseScan)
	})
	s.router.Route("/indexes", func(r chi.Router) {
		r.Post("/", s.handleCreateIndex)
		r.Route("/{index}", func(r chi.Router) {
			r.Get("/", s.handleIndexStats)
			r.Delete("/", s.handleDropIndex)
			r.Post("/entries", s.handleIndexInsert)
			r.Get("/entries/{key}", s.handleIndexFind)
			r.Delete("/entries/{key}", s.handleIndexDelete)
			r.Get("/entries", s.handleIndexScan)
		})
	})
}

// setupJobs registers the cron-driven maintenance: periodic pool flush
// and scheduled snapshots of every open table.
func (s *Server) setupJobs() error {
	if s.config.FlushSchedule == "" && s.config.SnapshotSchedule == "" {
		return nil
	}
	s.cron = cron.New()

	if s.config.FlushSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.FlushSchedule, s.flushOpenTables); err != nil {
			return fmt.Errorf("bad flush_schedule: %w", err)
		}
	}
	if s.config.SnapshotSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.SnapshotSchedule, s.snapshotOpenTables); err != nil {
			return fmt.Errorf("bad snapshot_schedule: %w", err)
		}
	}
	return nil
}

func (s *Server) flushOpenTables() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, tbl := range s.open {
		if err := tbl.Pool().ForceFlushPool(); err != nil {
			log.Printf("flush of table %s failed: %v", name, err)
		}
	}
}

func (s *Server) snapshotOpenTables() {
	s.mu.Lock()
	names := make([]string, 0, len(s.open))
	for name := range s.open {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if _, err := s.snapshotTable(name, s.config.SnapshotDir, s.config.SnapshotPassphrase); err != nil {
			log.Printf("snapshot of table %s failed: %v", name, err)
		}
	}
}

// snapshotTable closes the table around the file copy so the header page
// and every dirty frame are on disk, then reopens it.
func (s *Server) snapshotTable(name, dir, passphrase string) (*backup.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tbl, ok := s.open[name]
	if !ok {
		return nil, record.ErrInvalidTableName
	}
	if err := tbl.Close(); err != nil {
		return nil, err
	}
	delete(s.open, name)

	path := s.tablePath(name)
	files := []string{path}
	if s.tables.StorageManager().Exists(path + record.IndexFileExt) {
		files = append(files, path+record.IndexFileExt)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	dst := filepath.Join(dir, fmt.Sprintf("%s-%d.snap", name, time.Now().Unix()))
	man, err := backup.Create(dst, name, files, backup.Options{Passphrase: passphrase})
	if err != nil {
		return nil, err
	}
	s.stats.RecordSnapshot()

	reopened, err := s.tables.OpenTable(path)
	if err != nil {
		return man, fmt.Errorf("snapshot done but reopen failed: %w", err)
	}
	s.open[name] = reopened
	return man, nil
}

// tablePath maps a table name into the data directory.
func (s *Server) tablePath(name string) string {
	return filepath.Join(s.config.DataDir, name)
}

// indexPath maps an index name into the data directory.
func (s *Server) indexPath(name string) string {
	return filepath.Join(s.config.DataDir, name+".btx")
}

// Run starts the listener and blocks until SIGINT/SIGTERM, then shuts
// down gracefully.
func (s *Server) Run() error {
	if s.cron != nil {
		s.cron.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("admin server listening on %s", s.config.Addr())
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the listener, the cron jobs, and closes every open
// table, tree and cursor.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cron != nil {
		s.cron.Stop()
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.cursors {
		c.scan.Close()
		delete(s.cursors, id)
	}
	var firstErr error
	for name, tbl := range s.open {
		if err := tbl.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close table %s: %w", name, err)
		}
		delete(s.open, name)
	}
	for name, tree := range s.trees {
		if err := tree.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close index %s: %w", name, err)
		}
		delete(s.trees, name)
	}
	return firstErr
}
