// Package orchestrator wires ServerPool, WorkspaceCacheRouter, and
// IndexingEngine into the daemon's operational surface: status,
// workspace listing, cache inspection, and indexing lifecycle control.
package orchestrator

import (
	"context"
	"os"
	"sync"
	"time"

	"ckb/internal/cacherouter"
	"ckb/internal/config"
	"ckb/internal/indexing"
	"ckb/internal/logging"
	"ckb/internal/serverpool"
	"ckb/internal/version"
	"ckb/internal/wsid"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
)

// Status is the top-level health/summary snapshot the status operation
// and HTTP endpoint return.
type Status struct {
	Version    string                 `json:"version"`
	PID        int                    `json:"pid"`
	StartedAt  time.Time              `json:"startedAt"`
	Uptime     time.Duration          `json:"uptime"`
	Workspaces int                    `json:"workspaces"`
	ServerPool map[string]interface{} `json:"serverPool"`
	QueueDepth int                    `json:"queueDepth"`
}

// WorkspaceSummary is one entry in ListWorkspaces.
type WorkspaceSummary struct {
	ID   string `json:"id"`
	Root string `json:"root"`
	Open bool   `json:"open"`
}

// CacheSummary is one entry in CacheList.
type CacheSummary struct {
	ID   string `json:"id"`
	Open bool   `json:"open"`
}

// Orchestrator is the Orchestrator of spec.md §6: the thin top-level
// object a `ckbd serve` process constructs once and keeps alive for its
// whole lifetime, grounded on the teacher's Daemon lifecycle
// (New/Start/Stop/Wait/State) but generalized from one HTTP+scheduler
// process per repo to one process fronting many registered workspaces.
type Orchestrator struct {
	cfg    config.WorkspaceDaemonConfig
	logger *logging.Logger

	Pool   *serverpool.Pool
	Router *cacherouter.Router
	Engine *indexing.Engine

	pid *PIDFile

	mu        sync.Mutex
	roots     map[wsid.ID]string
	startedAt time.Time
}

// Deps bundles the already-constructed collaborators New wires together;
// callers build these from cmd/ckbd so Orchestrator itself never decides
// how a DatabaseBackend opens a file or how an AnalyzerManager parses
// source.
type Deps struct {
	Pool   *serverpool.Pool
	Router *cacherouter.Router
	Engine *indexing.Engine
	PIDPath string
}

// New constructs an Orchestrator from already-wired collaborators.
func New(cfg config.WorkspaceDaemonConfig, deps Deps, logger *logging.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:    cfg,
		logger: logger,
		Pool:   deps.Pool,
		Router: deps.Router,
		Engine: deps.Engine,
		roots:  make(map[wsid.ID]string),
	}
	if deps.PIDPath != "" {
		o.pid = NewPIDFile(deps.PIDPath)
	}
	return o
}

// Start acquires the PID file (if configured), starts the indexing
// engine's worker pool, and records the start time used by Status.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.pid != nil {
		if err := o.pid.Acquire(); err != nil {
			return err
		}
	}
	o.startedAt = time.Now()
	o.Engine.StartAnalysisWorkers(ctx)
	o.logger.Info("orchestrator started", map[string]interface{}{"pid": os.Getpid()})
	return nil
}

// Stop stops analysis workers, shuts down every LSP server instance, and
// releases the PID file, in that order so in-flight analysis tasks don't
// race a server teardown.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.Engine.StopAnalysisWorkers()

	if err := o.Pool.ShutdownAll(ctx); err != nil {
		o.logger.Warn("server pool shutdown error", map[string]interface{}{"error": err.Error()})
	}

	o.Router.CloseAll()

	if o.pid != nil {
		if err := o.pid.Release(); err != nil {
			return err
		}
	}
	o.logger.Info("orchestrator stopped", nil)
	return nil
}

// RegisterWorkspace registers root with both the cache router and the
// indexing engine, recording it locally so ListWorkspaces can report its
// root even after its cache has been LRU-evicted.
func (o *Orchestrator) RegisterWorkspace(root string) wsid.ID {
	id := o.Engine.RegisterWorkspace(root)

	o.mu.Lock()
	o.roots[id] = root
	o.mu.Unlock()

	return id
}

// Status reports the daemon's current summary state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	workspaceCount := len(o.roots)
	o.mu.Unlock()

	return Status{
		Version:    version.Version,
		PID:        os.Getpid(),
		StartedAt:  o.startedAt,
		Uptime:     time.Since(o.startedAt),
		Workspaces: workspaceCount,
		ServerPool: o.Pool.Stats(),
		QueueDepth: o.Engine.QueueDepth(),
	}
}

// PIDRunning reports whether a ckbd process is currently running
// according to this orchestrator's PID file, and its PID if so. It
// returns false, 0, nil when no PID file is configured.
func (o *Orchestrator) PIDRunning() (bool, int, error) {
	if o.pid == nil {
		return false, 0, nil
	}
	return o.pid.IsRunning()
}

// Readiness reports whether the daemon is ready to serve requests: the
// PID file (if any) is held by this process. The server pool is not
// checked.
func (o *Orchestrator) Readiness() error {
	if o.pid == nil {
		return nil
	}
	running, pid, err := o.pid.IsRunning()
	if err != nil {
		return err
	}
	if !running || pid != os.Getpid() {
		return errNotReady
	}
	return nil
}

// ListWorkspaces reports every workspace this orchestrator knows about,
// and whether its cache is currently open.
func (o *Orchestrator) ListWorkspaces() []WorkspaceSummary {
	open := o.Router.ListWorkspaces()

	o.mu.Lock()
	defer o.mu.Unlock()

	summaries := make([]WorkspaceSummary, 0, len(o.roots))
	for id, root := range o.roots {
		summaries = append(summaries, WorkspaceSummary{ID: string(id), Root: root, Open: open[id]})
	}
	return summaries
}

// CacheList reports every cache the router currently knows about (open or
// registered-but-closed).
func (o *Orchestrator) CacheList() []CacheSummary {
	open := o.Router.ListWorkspaces()

	o.mu.Lock()
	defer o.mu.Unlock()

	summaries := make([]CacheSummary, 0, len(o.roots))
	for id := range o.roots {
		summaries = append(summaries, CacheSummary{ID: string(id), Open: open[id]})
	}
	return summaries
}

// CacheInfo reports the backend-level stats for one workspace's cache,
// opening it if it isn't already (subject to the router's LRU budget).
func (o *Orchestrator) CacheInfo(ctx context.Context, id wsid.ID) (map[string]interface{}, error) {
	backend, err := o.Router.CacheForWorkspace(id)
	if err != nil {
		return nil, err
	}
	return backend.Stats(ctx)
}

// CacheClear empties one workspace's cache entries without closing its
// backend.
func (o *Orchestrator) CacheClear(ctx context.Context, id wsid.ID) error {
	return o.Router.ClearWorkspaceCache(ctx, id)
}

// StartIndexing kicks off an incremental analysis pass for a workspace.
func (o *Orchestrator) StartIndexing(ctx context.Context, id wsid.ID, scanPath string) (*indexing.WorkspaceAnalysisResult, error) {
	return o.Engine.AnalyzeWorkspaceIncremental(ctx, id, scanPath)
}

// StopIndexing stops the engine's worker pool entirely; queued tasks for
// every workspace are abandoned (not persisted across a restart).
func (o *Orchestrator) StopIndexing() {
	o.Engine.StopAnalysisWorkers()
}

// PauseIndexing halts task dequeuing without discarding queued work.
func (o *Orchestrator) PauseIndexing() {
	o.Engine.Pause()
}

// ResumeIndexing resumes task dequeuing after PauseIndexing.
func (o *Orchestrator) ResumeIndexing() {
	o.Engine.Resume()
}

// Progress reports indexing progress for one workspace.
func (o *Orchestrator) Progress(id wsid.ID) (*indexing.Progress, error) {
	return o.Engine.Progress(id)
}

// ExportSCIP converts one workspace file's cached symbols to a SCIP
// Document for external interchange.
func (o *Orchestrator) ExportSCIP(ctx context.Context, id wsid.ID, relFile string) (*scippb.Document, error) {
	return o.Engine.ExportSCIPDocument(ctx, id, relFile)
}
