package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ckb/internal/analyzer"
	"ckb/internal/cacherouter"
	"ckb/internal/config"
	"ckb/internal/database"
	"ckb/internal/indexing"
	"ckb/internal/langdetect"
	"ckb/internal/logging"
	"ckb/internal/lspclient"
	"ckb/internal/orchestrator"
	"ckb/internal/serverpool"
	"ckb/internal/wsid"
)

// buildOrchestrator wires an Orchestrator from configuration the way
// `ckbd serve`/`ckbd status`/etc. all need: a server pool backed by real
// language server subprocesses, a cache router whose factory opens one
// SQLite backend per workspace under stateDir, and an indexing engine on
// top of both.
func buildOrchestrator(cfg *config.Config, stateDir string, logger *logging.Logger) (*orchestrator.Orchestrator, error) {
	wd := cfg.WorkspaceDaemon

	pool := serverpool.New(&serverpool.Config{
		MaxTotalProcesses:              wd.ServerPool.MaxTotalProcesses,
		MaxConcurrentRequestsPerServer: wd.ServerPool.MaxConcurrentRequestsPerServer,
		MaxConsecutiveFailures:         wd.ServerPool.MaxConsecutiveFailures,
		WarmupGrace:                    time.Duration(wd.ServerPool.WarmupGraceSeconds) * time.Second,
		MaxServerCPUPercent:            wd.ServerPool.MaxServerCPUPercent,
		MaxServerMemoryMB:              wd.ServerPool.MaxServerMemoryMB,
	}, lspclient.NewProcessSpawner(), logger)

	factory := func(id wsid.ID, root string) (database.DatabaseBackend, error) {
		dataDir := filepath.Join(stateDir, "workspaces", string(id))
		backend, err := database.Open(dataDir, logger)
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
	router := cacherouter.New(cacherouter.Config{
		MaxOpenCaches:        wd.CacheRouter.MaxOpenCaches,
		MaxParentLookupDepth: wd.CacheRouter.MaxParentLookupDepth,
	}, factory, logger)

	engine := indexing.NewEngine(indexing.Config{
		WorkerCount:   wd.Indexing.WorkerCount,
		MaxQueueDepth: wd.Indexing.MaxQueueDepth,
	}, pool, router, analyzer.New(), langdetect.New(), logger)

	return orchestrator.New(wd, orchestrator.Deps{
		Pool:    pool,
		Router:  router,
		Engine:  engine,
		PIDPath: filepath.Join(stateDir, "ckbd.pid"),
	}, logger), nil
}

// defaultStateDir returns $CKBD_STATE_DIR if set, else ~/.ckbd.
func defaultStateDir() (string, error) {
	if dir := os.Getenv("CKBD_STATE_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".ckbd"), nil
}
