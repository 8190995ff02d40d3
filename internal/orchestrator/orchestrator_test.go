package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"ckb/internal/analyzer"
	"ckb/internal/cacherouter"
	"ckb/internal/config"
	"ckb/internal/database"
	"ckb/internal/indexing"
	"ckb/internal/logging"
	"ckb/internal/lspclient"
	"ckb/internal/serverpool"
	"ckb/internal/wsid"
)

type noopAnalyzer struct{}

func (noopAnalyzer) SupportsLanguage(analyzer.Language) bool { return true }
func (noopAnalyzer) Analyze(ctx context.Context, file string, source []byte, lang analyzer.Language) (*analyzer.AnalysisResult, error) {
	return &analyzer.AnalysisResult{File: file, Language: lang}, nil
}

type noopDetector struct{}

func (noopDetector) DetectPrimary(root string) (string, bool) { return "go", true }
func (noopDetector) DetectAll(root string) []string           { return []string{"go"} }
func (noopDetector) DetectFile(path string) (string, bool)    { return "go", true }

type memBackend struct {
	symbols map[string][]database.Symbol
	cache   map[string]database.CacheEntry
}

func newMemBackend() *memBackend {
	return &memBackend{symbols: map[string][]database.Symbol{}, cache: map[string]database.CacheEntry{}}
}

func (b *memBackend) StoreSymbols(ctx context.Context, file string, symbols []database.Symbol) error {
	b.symbols[file] = symbols
	return nil
}
func (b *memBackend) StoreEdges(ctx context.Context, file string, edges []database.Edge) error {
	return nil
}
func (b *memBackend) GetByFile(ctx context.Context, file string) ([]database.Symbol, []database.Edge, error) {
	return b.symbols[file], nil, nil
}
func (b *memBackend) DeleteFile(ctx context.Context, file string) error {
	delete(b.symbols, file)
	return nil
}
func (b *memBackend) GetCacheEntry(ctx context.Context, nodeKey string) (database.CacheEntry, bool, error) {
	e, ok := b.cache[nodeKey]
	return e, ok, nil
}
func (b *memBackend) PutCacheEntry(ctx context.Context, entry database.CacheEntry) error {
	b.cache[entry.NodeKey] = entry
	return nil
}
func (b *memBackend) RemoveCacheEntry(ctx context.Context, nodeKey string) error {
	delete(b.cache, nodeKey)
	return nil
}
func (b *memBackend) ClearCache(ctx context.Context) error {
	b.cache = map[string]database.CacheEntry{}
	return nil
}
func (b *memBackend) ClearEntriesOlderThan(ctx context.Context, cutoff int64) (int, error) {
	return 0, nil
}
func (b *memBackend) Stats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"symbols": len(b.symbols), "cache": len(b.cache)}, nil
}
func (b *memBackend) Close() error { return nil }

type refusingSpawner struct{}

func (refusingSpawner) Spawn(ctx context.Context, command string, args []string, root string) (lspclient.Handle, error) {
	panic("no language server is configured in this test")
}

func testOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	logger := logging.NewLogger(logging.Config{Format: logging.HumanFormat, Level: logging.ErrorLevel})
	backend := newMemBackend()

	router := cacherouter.New(cacherouter.Config{}, func(id wsid.ID, root string) (database.DatabaseBackend, error) {
		return backend, nil
	}, logger)

	pool := serverpool.New(&serverpool.Config{}, refusingSpawner{}, logger)

	engine := indexing.NewEngine(indexing.Config{WorkerCount: 1, MaxQueueDepth: 100}, pool, router, noopAnalyzer{}, noopDetector{}, logger)

	cfg := config.DefaultWorkspaceDaemonConfig()
	pidPath := filepath.Join(t.TempDir(), "ckbd.pid")

	return New(cfg, Deps{Pool: pool, Router: router, Engine: engine, PIDPath: pidPath}, logger)
}

func TestOrchestratorLifecycle(t *testing.T) {
	o := testOrchestrator(t)
	ctx := context.Background()

	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Readiness(); err != nil {
		t.Errorf("Readiness after Start: %v", err)
	}

	root := t.TempDir()
	id := o.RegisterWorkspace(root)

	workspaces := o.ListWorkspaces()
	if len(workspaces) != 1 || workspaces[0].ID != string(id) {
		t.Errorf("ListWorkspaces = %+v, want one entry for %s", workspaces, id)
	}

	status := o.Status()
	if status.Workspaces != 1 {
		t.Errorf("Status.Workspaces = %d, want 1", status.Workspaces)
	}

	if err := o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestOrchestratorCacheOperations(t *testing.T) {
	o := testOrchestrator(t)
	ctx := context.Background()
	root := t.TempDir()
	id := o.RegisterWorkspace(root)

	info, err := o.CacheInfo(ctx, id)
	if err != nil {
		t.Fatalf("CacheInfo: %v", err)
	}
	if info == nil {
		t.Fatal("CacheInfo returned nil stats")
	}

	if err := o.CacheClear(ctx, id); err != nil {
		t.Fatalf("CacheClear: %v", err)
	}

	caches := o.CacheList()
	if len(caches) != 1 || caches[0].ID != string(id) {
		t.Errorf("CacheList = %+v, want one entry for %s", caches, id)
	}
}

func TestOrchestratorIndexingPauseResume(t *testing.T) {
	o := testOrchestrator(t)
	ctx := context.Background()
	root := t.TempDir()
	id := o.RegisterWorkspace(root)

	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop(ctx)

	o.PauseIndexing()
	o.ResumeIndexing()

	progress, err := o.Progress(id)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.WorkspaceID != string(id) {
		t.Errorf("Progress.WorkspaceID = %s, want %s", progress.WorkspaceID, id)
	}
}
