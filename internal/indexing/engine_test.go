package indexing

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ckb/internal/analyzer"
	"ckb/internal/cacherouter"
	"ckb/internal/database"
	"ckb/internal/logging"
	"ckb/internal/lspclient"
	"ckb/internal/serverpool"
	"ckb/internal/wsid"
)

// fakeAnalyzer returns a fixed symbol/edge/callable set for every file,
// regardless of its actual contents, so engine tests can exercise the
// storage and warming paths without a real tree-sitter build.
type fakeAnalyzer struct{}

func (fakeAnalyzer) SupportsLanguage(analyzer.Language) bool { return true }

func (fakeAnalyzer) Analyze(ctx context.Context, file string, source []byte, lang analyzer.Language) (*analyzer.AnalysisResult, error) {
	return &analyzer.AnalysisResult{
		File:     file,
		Language: lang,
		Symbols: []database.Symbol{
			{ID: file + "#doWork", File: file, Name: "doWork", Kind: "function", Line: 1},
		},
		Callables: []analyzer.CallableSymbol{
			{Name: "doWork", Kind: "function", Line: 1, Character: 0, Complexity: 1},
		},
	}, nil
}

// fakeBackend is an in-memory database.DatabaseBackend for tests.
type fakeBackend struct {
	mu      sync.Mutex
	symbols map[string][]database.Symbol
	edges   map[string][]database.Edge
	cache   map[string]database.CacheEntry
	closed  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		symbols: make(map[string][]database.Symbol),
		edges:   make(map[string][]database.Edge),
		cache:   make(map[string]database.CacheEntry),
	}
}

func (b *fakeBackend) StoreSymbols(ctx context.Context, file string, symbols []database.Symbol) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.symbols[file] = symbols
	return nil
}

func (b *fakeBackend) StoreEdges(ctx context.Context, file string, edges []database.Edge) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edges[file] = edges
	return nil
}

func (b *fakeBackend) GetByFile(ctx context.Context, file string) ([]database.Symbol, []database.Edge, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.symbols[file], b.edges[file], nil
}

func (b *fakeBackend) DeleteFile(ctx context.Context, file string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.symbols, file)
	delete(b.edges, file)
	return nil
}

func (b *fakeBackend) GetCacheEntry(ctx context.Context, nodeKey string) (database.CacheEntry, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.cache[nodeKey]
	return entry, ok, nil
}

func (b *fakeBackend) PutCacheEntry(ctx context.Context, entry database.CacheEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache[entry.NodeKey] = entry
	return nil
}

func (b *fakeBackend) RemoveCacheEntry(ctx context.Context, nodeKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, nodeKey)
	return nil
}

func (b *fakeBackend) ClearCache(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache = make(map[string]database.CacheEntry)
	return nil
}

func (b *fakeBackend) ClearEntriesOlderThan(ctx context.Context, cutoff int64) (int, error) {
	return 0, nil
}

func (b *fakeBackend) Stats(ctx context.Context) (map[string]interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{"cache_entries": len(b.cache)}, nil
}

func (b *fakeBackend) Close() error {
	b.closed = true
	return nil
}

// fakeDetector classifies any ".go" file as "go" and everything else as
// unsupported, avoiding a dependency on real manifest files on disk.
type fakeDetector struct{}

func (fakeDetector) DetectPrimary(root string) (string, bool) { return "go", true }
func (fakeDetector) DetectAll(root string) []string           { return []string{"go"} }
func (fakeDetector) DetectFile(path string) (string, bool) {
	if strings.HasSuffix(path, ".go") {
		return "go", true
	}
	return "", false
}

// refusingSpawner fails every spawn attempt; tests here never configure a
// language server, so SupportsCallHierarchy should short-circuit before
// this is ever called.
type refusingSpawner struct{}

func (refusingSpawner) Spawn(ctx context.Context, command string, args []string, root string) (lspclient.Handle, error) {
	panic("spawn should not be invoked when no language server is configured")
}

func testEngine(t *testing.T) (*Engine, *fakeBackend, string) {
	t.Helper()

	backend := newFakeBackend()
	logger := logging.NewLogger(logging.Config{Format: logging.HumanFormat, Level: logging.ErrorLevel})

	router := cacherouter.New(cacherouter.Config{}, func(id wsid.ID, root string) (database.DatabaseBackend, error) {
		return backend, nil
	}, logger)

	pool := serverpool.New(&serverpool.Config{}, refusingSpawner{}, logger)

	engine := NewEngine(Config{WorkerCount: 1, MaxQueueDepth: 100}, pool, router, fakeAnalyzer{}, fakeDetector{}, logger)

	root := t.TempDir()
	return engine, backend, root
}

func TestEngineAnalyzeFileStoresAndWarms(t *testing.T) {
	engine, backend, root := testEngine(t)
	id := engine.RegisterWorkspace(root)

	file := filepath.Join(root, "main.go")
	if err := os.WriteFile(file, []byte("package main\nfunc doWork() {}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := engine.AnalyzeFile(context.Background(), id, root, file, "go", TaskFullAnalysis)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	if result.SymbolCount != 1 {
		t.Errorf("SymbolCount = %d, want 1", result.SymbolCount)
	}
	// No language server is registered, so SupportsCallHierarchy is false
	// and nothing should be warmed.
	if result.WarmedCount != 0 {
		t.Errorf("WarmedCount = %d, want 0 (no server configured)", result.WarmedCount)
	}

	backend.mu.Lock()
	stored := len(backend.symbols)
	backend.mu.Unlock()
	if stored != 1 {
		t.Errorf("expected one file's symbols stored, got %d files", stored)
	}
}

func TestEngineProcessFileChangesDelete(t *testing.T) {
	engine, backend, root := testEngine(t)
	id := engine.RegisterWorkspace(root)

	rel := "main.go"
	backend.symbols[rel] = []database.Symbol{{ID: "x", File: rel, Name: "x"}}

	err := engine.ProcessFileChanges(context.Background(), id, root, []FileChange{
		{Path: filepath.Join(root, rel), Kind: ChangeDelete},
	})
	if err != nil {
		t.Fatalf("ProcessFileChanges: %v", err)
	}

	backend.mu.Lock()
	_, ok := backend.symbols[rel]
	backend.mu.Unlock()
	if ok {
		t.Error("expected symbols for deleted file to be removed")
	}
}

func TestEngineGetDependentFiles(t *testing.T) {
	engine, _, root := testEngine(t)
	id := engine.RegisterWorkspace(root)

	ws, err := engine.state(id)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	ws.fileDeps = map[string][]string{
		"a.go": {"b.go"},
		"b.go": {},
	}
	ws.languages = map[string]string{"a.go": "go", "b.go": "go"}

	dependents, err := engine.GetDependentFiles(id, []string{"b.go"})
	if err != nil {
		t.Fatalf("GetDependentFiles: %v", err)
	}
	if len(dependents) != 1 || dependents[0] != "a.go" {
		t.Errorf("GetDependentFiles(b.go) = %v, want [a.go]", dependents)
	}
}

func TestEngineWorkerLifecycle(t *testing.T) {
	engine, _, root := testEngine(t)
	id := engine.RegisterWorkspace(root)

	file := filepath.Join(root, "worker.go")
	if err := os.WriteFile(file, []byte("package main\nfunc doWork() {}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	engine.StartAnalysisWorkers(context.Background())
	defer engine.StopAnalysisWorkers()

	task := &AnalysisTask{
		TaskID:      "t1",
		Priority:    PriorityNormal,
		WorkspaceID: string(id),
		TaskType:    TaskFullAnalysis,
		FilePath:    file,
		Language:    "go",
		MaxRetries:  1,
	}
	if err := engine.queue.Enqueue(task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := 0
	for {
		progress, err := engine.Progress(id)
		if err != nil {
			t.Fatalf("Progress: %v", err)
		}
		if progress.Completed > 0 || progress.Failed > 0 {
			break
		}
		deadline++
		if deadline > 200 {
			t.Fatal("worker never processed the enqueued task")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngineExportSCIPDocument(t *testing.T) {
	engine, _, root := testEngine(t)
	id := engine.RegisterWorkspace(root)

	file := filepath.Join(root, "main.go")
	if err := os.WriteFile(file, []byte("package main\nfunc doWork() {}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := engine.AnalyzeFile(context.Background(), id, root, file, "go", TaskFullAnalysis); err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}

	doc, err := engine.ExportSCIPDocument(context.Background(), id, "main.go")
	if err != nil {
		t.Fatalf("ExportSCIPDocument: %v", err)
	}
	if doc.RelativePath != "main.go" {
		t.Errorf("RelativePath = %q, want main.go", doc.RelativePath)
	}
	if len(doc.Symbols) != 1 || doc.Symbols[0].DisplayName != "doWork" {
		t.Errorf("Symbols = %+v, want one symbol named doWork", doc.Symbols)
	}
}
