package serverpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ckb/internal/logging"
	"ckb/internal/lspclient"
)

// fakeHandle is an in-memory lspclient.Handle that never shells out, so pool
// tests can exercise spawn/register/dedup behavior without a real language
// server binary.
type fakeHandle struct {
	pid int

	mu              sync.Mutex
	alive           bool
	addedWorkspaces []string
	shutdownCalls   int
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, alive: true}
}

func (h *fakeHandle) Initialize(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"capabilities": map[string]interface{}{}}, nil
}

func (h *fakeHandle) Definition(ctx context.Context, uri string, line, character int) (interface{}, error) {
	return nil, nil
}

func (h *fakeHandle) References(ctx context.Context, uri string, line, character int, includeDeclaration bool) (interface{}, error) {
	return nil, nil
}

func (h *fakeHandle) Hover(ctx context.Context, uri string, line, character int) (interface{}, error) {
	return nil, nil
}

func (h *fakeHandle) CallHierarchy(ctx context.Context, uri string, line, character int, direction lspclient.CallHierarchyDirection) (interface{}, error) {
	return nil, nil
}

func (h *fakeHandle) TypeDefinition(ctx context.Context, uri string, line, character int) (interface{}, error) {
	return nil, nil
}

func (h *fakeHandle) Implementation(ctx context.Context, uri string, line, character int) (interface{}, error) {
	return nil, nil
}

func (h *fakeHandle) DocumentSymbols(ctx context.Context, uri string) (interface{}, error) { return nil, nil }

func (h *fakeHandle) WorkspaceSymbols(ctx context.Context, query string) (interface{}, error) {
	return nil, nil
}

func (h *fakeHandle) NotifyDocumentOpen(uri, languageID, text string, version int) error { return nil }
func (h *fakeHandle) NotifyDocumentClose(uri string) error                              { return nil }

func (h *fakeHandle) AddWorkspaceFolder(ctx context.Context, root string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addedWorkspaces = append(h.addedWorkspaces, root)
	return nil
}

func (h *fakeHandle) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdownCalls++
	h.alive = false
	return nil
}

func (h *fakeHandle) Pid() int { return h.pid }

func (h *fakeHandle) SupportsCapability(name string) bool { return true }

func (h *fakeHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *fakeHandle) addedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.addedWorkspaces)
}

// fakeSpawner hands out a fresh fakeHandle per call and counts how many times
// Spawn was invoked per language, so tests can assert a second workspace
// reused the existing process instead of spawning a new one.
type fakeSpawner struct {
	mu      sync.Mutex
	spawns  map[string]int
	nextPID int32
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{spawns: make(map[string]int)}
}

func (s *fakeSpawner) Spawn(ctx context.Context, command string, args []string, workspaceRoot string) (lspclient.Handle, error) {
	s.mu.Lock()
	s.spawns[command]++
	s.mu.Unlock()
	pid := int(atomic.AddInt32(&s.nextPID, 1))
	return newFakeHandle(pid), nil
}

func (s *fakeSpawner) spawnCount(command string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawns[command]
}

type failingSpawner struct{}

func (failingSpawner) Spawn(ctx context.Context, command string, args []string, workspaceRoot string) (lspclient.Handle, error) {
	return nil, errors.New("spawn failed")
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Format: logging.HumanFormat, Level: logging.ErrorLevel})
}

func testPool(spawner lspclient.Spawner) *Pool {
	return New(&Config{
		Servers: map[string]LanguageServer{
			"go": {Command: "gopls", Args: nil},
		},
		MaxTotalProcesses: 2,
	}, spawner, testLogger())
}

func TestEnsureWorkspaceSpawnsOncePerLanguage(t *testing.T) {
	spawner := newFakeSpawner()
	pool := testPool(spawner)
	defer pool.ShutdownAll(context.Background())

	if err := pool.EnsureWorkspace(context.Background(), "/repo/a", "go"); err != nil {
		t.Fatalf("EnsureWorkspace(a): %v", err)
	}
	if err := pool.EnsureWorkspace(context.Background(), "/repo/b", "go"); err != nil {
		t.Fatalf("EnsureWorkspace(b): %v", err)
	}

	if got := spawner.spawnCount("gopls"); got != 1 {
		t.Fatalf("spawnCount = %d, want 1 (second workspace should multiplex onto the same process)", got)
	}

	inst := pool.get("go")
	if inst == nil {
		t.Fatal("expected a go instance after EnsureWorkspace")
	}
	if inst.workspaceCount() != 2 {
		t.Fatalf("workspaceCount = %d, want 2", inst.workspaceCount())
	}
	fh, ok := inst.handle.(*fakeHandle)
	if !ok {
		t.Fatalf("expected *fakeHandle, got %T", inst.handle)
	}
	if fh.addedCount() != 1 {
		t.Fatalf("AddWorkspaceFolder called %d times, want 1 (only the second workspace registers live)", fh.addedCount())
	}
}

func TestEnsureWorkspaceConcurrentCallsDedup(t *testing.T) {
	spawner := newFakeSpawner()
	pool := testPool(spawner)
	defer pool.ShutdownAll(context.Background())

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = pool.EnsureWorkspace(context.Background(), "/repo/same", "go")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("EnsureWorkspace[%d]: %v", i, err)
		}
	}
	if got := spawner.spawnCount("gopls"); got != 1 {
		t.Fatalf("spawnCount = %d, want 1 under concurrent callers for the same workspace", got)
	}
}

func TestEnsureWorkspaceNoServerConfigured(t *testing.T) {
	pool := New(&Config{Servers: map[string]LanguageServer{}}, newFakeSpawner(), testLogger())
	defer pool.ShutdownAll(context.Background())

	if err := pool.EnsureWorkspace(context.Background(), "/repo/a", "rust"); err == nil {
		t.Fatal("expected an error for an unconfigured language")
	}
}

func TestEnsureWorkspaceSpawnFailurePropagates(t *testing.T) {
	pool := New(&Config{
		Servers: map[string]LanguageServer{"go": {Command: "gopls"}},
	}, failingSpawner{}, testLogger())
	defer pool.ShutdownAll(context.Background())

	if err := pool.EnsureWorkspace(context.Background(), "/repo/a", "go"); err == nil {
		t.Fatal("expected spawn failure to propagate")
	}
}

func TestStatsByLanguageCountsWorkspaces(t *testing.T) {
	spawner := newFakeSpawner()
	pool := testPool(spawner)
	defer pool.ShutdownAll(context.Background())

	if err := pool.EnsureWorkspace(context.Background(), "/repo/a", "go"); err != nil {
		t.Fatalf("EnsureWorkspace: %v", err)
	}
	if err := pool.EnsureWorkspace(context.Background(), "/repo/b", "go"); err != nil {
		t.Fatalf("EnsureWorkspace: %v", err)
	}

	stats := pool.Stats()
	byLanguage, ok := stats["byLanguage"].(map[string]int)
	if !ok {
		t.Fatalf("byLanguage has unexpected type %T", stats["byLanguage"])
	}
	if byLanguage["go"] != 2 {
		t.Fatalf("byLanguage[go] = %d, want 2", byLanguage["go"])
	}
	if stats["totalProcesses"].(int) != 1 {
		t.Fatalf("totalProcesses = %v, want 1 (still a single process for the language)", stats["totalProcesses"])
	}
}

func TestCheckProcessHealthSkipsDuringWarmupGrace(t *testing.T) {
	spawner := newFakeSpawner()
	pool := New(&Config{
		Servers:             map[string]LanguageServer{"go": {Command: "gopls"}},
		MaxTotalProcesses:   2,
		WarmupGrace:         time.Hour,
		MaxServerCPUPercent: 0.000001, // lowest positive limit (non-positive falls back to the default), so any sampled CPU use is over it
	}, spawner, testLogger())
	defer pool.ShutdownAll(context.Background())

	if err := pool.EnsureWorkspace(context.Background(), "/repo/a", "go"); err != nil {
		t.Fatalf("EnsureWorkspace: %v", err)
	}

	killed := pool.CheckProcessHealth()
	if len(killed) != 0 {
		t.Fatalf("CheckProcessHealth killed %v during warm-up grace, want none", killed)
	}
}

func TestNormalizeWorkspaceRootAbsolutizes(t *testing.T) {
	got := normalizeWorkspaceRoot("relative/path")
	if got == "relative/path" {
		t.Fatalf("normalizeWorkspaceRoot did not absolutize: %q", got)
	}
}

func TestCallKeyDistinguishesOperationsAndPositions(t *testing.T) {
	a := callKey("references", "go", "file:///a.go", 1, 2)
	b := callKey("references", "go", "file:///a.go", 1, 3)
	c := callKey("implementation", "go", "file:///a.go", 1, 2)
	if a == b {
		t.Fatal("callKey should differ by character")
	}
	if a == c {
		t.Fatal("callKey should differ by operation")
	}
}
