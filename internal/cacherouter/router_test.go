package cacherouter

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"ckb/internal/database"
	"ckb/internal/logging"
	"ckb/internal/wsid"
)

// fakeBackend is an in-memory database.DatabaseBackend, one per opened
// workspace, so tests can assert which workspace a read or invalidation
// actually reached.
type fakeBackend struct {
	mu           sync.Mutex
	root         string
	deletedFiles []string
	closed       bool
}

func newFakeBackend(root string) *fakeBackend {
	return &fakeBackend{root: root}
}

func (b *fakeBackend) StoreSymbols(ctx context.Context, file string, symbols []database.Symbol) error {
	return nil
}
func (b *fakeBackend) StoreEdges(ctx context.Context, file string, edges []database.Edge) error {
	return nil
}
func (b *fakeBackend) GetByFile(ctx context.Context, file string) ([]database.Symbol, []database.Edge, error) {
	return nil, nil, nil
}
func (b *fakeBackend) DeleteFile(ctx context.Context, file string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletedFiles = append(b.deletedFiles, file)
	return nil
}
func (b *fakeBackend) GetCacheEntry(ctx context.Context, nodeKey string) (database.CacheEntry, bool, error) {
	return database.CacheEntry{}, false, nil
}
func (b *fakeBackend) PutCacheEntry(ctx context.Context, entry database.CacheEntry) error { return nil }
func (b *fakeBackend) RemoveCacheEntry(ctx context.Context, nodeKey string) error         { return nil }
func (b *fakeBackend) ClearCache(ctx context.Context) error                              { return nil }
func (b *fakeBackend) ClearEntriesOlderThan(ctx context.Context, cutoff int64) (int, error) {
	return 0, nil
}
func (b *fakeBackend) Stats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}
func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBackend) deletedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deletedFiles)
}

// fakeFactory hands out one fakeBackend per workspace root and remembers
// every backend it created, keyed by root, so tests can inspect them after
// the router reopens an evicted one.
type fakeFactory struct {
	mu       sync.Mutex
	byRoot   map[string]*fakeBackend
	openCall int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{byRoot: make(map[string]*fakeBackend)}
}

func (f *fakeFactory) open(id wsid.ID, root string) (database.DatabaseBackend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCall++
	if b, ok := f.byRoot[root]; ok {
		return b, nil
	}
	b := newFakeBackend(root)
	f.byRoot[root] = b
	return b, nil
}

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Format: logging.HumanFormat, Level: logging.ErrorLevel})
}

// layoutNestedWorkspaces builds:
//
//	tmp/parent/          (go.mod marker)
//	tmp/parent/child/    (.git marker)
//	tmp/parent/child/file.go
//
// so child is the file's nearest workspace and parent is a marker-carrying
// ancestor PickReadPath should also discover.
func layoutNestedWorkspaces(t *testing.T) (parent, child, file string) {
	t.Helper()
	tmp := t.TempDir()
	parent = filepath.Join(tmp, "parent")
	child = filepath.Join(parent, "child")
	if err := os.MkdirAll(filepath.Join(child, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir child/.git: %v", err)
	}
	if err := os.WriteFile(filepath.Join(parent, "go.mod"), []byte("module x\n"), 0o644); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}
	file = filepath.Join(child, "file.go")
	if err := os.WriteFile(file, []byte("package x\n"), 0o644); err != nil {
		t.Fatalf("write file.go: %v", err)
	}
	return parent, child, file
}

func TestPickReadPathWalksMarkerCarryingAncestors(t *testing.T) {
	parent, child, file := layoutNestedWorkspaces(t)
	factory := newFakeFactory()
	router := New(Config{MaxParentLookupDepth: 8}, factory.open, testLogger())

	chain := router.PickReadPath(file)

	childID := wsid.For(wsid.Canonicalize(child))
	parentID := wsid.For(wsid.Canonicalize(parent))

	if len(chain) != 2 {
		t.Fatalf("chain = %v, want 2 entries (child + marker-carrying parent)", chain)
	}
	if chain[0] != childID {
		t.Fatalf("chain[0] = %s, want nearest workspace %s", chain[0], childID)
	}
	if chain[1] != parentID {
		t.Fatalf("chain[1] = %s, want ancestor workspace %s", chain[1], parentID)
	}
}

func TestPickReadPathReopensEvictedAncestorCache(t *testing.T) {
	parent, _, file := layoutNestedWorkspaces(t)
	factory := newFakeFactory()
	router := New(Config{MaxParentLookupDepth: 8, MaxOpenCaches: 16}, factory.open, testLogger())

	// Discover and open both caches once.
	if chain := router.PickReadPath(file); len(chain) != 2 {
		t.Fatalf("initial PickReadPath chain = %v, want 2", chain)
	}

	parentID := wsid.For(wsid.Canonicalize(parent))
	router.TrimLRU(0) // evict every open cache, including the parent's

	if _, open := router.ListWorkspaces()[parentID]; open {
		t.Fatal("expected parent workspace cache to be evicted (closed) after TrimLRU(0)")
	}

	// PickReadPath must reopen it, not just remember its id.
	chain := router.PickReadPath(file)
	if len(chain) != 2 {
		t.Fatalf("chain after re-walk = %v, want 2 (ancestor still discoverable)", chain)
	}
	if _, open := router.ListWorkspaces()[parentID]; !open {
		t.Fatal("expected PickReadPath to reopen the evicted ancestor cache")
	}
}

func TestInvalidateFileAcrossDeletesFromEveryWorkspaceOnReadPath(t *testing.T) {
	parent, child, file := layoutNestedWorkspaces(t)
	factory := newFakeFactory()
	router := New(Config{MaxParentLookupDepth: 8}, factory.open, testLogger())

	if err := router.InvalidateFileAcross(context.Background(), file); err != nil {
		t.Fatalf("InvalidateFileAcross: %v", err)
	}

	childBackend, ok := factory.byRoot[wsid.Canonicalize(child)]
	if !ok {
		t.Fatal("expected a backend opened for the child workspace")
	}
	if childBackend.deletedCount() != 1 {
		t.Fatalf("child backend deletedCount = %d, want 1", childBackend.deletedCount())
	}

	parentBackend, ok := factory.byRoot[wsid.Canonicalize(parent)]
	if !ok {
		t.Fatal("expected a backend opened for the parent workspace too")
	}
	if parentBackend.deletedCount() != 1 {
		t.Fatalf("parent backend deletedCount = %d, want 1 (invalidation must reach marker-carrying ancestors)", parentBackend.deletedCount())
	}
}

func TestHasWorkspaceMarkerDetectsKnownMarkers(t *testing.T) {
	tmp := t.TempDir()
	if hasWorkspaceMarker(tmp) {
		t.Fatal("empty directory should not look like a workspace root")
	}
	if err := os.WriteFile(filepath.Join(tmp, "package.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write package.json: %v", err)
	}
	if !hasWorkspaceMarker(tmp) {
		t.Fatal("directory with package.json should be detected as a workspace root")
	}
}
