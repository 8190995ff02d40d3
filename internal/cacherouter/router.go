// Package cacherouter implements the per-workspace cache with hierarchical
// routing: nearest-workspace-wins writes, bounded parent-lookup reads, and
// LRU eviction once the number of open workspace caches hits its budget.
package cacherouter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ckb/internal/database"
	"ckb/internal/errors"
	"ckb/internal/logging"
	"ckb/internal/wsid"
)

// workspaceMarkers are the files/directories whose presence identifies a
// directory as a workspace root, checked top-down by find_workspace_in_directory
// when walking ancestors for the read path.
var workspaceMarkers = []string{
	"Cargo.toml", "Cargo.lock",
	"package.json", "tsconfig.json", "yarn.lock", "package-lock.json",
	"pyproject.toml", "setup.py", "requirements.txt", "Pipfile",
	"go.mod", "go.sum",
	"pom.xml", "build.gradle", "gradlew",
	"CMakeLists.txt", "Makefile",
	".git", ".hg", ".svn",
}

// hasWorkspaceMarker reports whether dir itself looks like a workspace root.
func hasWorkspaceMarker(dir string) bool {
	for _, marker := range workspaceMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// Factory opens the DatabaseBackend backing one workspace's cache.
type Factory func(workspaceID wsid.ID, workspaceRoot string) (database.DatabaseBackend, error)

// Config bundles the router's tunables.
type Config struct {
	MaxOpenCaches      int
	MaxParentLookupDepth int
}

const (
	DefaultMaxOpenCaches        = 16
	DefaultMaxParentLookupDepth = 8
)

func (c Config) withDefaults() Config {
	if c.MaxOpenCaches <= 0 {
		c.MaxOpenCaches = DefaultMaxOpenCaches
	}
	if c.MaxParentLookupDepth <= 0 {
		c.MaxParentLookupDepth = DefaultMaxParentLookupDepth
	}
	return c
}

// workspaceCache pairs an open DatabaseBackend with the access metadata the
// router's LRU eviction needs.
type workspaceCache struct {
	id         wsid.ID
	root       string
	backend    database.DatabaseBackend
	lastAccess time.Time
}

// Router is the WorkspaceCacheRouter: it owns every open per-workspace
// cache, a reverse map from workspace id back to its root (surviving
// eviction so a later request can still resolve the id), and a memoized
// path -> nearest-workspace lookup.
type Router struct {
	cfg     Config
	factory Factory
	logger  *logging.Logger

	mu              sync.Mutex
	open            map[wsid.ID]*workspaceCache
	idToRoot        map[wsid.ID]string // survives eviction
	registeredRoots map[string]wsid.ID // every known workspace root, open or not
	pathMemo        map[string]wsid.ID
}

// New creates a Router. factory is how the router opens a workspace's
// backing DatabaseBackend; production code passes one backed by
// database.Open, tests pass an in-memory fake.
func New(cfg Config, factory Factory, logger *logging.Logger) *Router {
	return &Router{
		cfg:             cfg.withDefaults(),
		factory:         factory,
		logger:          logger,
		open:            make(map[wsid.ID]*workspaceCache),
		idToRoot:        make(map[wsid.ID]string),
		registeredRoots: make(map[string]wsid.ID),
		pathMemo:        make(map[string]wsid.ID),
	}
}

// WorkspaceIDFor resolves the workspace id that owns path: the nearest
// already-registered workspace root containing path if there is one,
// otherwise the root wsid.FindRoot finds by walking upward for a workspace
// marker (up to the filesystem root, falling back to the path's own
// directory), memoizing the result per path.
func (r *Router) WorkspaceIDFor(path string) (wsid.ID, string) {
	canonical := wsid.Canonicalize(path)

	r.mu.Lock()
	if id, ok := r.pathMemo[canonical]; ok {
		root := r.idToRoot[id]
		r.mu.Unlock()
		return id, root
	}
	r.mu.Unlock()

	root := r.nearestRegisteredRoot(canonical)
	if root == "" {
		root = wsid.FindRoot(canonical)
	}
	id := wsid.For(root)

	r.mu.Lock()
	r.pathMemo[canonical] = id
	r.idToRoot[id] = root
	r.registeredRoots[root] = id
	r.mu.Unlock()

	return id, root
}

// nearestRegisteredRoot finds the longest-prefix-matching root already
// known to the router by scanning every registered root for path itself or
// one of its ancestors; no depth bound applies.
func (r *Router) nearestRegisteredRoot(path string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := ""
	for root := range r.registeredRoots {
		if root == path || strings.HasPrefix(path, root+"/") {
			if len(root) > len(best) {
				best = root
			}
		}
	}
	return best
}

// RegisterWorkspace records root as a known workspace without opening its
// cache, so future WorkspaceIDFor calls for files beneath it resolve here
// instead of walking the filesystem.
func (r *Router) RegisterWorkspace(root string) wsid.ID {
	canonical := wsid.Canonicalize(root)
	id := wsid.For(canonical)

	r.mu.Lock()
	r.idToRoot[id] = canonical
	r.registeredRoots[canonical] = id
	r.mu.Unlock()

	return id
}

// CacheForWorkspace returns the open DatabaseBackend for id, opening it
// (evicting the LRU cache first if at MaxOpenCaches) if it isn't already
// open.
func (r *Router) CacheForWorkspace(id wsid.ID) (database.DatabaseBackend, error) {
	r.mu.Lock()
	if wc, ok := r.open[id]; ok {
		wc.lastAccess = time.Now()
		backend := wc.backend
		r.mu.Unlock()
		return backend, nil
	}

	root, known := r.idToRoot[id]
	if !known {
		r.mu.Unlock()
		return nil, errors.NewWorkspaceResolutionError(string(id))
	}

	if len(r.open) >= r.cfg.MaxOpenCaches {
		r.evictLRULocked()
	}
	r.mu.Unlock()

	backend, err := r.factory(id, root)
	if err != nil {
		return nil, errors.WrapError(errors.StorageError, "open workspace cache", err)
	}

	r.mu.Lock()
	r.open[id] = &workspaceCache{id: id, root: root, backend: backend, lastAccess: time.Now()}
	r.mu.Unlock()

	return backend, nil
}

// evictLRULocked closes the least-recently-accessed open cache. Callers
// must hold r.mu.
func (r *Router) evictLRULocked() {
	var oldestID wsid.ID
	var oldestTime time.Time
	found := false

	for id, wc := range r.open {
		if !found || wc.lastAccess.Before(oldestTime) {
			oldestID = id
			oldestTime = wc.lastAccess
			found = true
		}
	}

	if !found {
		return
	}

	victim := r.open[oldestID]
	delete(r.open, oldestID)

	go func() {
		if err := victim.backend.Close(); err != nil {
			r.logger.Warn("error closing evicted workspace cache", map[string]interface{}{
				"workspaceId": string(oldestID),
				"error":       err.Error(),
			})
		}
	}()

	r.logger.Info("evicted workspace cache", map[string]interface{}{
		"workspaceId": string(oldestID),
		"root":        victim.root,
	})
}

// TrimLRU evicts open caches down to target, returning the count evicted.
func (r *Router) TrimLRU(target int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for len(r.open) > target {
		r.evictLRULocked()
		evicted++
	}
	return evicted
}

// PickWriteTarget resolves the workspace id a write for path should land
// in: nearest-workspace-wins, i.e. the most specific (longest root prefix)
// registered or discoverable workspace.
func (r *Router) PickWriteTarget(path string) (wsid.ID, string) {
	return r.WorkspaceIDFor(path)
}

// PickReadPath returns the ordered chain of workspace ids to check for
// path: its own (nearest) workspace first, then every ancestor directory up
// to MaxParentLookupDepth that actually carries a workspace marker (Cargo.toml,
// go.mod, .git, etc — the same check find_workspace_in_directory makes in
// the original router), not merely whichever ancestors some earlier call
// happened to already register. Every workspace in the chain is opened (or
// reopened if it had been evicted) via CacheForWorkspace, since a caller
// walking the read path needs the live cache, not just its id.
func (r *Router) PickReadPath(path string) []wsid.ID {
	id, root := r.WorkspaceIDFor(path)
	chain := []wsid.ID{id}
	seen := map[wsid.ID]bool{id: true}

	if _, err := r.CacheForWorkspace(id); err != nil {
		r.logger.Warn("opening nearest workspace cache for read path", map[string]interface{}{
			"workspaceId": string(id),
			"error":       err.Error(),
		})
	}

	dir := root
	for depth := 0; depth < r.cfg.MaxParentLookupDepth; depth++ {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent

		if !hasWorkspaceMarker(dir) {
			continue
		}

		parentID := r.RegisterWorkspace(dir)
		if seen[parentID] {
			continue
		}
		seen[parentID] = true

		if _, err := r.CacheForWorkspace(parentID); err != nil {
			r.logger.Warn("opening ancestor workspace cache for read path", map[string]interface{}{
				"workspaceId": string(parentID),
				"root":        dir,
				"error":       err.Error(),
			})
			continue
		}
		chain = append(chain, parentID)
	}

	return chain
}

// InvalidateFileAcross removes file from every workspace cache on its read
// path — its own workspace plus every marker-carrying ancestor, reopening
// any that had been evicted — since a rename or move can make a stale entry
// visible from more than one workspace and an evicted ancestor cache can
// still be reopened and served later if it isn't invalidated too.
func (r *Router) InvalidateFileAcross(ctx context.Context, path string) error {
	canonical := wsid.Canonicalize(path)

	for _, id := range r.PickReadPath(canonical) {
		backend, err := r.CacheForWorkspace(id)
		if err != nil {
			return errors.WrapError(errors.StorageError, "reopen workspace cache for invalidation", err)
		}

		r.mu.Lock()
		root := r.idToRoot[id]
		r.mu.Unlock()

		rel := strings.TrimPrefix(strings.TrimPrefix(canonical, root), "/")
		if err := backend.DeleteFile(ctx, rel); err != nil {
			return errors.WrapError(errors.StorageError, "invalidate file across workspaces", err)
		}
	}
	return nil
}

// ListWorkspaces reports every known workspace id alongside whether its
// cache is currently open.
func (r *Router) ListWorkspaces() map[wsid.ID]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[wsid.ID]bool, len(r.idToRoot))
	for id := range r.idToRoot {
		_, open := r.open[id]
		result[id] = open
	}
	return result
}

// ClearWorkspaceCache clears the cache contents for id without closing or
// forgetting the workspace registration.
func (r *Router) ClearWorkspaceCache(ctx context.Context, id wsid.ID) error {
	backend, err := r.CacheForWorkspace(id)
	if err != nil {
		return err
	}
	if err := backend.ClearCache(ctx); err != nil {
		return errors.WrapError(errors.StorageError, "clear workspace cache", err)
	}
	return nil
}

// CloseAll closes every open workspace cache, used on daemon shutdown.
func (r *Router) CloseAll() {
	r.mu.Lock()
	open := r.open
	r.open = make(map[wsid.ID]*workspaceCache)
	r.mu.Unlock()

	for id, wc := range open {
		if err := wc.backend.Close(); err != nil {
			r.logger.Warn("error closing workspace cache", map[string]interface{}{
				"workspaceId": string(id),
				"error":       err.Error(),
			})
		}
	}
}
