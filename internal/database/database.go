// Package database defines the storage boundary the rest of the daemon
// programs against (DatabaseBackend) and a pure-Go SQLite implementation of
// it, one database file per workspace.
package database

import "context"

// Symbol is the minimal symbol projection DatabaseBackend stores —
// AnalyzerManager implementations hand back richer results, but only this
// shape is persisted and queried by file/name.
type Symbol struct {
	ID        string
	File      string
	Name      string
	Kind      string
	Line      int
	Character int
}

// Edge is a directed relationship between two symbols (call, reference,
// implements, extends — EdgeKind is implementation-defined and opaque to
// the router/indexing engine).
type Edge struct {
	FromSymbolID string
	ToSymbolID   string
	Kind         string
	File         string
}

// CacheEntry is one node_key -> value[, call-hierarchy-info] record inside
// a workspace's cache, addressable by NodeKey per spec.md's CacheEntry.
type CacheEntry struct {
	NodeKey    string
	ValueJSON  string
	AccessedAt int64 // unix seconds, set by the backend on read/write
	CreatedAt  int64
}

// DatabaseBackend is the persistence seam: everything above it (cacherouter,
// indexing) is backend-agnostic, and only a DatabaseBackend implementation
// knows about SQL, files, or compression.
type DatabaseBackend interface {
	// StoreSymbols replaces all symbols previously stored for file with
	// symbols (delete-then-insert, applied atomically).
	StoreSymbols(ctx context.Context, file string, symbols []Symbol) error
	// StoreEdges replaces all edges previously stored for file with edges.
	StoreEdges(ctx context.Context, file string, edges []Edge) error
	// GetByFile returns the symbols and edges currently stored for file.
	GetByFile(ctx context.Context, file string) ([]Symbol, []Edge, error)
	// DeleteFile removes all symbols and edges stored for file.
	DeleteFile(ctx context.Context, file string) error

	// GetCacheEntry fetches a cache entry by node key, reporting found=false
	// on a miss.
	GetCacheEntry(ctx context.Context, nodeKey string) (entry CacheEntry, found bool, err error)
	// PutCacheEntry inserts or replaces a cache entry.
	PutCacheEntry(ctx context.Context, entry CacheEntry) error
	// RemoveCacheEntry deletes a cache entry by node key.
	RemoveCacheEntry(ctx context.Context, nodeKey string) error
	// ClearCache removes every cache entry.
	ClearCache(ctx context.Context) error
	// ClearEntriesOlderThan archives (compressing cold storage) or deletes
	// entries whose CreatedAt predates cutoffUnixSeconds, returning the
	// count removed.
	ClearEntriesOlderThan(ctx context.Context, cutoffUnixSeconds int64) (int, error)

	// Stats reports basic counts for operational endpoints.
	Stats(ctx context.Context) (map[string]interface{}, error)

	// Close releases underlying resources (file handles, connections).
	Close() error
}
