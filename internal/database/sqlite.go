package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"ckb/internal/logging"
)

// SQLiteBackend is the default DatabaseBackend: one pure-Go SQLite file per
// workspace, with entries older than a configured cutoff zstd-compressed
// into a cold_cache table instead of being dropped outright.
type SQLiteBackend struct {
	conn   *sql.DB
	logger *logging.Logger
	path   string

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// pragmas mirror the teacher's storage.Open tuning: WAL journaling,
// balanced sync, FK enforcement, a busy timeout so concurrent workspace
// writers don't trip SQLITE_BUSY, and a generous page cache/mmap since the
// daemon may keep several of these open at once.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
	"PRAGMA cache_size=-64000",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA mmap_size=268435456",
}

const schema = `
CREATE TABLE IF NOT EXISTS symbols (
	id TEXT PRIMARY KEY,
	file TEXT NOT NULL,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	line INTEGER NOT NULL,
	character INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file);

CREATE TABLE IF NOT EXISTS edges (
	from_symbol_id TEXT NOT NULL,
	to_symbol_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	file TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edges_file ON edges(file);

CREATE TABLE IF NOT EXISTS cache_entries (
	node_key TEXT PRIMARY KEY,
	value_json TEXT NOT NULL,
	accessed_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cold_cache (
	node_key TEXT PRIMARY KEY,
	value_zstd BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
`

// Open opens (creating if absent) a workspace-scoped SQLite database at
// <dataDir>/ckb.db.
func Open(dataDir string, logger *logging.Logger) (*SQLiteBackend, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "ckb.db")
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}

	return &SQLiteBackend{conn: conn, logger: logger, path: dbPath, encoder: enc, decoder: dec}, nil
}

func (b *SQLiteBackend) Close() error {
	b.encoder.Close()
	b.decoder.Close()
	return b.conn.Close()
}

func (b *SQLiteBackend) StoreSymbols(ctx context.Context, file string, symbols []Symbol) error {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE file = ?`, file); err != nil {
		return fmt.Errorf("delete old symbols: %w", err)
	}
	for _, s := range symbols {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO symbols (id, file, name, kind, line, character) VALUES (?, ?, ?, ?, ?, ?)`,
			s.ID, s.File, s.Name, s.Kind, s.Line, s.Character); err != nil {
			return fmt.Errorf("insert symbol %s: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) StoreEdges(ctx context.Context, file string, edges []Edge) error {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE file = ?`, file); err != nil {
		return fmt.Errorf("delete old edges: %w", err)
	}
	for _, e := range edges {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO edges (from_symbol_id, to_symbol_id, kind, file) VALUES (?, ?, ?, ?)`,
			e.FromSymbolID, e.ToSymbolID, e.Kind, e.File); err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) GetByFile(ctx context.Context, file string) ([]Symbol, []Edge, error) {
	symRows, err := b.conn.QueryContext(ctx, `SELECT id, file, name, kind, line, character FROM symbols WHERE file = ?`, file)
	if err != nil {
		return nil, nil, fmt.Errorf("query symbols: %w", err)
	}
	defer symRows.Close()

	var symbols []Symbol
	for symRows.Next() {
		var s Symbol
		if err := symRows.Scan(&s.ID, &s.File, &s.Name, &s.Kind, &s.Line, &s.Character); err != nil {
			return nil, nil, err
		}
		symbols = append(symbols, s)
	}

	edgeRows, err := b.conn.QueryContext(ctx, `SELECT from_symbol_id, to_symbol_id, kind, file FROM edges WHERE file = ?`, file)
	if err != nil {
		return nil, nil, fmt.Errorf("query edges: %w", err)
	}
	defer edgeRows.Close()

	var edges []Edge
	for edgeRows.Next() {
		var e Edge
		if err := edgeRows.Scan(&e.FromSymbolID, &e.ToSymbolID, &e.Kind, &e.File); err != nil {
			return nil, nil, err
		}
		edges = append(edges, e)
	}

	return symbols, edges, nil
}

func (b *SQLiteBackend) DeleteFile(ctx context.Context, file string) error {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE file = ?`, file); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE file = ?`, file); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *SQLiteBackend) GetCacheEntry(ctx context.Context, nodeKey string) (CacheEntry, bool, error) {
	var entry CacheEntry
	entry.NodeKey = nodeKey

	err := b.conn.QueryRowContext(ctx,
		`SELECT value_json, accessed_at, created_at FROM cache_entries WHERE node_key = ?`, nodeKey,
	).Scan(&entry.ValueJSON, &entry.AccessedAt, &entry.CreatedAt)

	if err == sql.ErrNoRows {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("get cache entry: %w", err)
	}

	_, _ = b.conn.ExecContext(ctx, `UPDATE cache_entries SET accessed_at = ? WHERE node_key = ?`, time.Now().Unix(), nodeKey)

	return entry, true, nil
}

func (b *SQLiteBackend) PutCacheEntry(ctx context.Context, entry CacheEntry) error {
	now := time.Now().Unix()
	if entry.CreatedAt == 0 {
		entry.CreatedAt = now
	}
	if entry.AccessedAt == 0 {
		entry.AccessedAt = now
	}

	_, err := b.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (node_key, value_json, accessed_at, created_at) VALUES (?, ?, ?, ?)`,
		entry.NodeKey, entry.ValueJSON, entry.AccessedAt, entry.CreatedAt)
	return err
}

func (b *SQLiteBackend) RemoveCacheEntry(ctx context.Context, nodeKey string) error {
	_, err := b.conn.ExecContext(ctx, `DELETE FROM cache_entries WHERE node_key = ?`, nodeKey)
	return err
}

func (b *SQLiteBackend) ClearCache(ctx context.Context) error {
	if _, err := b.conn.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return err
	}
	_, err := b.conn.ExecContext(ctx, `DELETE FROM cold_cache`)
	return err
}

// ClearEntriesOlderThan zstd-compresses entries created before the cutoff
// into cold_cache and removes them from the active cache_entries table,
// rather than discarding them outright.
func (b *SQLiteBackend) ClearEntriesOlderThan(ctx context.Context, cutoffUnixSeconds int64) (int, error) {
	rows, err := b.conn.QueryContext(ctx,
		`SELECT node_key, value_json, created_at FROM cache_entries WHERE created_at < ?`, cutoffUnixSeconds)
	if err != nil {
		return 0, fmt.Errorf("select cold entries: %w", err)
	}

	type cold struct {
		key       string
		value     string
		createdAt int64
	}
	var entries []cold
	for rows.Next() {
		var c cold
		if err := rows.Scan(&c.key, &c.value, &c.createdAt); err != nil {
			rows.Close()
			return 0, err
		}
		entries = append(entries, c)
	}
	rows.Close()

	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, c := range entries {
		compressed := b.encoder.EncodeAll([]byte(c.value), make([]byte, 0, len(c.value)))
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO cold_cache (node_key, value_zstd, created_at) VALUES (?, ?, ?)`,
			c.key, compressed, c.createdAt); err != nil {
			return 0, fmt.Errorf("archive cold entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE node_key = ?`, c.key); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	b.logger.Info("archived cold cache entries", map[string]interface{}{
		"count":  len(entries),
		"cutoff": cutoffUnixSeconds,
	})

	return len(entries), nil
}

// readCold decompresses a cold_cache entry, used by callers that want to
// resurrect an archived value rather than recompute it.
func (b *SQLiteBackend) readCold(ctx context.Context, nodeKey string) (string, bool, error) {
	var compressed []byte
	err := b.conn.QueryRowContext(ctx, `SELECT value_zstd FROM cold_cache WHERE node_key = ?`, nodeKey).Scan(&compressed)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	raw, err := b.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return "", false, fmt.Errorf("decompress cold entry: %w", err)
	}
	return string(raw), true, nil
}

func (b *SQLiteBackend) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"path": b.path}

	counts := map[string]string{
		"symbols":      `SELECT COUNT(*) FROM symbols`,
		"edges":        `SELECT COUNT(*) FROM edges`,
		"cacheEntries": `SELECT COUNT(*) FROM cache_entries`,
		"coldEntries":  `SELECT COUNT(*) FROM cold_cache`,
	}
	for label, q := range counts {
		var n int
		if err := b.conn.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", label, err)
		}
		stats[label] = n
	}

	return stats, nil
}
