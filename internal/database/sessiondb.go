package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// fileExt is the extension of a session store.
const fileExt = ".db"

// tombstoneMarker is inserted between the store name and a random suffix
// when a store is being purged.
const tombstoneMarker = ".purge-"

// ErrNotFound is returned when a store does not exist and
// CreateIfNotExists is false.
var ErrNotFound = errors.New("session store not found")

// SessionDB is the SQLite-backed durable store of a single scan session.
// One file holds one target domain.
//
// The handle is limited to a single connection, so database/sql serializes
// every statement and callers may use a SessionDB from many goroutines
// without additional locking.
type SessionDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string

	// readOnly is set when the store was opened with Options.ReadOnly.
	readOnly bool
}

// Options configures SessionDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging so appends are durable without
	// rewriting the main file on every commit.
	EnableWAL bool

	// ReadOnly opens an existing store without modifying it: no schema
	// setup, no journal mode change and no cleanup of purge leftovers.
	// Every write fails. CreateIfNotExists and EnableWAL are ignored.
	ReadOnly bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Path returns the store location for key inside dbDir.
func Path(dbDir, key string) string {
	return filepath.Join(dbDir, key+fileExt)
}

// Exists reports whether a store for key exists in dbDir.
func Exists(dbDir, key string) bool {
	_, err := os.Stat(Path(dbDir, key))
	return err == nil
}

// Open opens or creates the store for key inside dbDir.
// Unless opts.ReadOnly is set, leftovers of interrupted purges in dbDir
// are removed first.
func Open(dbDir, key string, opts Options) (*SessionDB, error) {
	dbPath := Path(dbDir, key)

	if opts.ReadOnly {
		return openReadOnly(dbPath)
	}

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	if err := sweepTombstones(dbDir); err != nil {
		return nil, err
	}
	if err := removeOrphanSidecars(dbPath); err != nil {
		return nil, err
	}

	mode := "rw"
	if opts.CreateIfNotExists {
		mode = "rwc"
	}
	dsn := dbPath + "?mode=" + mode + "&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	sdb := &SessionDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := sdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return sdb, nil
}

// openReadOnly opens an existing store at dbPath with mode=ro.
func openReadOnly(dbPath string) (*SessionDB, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dbPath)
	} else if err != nil {
		return nil, fmt.Errorf("failed to check database path: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &SessionDB{db: db, dbPath: dbPath, readOnly: true}, nil
}

// Close closes the database connection.
func (sdb *SessionDB) Close() error {
	return sdb.db.Close()
}

// Path returns the file backing this store.
func (sdb *SessionDB) Path() string {
	return sdb.dbPath
}

// createTables creates the database schema if it doesn't exist.
func (sdb *SessionDB) createTables() error {
	schema := `
	-- Session metadata such as domain and mode
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Completed phases in completion order
	CREATE TABLE IF NOT EXISTS phases (
		name TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		completed_at TEXT NOT NULL
	);

	-- Append-only set members of every collection
	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		digest TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(collection, digest)
	);

	CREATE INDEX IF NOT EXISTS idx_items_collection ON items(collection, id);

	-- Single-valued documents, last write wins
	CREATE TABLE IF NOT EXISTS documents (
		name TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One row per scan invocation
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		status TEXT NOT NULL
	);
	`

	_, err := sdb.db.ExecContext(context.Background(), schema)
	return err
}

// Item is a single collection member ready for storage.
type Item struct {
	// Digest is the uniqueness key of the member within its collection.
	Digest string

	// Data is the canonical encoding of the member.
	Data string
}

// StoredItem is a collection member read back from the store.
type StoredItem struct {
	ID   int64
	Data string
}

// InsertItems adds items to collection in one transaction.
// Items whose digest is already present are ignored.
// It returns the number of rows actually inserted.
func (sdb *SessionDB) InsertItems(ctx context.Context, collection string, items []Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := sdb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after Commit is a no-op

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO items (collection, digest, data, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := formatTimestamp(time.Now())
	inserted := 0
	for _, item := range items {
		res, err := stmt.ExecContext(ctx, collection, item.Digest, item.Data, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert item: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read affected rows: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit items: %w", err)
	}
	return inserted, nil
}

// ScanItems returns up to limit members of collection with an id greater
// than afterID, in id order. The rows are fully read before returning so
// the connection is free for writers between pages.
func (sdb *SessionDB) ScanItems(ctx context.Context, collection string, afterID int64, limit int) ([]StoredItem, error) {
	rows, err := sdb.db.QueryContext(ctx,
		`SELECT id, data FROM items WHERE collection = ? AND id > ? ORDER BY id LIMIT ?`,
		collection, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	page := make([]StoredItem, 0, limit)
	for rows.Next() {
		var item StoredItem
		if err := rows.Scan(&item.ID, &item.Data); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		page = append(page, item)
	}
	return page, rows.Err()
}

// CountItems returns the number of members in collection.
func (sdb *SessionDB) CountItems(ctx context.Context, collection string) (int, error) {
	var n int
	err := sdb.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return n, nil
}

// ClearItems removes every member of collection.
func (sdb *SessionDB) ClearItems(ctx context.Context, collection string) error {
	if _, err := sdb.db.ExecContext(ctx, `DELETE FROM items WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("failed to clear collection %s: %w", collection, err)
	}
	return nil
}

// PutDocument stores data under name, replacing any previous value.
func (sdb *SessionDB) PutDocument(ctx context.Context, name string, data []byte) error {
	query := `
	INSERT INTO documents (name, data, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		data = excluded.data,
		updated_at = excluded.updated_at
	`
	if _, err := sdb.db.ExecContext(ctx, query, name, string(data), formatTimestamp(time.Now())); err != nil {
		return fmt.Errorf("failed to store document %s: %w", name, err)
	}
	return nil
}

// GetDocument returns the value stored under name.
// The boolean is false when no document has been stored yet.
func (sdb *SessionDB) GetDocument(ctx context.Context, name string) ([]byte, bool, error) {
	var data string
	err := sdb.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load document %s: %w", name, err)
	}
	return []byte(data), true, nil
}

// MarkPhase records name as completed. Marking a phase twice keeps its
// original position.
func (sdb *SessionDB) MarkPhase(ctx context.Context, name string) error {
	query := `
	INSERT OR IGNORE INTO phases (name, seq, completed_at)
	VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM phases), ?)
	`
	if _, err := sdb.db.ExecContext(ctx, query, name, formatTimestamp(time.Now())); err != nil {
		return fmt.Errorf("failed to mark phase %s: %w", name, err)
	}
	return nil
}

// Phases returns the completed phase names in completion order.
func (sdb *SessionDB) Phases(ctx context.Context) ([]string, error) {
	rows, err := sdb.db.QueryContext(ctx, `SELECT name FROM phases ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query phases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan phase: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SetMeta stores a metadata value.
func (sdb *SessionDB) SetMeta(ctx context.Context, key, value string) error {
	query := `INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := sdb.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

// GetMeta returns a metadata value and whether it was present.
func (sdb *SessionDB) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := sdb.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get meta %s: %w", key, err)
	}
	return value, true, nil
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID         string
	Mode       string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
}

// StartRun records the beginning of a scan invocation and returns its id.
func (sdb *SessionDB) StartRun(ctx context.Context, mode, status string) (string, error) {
	id := uuid.New().String()
	_, err := sdb.db.ExecContext(ctx,
		`INSERT INTO runs (id, mode, started_at, status) VALUES (?, ?, ?, ?)`,
		id, mode, formatTimestamp(time.Now()), status)
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return id, nil
}

// FinishRun stores the final status of a run.
func (sdb *SessionDB) FinishRun(ctx context.Context, id, status string) error {
	_, err := sdb.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ? WHERE id = ?`,
		formatTimestamp(time.Now()), status, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// Runs returns every recorded run, oldest first.
func (sdb *SessionDB) Runs(ctx context.Context) ([]RunRecord, error) {
	rows, err := sdb.db.QueryContext(ctx,
		`SELECT id, mode, started_at, COALESCE(finished_at, ''), status FROM runs ORDER BY started_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r                 RunRecord
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.Mode, &started, &finished, &r.Status); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = parseTimestamp(started)
		r.FinishedAt = parseTimestamp(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Checkpoint folds the write-ahead log into the main database file.
// After it returns, everything committed so far survives even if the
// WAL file is lost.
func (sdb *SessionDB) Checkpoint(ctx context.Context) error {
	if sdb.readOnly {
		return nil
	}
	if _, err := sdb.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint database: %w", err)
	}
	return nil
}

// Purge checkpoints and closes the store, then deletes its files.
// The handle is closed even when the checkpoint fails, in which case
// the files are kept. The SessionDB must not be used afterwards.
func (sdb *SessionDB) Purge(ctx context.Context) error {
	checkpointErr := sdb.Checkpoint(ctx)
	var closeErr error
	if err := sdb.Close(); err != nil {
		closeErr = fmt.Errorf("failed to close database: %w", err)
	}
	if err := errors.Join(checkpointErr, closeErr); err != nil {
		return err
	}
	return Remove(sdb.dbPath)
}

// Remove deletes the store at dbPath.
//
// Sidecar files are removed first, then the main file is renamed to a
// tombstone before being deleted. A crash at any point leaves either the
// intact store or no store at dbPath; a leftover tombstone is swept by the
// next Open in the same directory. Removing a missing store is not an error.
func Remove(dbPath string) error {
	if err := removeSidecars(dbPath); err != nil {
		return err
	}

	tombstone := dbPath + tombstoneMarker + uuid.New().String()
	if err := os.Rename(dbPath, tombstone); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to rename database for removal: %w", err)
	}
	if err := os.Remove(tombstone); err != nil {
		return fmt.Errorf("failed to remove database: %w", err)
	}
	return nil
}

// removeSidecars deletes the WAL and shared-memory files of dbPath.
func removeSidecars(dbPath string) error {
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(dbPath+suffix), err)
		}
	}
	return nil
}

// removeOrphanSidecars deletes sidecar files whose main database is gone,
// so a new store at dbPath never replays a stale log.
func removeOrphanSidecars(dbPath string) error {
	if _, err := os.Stat(dbPath); err == nil {
		return nil
	}
	return removeSidecars(dbPath)
}

// sweepTombstones removes files left behind by interrupted purges.
func sweepTombstones(dbDir string) error {
	entries, err := os.ReadDir(dbDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read database directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), fileExt+tombstoneMarker) {
			continue
		}
		if err := os.Remove(filepath.Join(dbDir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove leftover %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// formatTimestamp renders t in the format stored in every timestamp column.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// timestampFormats lists the formats parseTimestamp accepts.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
