package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
	"github.com/RnLe/DeepRecall-sub014/internal/catalog/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteCatalog implements the blob.Catalog interface using SQLite.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

// NewSQLiteCatalog creates a new SQLite catalog connection.
// path can be a file path or ":memory:" for an in-memory catalog.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteCatalog{db: db, path: path}, nil
}

// NewSQLiteCatalogFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteCatalogFromDB(db *sql.DB) *SQLiteCatalog {
	return &SQLiteCatalog{db: db, path: ""}
}

// OpenConnection opens and configures a SQLite connection with appropriate PRAGMAs.
// This is exported for use in tools and tests that need a properly configured
// SQLite connection. path can be a file path or ":memory:".
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	// Each pooled connection to ":memory:" would open its own database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Blob operations

func (c *SQLiteCatalog) InsertBlob(b *blob.Blob) error {
	_, err := c.db.Exec(
		`INSERT INTO blobs (hash, size, mime, filename, mtime_ms, created_ms, health)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.SHA256, b.Size, b.Mime, nullString(b.Filename), b.MtimeMS, b.CreatedMS, string(b.Health),
	)
	if err != nil {
		return fmt.Errorf("inserting blob: %w", err)
	}
	return nil
}

func (c *SQLiteCatalog) FindBlobBySHA256(sha256 string) (*blob.Blob, error) {
	row := c.db.QueryRow(
		`SELECT hash, size, mime, filename, mtime_ms, created_ms, health
		 FROM blobs WHERE hash = ?`, sha256)

	b, err := scanBlob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding blob by hash: %w", err)
	}
	return b, nil
}

func (c *SQLiteCatalog) ListBlobs() ([]*blob.Blob, error) {
	rows, err := c.db.Query(
		`SELECT hash, size, mime, filename, mtime_ms, created_ms, health
		 FROM blobs ORDER BY created_ms DESC, hash`)
	if err != nil {
		return nil, fmt.Errorf("listing blobs: %w", err)
	}
	defer rows.Close()

	var blobs []*blob.Blob
	for rows.Next() {
		b, err := scanBlob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning blob: %w", err)
		}
		blobs = append(blobs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing blobs: %w", err)
	}
	return blobs, nil
}

func (c *SQLiteCatalog) ListBlobsWithPaths() ([]*blob.BlobWithPath, error) {
	// Join each blob with its most recently recorded path, if any.
	rows, err := c.db.Query(
		`SELECT b.hash, b.size, b.mime, b.filename, b.mtime_ms, b.created_ms, b.health, p.path
		 FROM blobs b
		 LEFT JOIN paths p ON p.hash = b.hash
		   AND p.recorded_ms = (SELECT MAX(recorded_ms) FROM paths WHERE hash = b.hash)
		 ORDER BY b.created_ms DESC, b.hash`)
	if err != nil {
		return nil, fmt.Errorf("listing blobs with paths: %w", err)
	}
	defer rows.Close()

	var result []*blob.BlobWithPath
	seen := make(map[string]bool)
	for rows.Next() {
		var (
			b        blob.Blob
			filename sql.NullString
			health   string
			path     sql.NullString
		)
		if err := rows.Scan(&b.SHA256, &b.Size, &b.Mime, &filename, &b.MtimeMS, &b.CreatedMS, &health, &path); err != nil {
			return nil, fmt.Errorf("scanning blob with path: %w", err)
		}
		// Two paths can share a recorded_ms; keep the first row per hash.
		if seen[b.SHA256] {
			continue
		}
		seen[b.SHA256] = true
		b.Filename = filename.String
		b.Health = blob.Health(health)
		result = append(result, &blob.BlobWithPath{Blob: b, Path: path.String})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing blobs with paths: %w", err)
	}
	return result, nil
}

func (c *SQLiteCatalog) DeleteBlob(sha256 string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM paths WHERE hash = ?`, sha256); err != nil {
		return fmt.Errorf("deleting path records: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM blobs WHERE hash = ?`, sha256); err != nil {
		return fmt.Errorf("deleting blob record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (c *SQLiteCatalog) UpdateFilename(sha256, filename string) error {
	if _, err := c.db.Exec(`UPDATE blobs SET filename = ? WHERE hash = ?`, filename, sha256); err != nil {
		return fmt.Errorf("updating filename: %w", err)
	}
	return nil
}

func (c *SQLiteCatalog) UpdateHealth(sha256 string, health blob.Health) error {
	if _, err := c.db.Exec(`UPDATE blobs SET health = ? WHERE hash = ?`, string(health), sha256); err != nil {
		return fmt.Errorf("updating health: %w", err)
	}
	return nil
}

// Path operations

func (c *SQLiteCatalog) InsertPath(sha256, path string, recordedMS int64) error {
	_, err := c.db.Exec(
		`INSERT INTO paths (hash, path, recorded_ms) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, recorded_ms = excluded.recorded_ms`,
		sha256, path, recordedMS,
	)
	if err != nil {
		return fmt.Errorf("inserting path: %w", err)
	}
	return nil
}

func (c *SQLiteCatalog) FindPathsBySHA256(sha256 string) ([]*blob.PathRecord, error) {
	rows, err := c.db.Query(
		`SELECT hash, path, recorded_ms FROM paths
		 WHERE hash = ? ORDER BY recorded_ms DESC, path`, sha256)
	if err != nil {
		return nil, fmt.Errorf("finding paths: %w", err)
	}
	defer rows.Close()

	var paths []*blob.PathRecord
	for rows.Next() {
		var p blob.PathRecord
		if err := rows.Scan(&p.SHA256, &p.Path, &p.RecordedMS); err != nil {
			return nil, fmt.Errorf("scanning path: %w", err)
		}
		paths = append(paths, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finding paths: %w", err)
	}
	return paths, nil
}

// Coordination outbox

func (c *SQLiteCatalog) EnqueueCoordination(e *blob.OutboxEntry) error {
	err := c.db.QueryRow(
		`INSERT INTO coord_outbox (sha256, device_id, local_path, payload, created_ms, attempts)
		 VALUES (?, ?, ?, ?, ?, 0)
		 ON CONFLICT(sha256, device_id) DO UPDATE SET
		   local_path = excluded.local_path,
		   payload = excluded.payload
		 RETURNING id`,
		e.SHA256, e.DeviceID, e.LocalPath, e.Payload, e.CreatedMS,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("enqueuing coordination: %w", err)
	}
	return nil
}

func (c *SQLiteCatalog) PendingCoordination(limit int) ([]*blob.OutboxEntry, error) {
	rows, err := c.db.Query(
		`SELECT id, sha256, device_id, local_path, payload, created_ms, attempts,
		        COALESCE(last_attempt_ms, 0)
		 FROM coord_outbox ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("loading outbox: %w", err)
	}
	defer rows.Close()

	var entries []*blob.OutboxEntry
	for rows.Next() {
		var e blob.OutboxEntry
		if err := rows.Scan(&e.ID, &e.SHA256, &e.DeviceID, &e.LocalPath, &e.Payload,
			&e.CreatedMS, &e.Attempts, &e.LastAttemptMS); err != nil {
			return nil, fmt.Errorf("scanning outbox entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading outbox: %w", err)
	}
	return entries, nil
}

func (c *SQLiteCatalog) DeleteCoordination(id int64) error {
	if _, err := c.db.Exec(`DELETE FROM coord_outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting outbox entry: %w", err)
	}
	return nil
}

func (c *SQLiteCatalog) MarkCoordinationAttempt(id int64, attemptMS int64) error {
	_, err := c.db.Exec(
		`UPDATE coord_outbox SET attempts = attempts + 1, last_attempt_ms = ? WHERE id = ?`,
		attemptMS, id)
	if err != nil {
		return fmt.Errorf("marking outbox attempt: %w", err)
	}
	return nil
}

// Aggregates

func (c *SQLiteCatalog) HealthReport() (*blob.HealthReport, error) {
	row := c.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN health = 'healthy' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN health = 'missing' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN health = 'modified' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN health = 'relocated' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(size), 0)
		 FROM blobs`)

	var r blob.HealthReport
	if err := row.Scan(&r.TotalBlobs, &r.Healthy, &r.Missing, &r.Modified, &r.Relocated, &r.TotalSize); err != nil {
		return nil, fmt.Errorf("computing health report: %w", err)
	}
	return &r, nil
}

// Operation tracking

func (c *SQLiteCatalog) CreateOperation(operation, parameters string) (int64, error) {
	res, err := c.db.Exec(
		`INSERT INTO operations (operation, parameters, started_ms, status)
		 VALUES (?, ?, ?, 'running')`,
		operation, parameters, nowMS())
	if err != nil {
		return 0, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("creating operation: %w", err)
	}
	return id, nil
}

func (c *SQLiteCatalog) FinishOperation(id int64, status string) error {
	_, err := c.db.Exec(
		`UPDATE operations SET finished_ms = ?, status = ? WHERE id = ?`,
		nowMS(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

// Path returns the catalog file path (or ":memory:" for in-memory catalogs).
func (c *SQLiteCatalog) Path() string {
	return c.path
}

// CheckMigrations verifies the catalog schema is up-to-date.
func (c *SQLiteCatalog) CheckMigrations() error {
	return migrations.CheckStatus(c.db)
}

// MigrateUp applies all pending catalog migrations.
func (c *SQLiteCatalog) MigrateUp() error {
	return migrations.Up(c.db)
}

// Close closes the catalog connection.
func (c *SQLiteCatalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBlob(row scanner) (*blob.Blob, error) {
	var (
		b        blob.Blob
		filename sql.NullString
		health   string
	)
	if err := row.Scan(&b.SHA256, &b.Size, &b.Mime, &filename, &b.MtimeMS, &b.CreatedMS, &health); err != nil {
		return nil, err
	}
	b.Filename = filename.String
	b.Health = blob.Health(health)
	return &b, nil
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Compile-time check that SQLiteCatalog implements blob.Catalog
var _ blob.Catalog = (*SQLiteCatalog)(nil)
