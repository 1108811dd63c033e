package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RnLe/DeepRecall-sub014/internal/blob"
	"github.com/RnLe/DeepRecall-sub014/internal/coord/migrations"
)

// PostgresCoordinator implements blob.Coordinator backed by a shared
// Postgres database. Every write is idempotent: the metadata row is
// create-if-absent and the availability row is last-write-wins, so
// concurrent devices and retried calls converge without coordination
// beyond the per-call transaction.
type PostgresCoordinator struct {
	pool    *pgxpool.Pool
	retries int
	delay   time.Duration
}

// NewPostgresCoordinator connects to the coordination database and
// verifies its schema. retries/delay of zero fall back to the defaults.
func NewPostgresCoordinator(ctx context.Context, url string, retries int, delay time.Duration) (*PostgresCoordinator, error) {
	if retries == 0 {
		retries = DefaultRetries
	}
	if delay == 0 {
		delay = DefaultRetryDelay
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	c := &PostgresCoordinator{pool: pool, retries: retries, delay: delay}

	if err := migrations.Up(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrating coordination schema: %w", err)
	}

	return c, nil
}

// withConn acquires a pooled connection with retry/backoff and
// guarantees its release on both success and failure paths.
func (c *PostgresCoordinator) withConn(ctx context.Context, fn func(*pgxpool.Conn) error) error {
	var conn *pgxpool.Conn
	err := retryAcquire(ctx, c.retries, c.delay, func(ctx context.Context) error {
		acquired, err := c.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		conn = acquired
		return nil
	})
	if err != nil {
		return err
	}
	defer conn.Release()

	return fn(conn)
}

// Publish writes the per-hash metadata row (create-if-absent) and the
// per-device availability row (last write wins) in one transaction.
func (c *PostgresCoordinator) Publish(ctx context.Context, meta *blob.CoordinationMeta, avail *blob.DeviceBlob) error {
	return c.withConn(ctx, func(conn *pgxpool.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("starting transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		// First-writer-wins for incidental metadata (filename etc.):
		// the row is a function of the hash, so whoever got there first
		// already wrote the same content facts.
		_, err = tx.Exec(ctx,
			`INSERT INTO blobs_meta (sha256, size, mime, filename, page_count, image_width, image_height, line_count)
			 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
			 ON CONFLICT (sha256) DO NOTHING`,
			meta.SHA256, meta.Size, meta.Mime, meta.Filename,
			meta.PageCount, meta.ImageWidth, meta.ImageHeight, meta.LineCount)
		if err != nil {
			return fmt.Errorf("upserting blob metadata: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO device_blobs (sha256, device_id, local_path, health, updated_at)
			 VALUES ($1, $2, $3, $4, now())
			 ON CONFLICT (sha256, device_id) DO UPDATE SET
			   local_path = EXCLUDED.local_path,
			   health = EXCLUDED.health,
			   updated_at = now()`,
			avail.SHA256, avail.DeviceID, avail.LocalPath, string(avail.Health))
		if err != nil {
			return fmt.Errorf("upserting device availability: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		return nil
	})
}

// FindMeta returns the shared metadata row for a hash, or (nil, nil)
// when no device has published it.
func (c *PostgresCoordinator) FindMeta(ctx context.Context, sha256 string) (*blob.CoordinationMeta, error) {
	var meta *blob.CoordinationMeta
	err := c.withConn(ctx, func(conn *pgxpool.Conn) error {
		var (
			m        blob.CoordinationMeta
			filename *string
		)
		err := conn.QueryRow(ctx,
			`SELECT sha256, size, mime, filename, page_count, image_width, image_height, line_count
			 FROM blobs_meta WHERE sha256 = $1`, sha256).
			Scan(&m.SHA256, &m.Size, &m.Mime, &filename,
				&m.PageCount, &m.ImageWidth, &m.ImageHeight, &m.LineCount)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil // Not found
			}
			return fmt.Errorf("finding blob metadata: %w", err)
		}
		if filename != nil {
			m.Filename = *filename
		}
		meta = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// DevicesForBlob returns the availability rows for a hash.
func (c *PostgresCoordinator) DevicesForBlob(ctx context.Context, sha256 string) ([]*blob.DeviceBlob, error) {
	var devices []*blob.DeviceBlob
	err := c.withConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx,
			`SELECT sha256, device_id, local_path, health
			 FROM device_blobs WHERE sha256 = $1 ORDER BY device_id`, sha256)
		if err != nil {
			return fmt.Errorf("listing device availability: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				d      blob.DeviceBlob
				health string
			)
			if err := rows.Scan(&d.SHA256, &d.DeviceID, &d.LocalPath, &health); err != nil {
				return fmt.Errorf("scanning device availability: %w", err)
			}
			d.Health = blob.Health(health)
			devices = append(devices, &d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// Close closes the connection pool.
func (c *PostgresCoordinator) Close() error {
	c.pool.Close()
	return nil
}

// Compile-time check that PostgresCoordinator implements blob.Coordinator
var _ blob.Coordinator = (*PostgresCoordinator)(nil)
