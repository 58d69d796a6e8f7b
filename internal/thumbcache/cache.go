package thumbcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/framegate/internal/infrastructure/database"
)

// Logger defines the logging interface used by the Cache.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Stats summarises the cache contents.
type Stats struct {
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Owner   string `json:"owner,omitempty"`
}

// Cache is the SQLite-backed thumbnail store. The schema comes from the
// thumbnail_cache migration.
type Cache struct {
	db     *database.DB
	logger Logger
}

// New returns a Cache over an open, migrated database.
func New(db *database.DB) *Cache {
	return &Cache{db: db, logger: noopLogger{}}
}

// SetLogger sets the logger for the cache.
func (c *Cache) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// Get returns the cached bytes for contentID. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, contentID string) (data []byte, ok bool, err error) {
	if contentID == "" {
		return nil, false, ErrEmptyContentID
	}

	err = c.db.QueryRowContext(ctx,
		"SELECT data FROM thumbnails WHERE content_id = ?", contentID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading thumbnail %s: %w", contentID, err)
	}

	c.logger.Debug("thumbnail cache hit", "content_id", contentID)
	return data, true, nil
}

// Set stores data for contentID. An existing entry is left untouched.
func (c *Cache) Set(ctx context.Context, contentID string, data []byte) error {
	if contentID == "" {
		return ErrEmptyContentID
	}
	if len(data) == 0 {
		return ErrEmptyThumbnail
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO thumbnails (content_id, data, size, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(content_id) DO NOTHING`,
		contentID, data, len(data), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing thumbnail %s: %w", contentID, err)
	}

	c.logger.Debug("thumbnail cached", "content_id", contentID, "bytes", len(data))
	return nil
}

// Invalidate removes the entry for contentID if present.
func (c *Cache) Invalidate(ctx context.Context, contentID string) error {
	if contentID == "" {
		return ErrEmptyContentID
	}

	res, err := c.db.ExecContext(ctx, "DELETE FROM thumbnails WHERE content_id = ?", contentID)
	if err != nil {
		return fmt.Errorf("invalidating thumbnail %s: %w", contentID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 { //nolint:errcheck // sqlite3 always reports rows affected
		c.logger.Debug("thumbnail invalidated", "content_id", contentID)
	}
	return nil
}

// Clear removes every entry. The owner record is kept.
func (c *Cache) Clear(ctx context.Context) error {
	res, err := c.db.ExecContext(ctx, "DELETE FROM thumbnails")
	if err != nil {
		return fmt.Errorf("clearing thumbnail cache: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // sqlite3 always reports rows affected
	c.logger.Info("thumbnail cache cleared", "removed", n)
	return nil
}

// Prune removes every entry whose content id is not in valid and returns
// the number removed. An empty valid set removes everything.
func (c *Cache) Prune(ctx context.Context, valid []string) (int, error) {
	keep := make(map[string]struct{}, len(valid))
	for _, id := range valid {
		keep[id] = struct{}{}
	}

	removed := 0
	err := c.db.InTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT content_id FROM thumbnails")
		if err != nil {
			return fmt.Errorf("listing thumbnails: %w", err)
		}

		var orphans []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close() //nolint:errcheck // Scan already failed
				return fmt.Errorf("scanning thumbnail id: %w", err)
			}
			if _, ok := keep[id]; !ok {
				orphans = append(orphans, id)
			}
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("listing thumbnails: %w", err)
		}

		for _, id := range orphans {
			if _, err := tx.ExecContext(ctx, "DELETE FROM thumbnails WHERE content_id = ?", id); err != nil {
				return fmt.Errorf("removing orphan %s: %w", id, err)
			}
		}
		removed = len(orphans)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		c.logger.Info("pruned orphaned thumbnails", "removed", removed)
	}
	return removed, nil
}

// EnsureOwner records address as the device the cached thumbnails belong
// to. When the recorded owner differs, or no owner was recorded, every entry
// is removed first. Returns true if entries were flushed.
func (c *Cache) EnsureOwner(ctx context.Context, address string) (bool, error) {
	if address == "" {
		return false, fmt.Errorf("thumbcache: owner address is required")
	}

	var flushed bool
	err := c.db.InTx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, "SELECT address FROM cache_owner WHERE id = 1").Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			current = ""
		case err != nil:
			return fmt.Errorf("reading cache owner: %w", err)
		}

		if current == address {
			return nil
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM thumbnails")
		if err != nil {
			return fmt.Errorf("flushing thumbnails: %w", err)
		}
		n, _ := res.RowsAffected() //nolint:errcheck // sqlite3 always reports rows affected
		flushed = n > 0

		_, err = tx.ExecContext(ctx,
			`INSERT INTO cache_owner (id, address, updated_at) VALUES (1, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET address = excluded.address, updated_at = excluded.updated_at`,
			address, time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("recording cache owner: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if flushed {
		c.logger.Info("thumbnail cache flushed for new device", "address", address)
	}
	return flushed, nil
}

// Stats reports entry count, total size and owner.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(size), 0) FROM thumbnails",
	).Scan(&s.Entries, &s.Bytes)
	if err != nil {
		return Stats{}, fmt.Errorf("reading cache stats: %w", err)
	}

	err = c.db.QueryRowContext(ctx, "SELECT address FROM cache_owner WHERE id = 1").Scan(&s.Owner)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, fmt.Errorf("reading cache owner: %w", err)
	}
	return s, nil
}
