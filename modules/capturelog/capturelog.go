// Package capturelog keeps a SQLite record of committed captures. It uses
// modernc.org/sqlite (pure Go, no CGO) in WAL mode; per-capture attributes
// are stored as a msgpack blob.
package capturelog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const defaultBusyTimeout = 5000 // milliseconds

// Attributes are capture parameters stored alongside an entry.
type Attributes struct {
	Sequence      uint64            `msgpack:"seq"`
	ExposureNanos int64             `msgpack:"exposure_ns"`
	ISO           int               `msgpack:"iso"`
	FocusDistance float32           `msgpack:"focus"`
	Tags          map[string]string `msgpack:"tags,omitempty"`
}

// Entry is one committed capture.
type Entry struct {
	ID            uuid.UUID  `json:"id"`
	SessionID     uuid.UUID  `json:"session_id"`
	SessionName   string     `json:"session_name"`
	Timestamp     int64      `json:"timestamp"`
	Width         int        `json:"width"`
	Height        int        `json:"height"`
	Format        string     `json:"format"`
	ImagePath     string     `json:"image_path"`
	ThumbnailPath string     `json:"thumbnail_path,omitempty"`
	SidecarPath   string     `json:"sidecar_path,omitempty"`
	Attributes    Attributes `json:"attributes"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Log is a capture log backed by one SQLite database.
//
// Thread-safety: safe for concurrent use (database/sql pool, one connection).
type Log struct {
	db *sql.DB
}

// Open opens or creates the database at path and migrates its schema.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("capturelog: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("capturelog: open %s: %w", path, err)
	}

	// SQLite serialises writers; one connection keeps PRAGMAs consistent.
	db.SetMaxOpenConns(1)

	ctx := context.TODO()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("capturelog: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("capturelog: set busy_timeout: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Log{db: db}, nil
}

// Close closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Record appends an entry. A zero ID or CreatedAt is filled in.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	attrs, err := msgpack.Marshal(&e.Attributes)
	if err != nil {
		return fmt.Errorf("capturelog: encode attributes: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `INSERT INTO captures
		(id, session_id, session_name, timestamp, width, height, format,
		 image_path, thumbnail_path, sidecar_path, attributes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.SessionID.String(), e.SessionName, e.Timestamp,
		e.Width, e.Height, e.Format,
		e.ImagePath, e.ThumbnailPath, e.SidecarPath,
		attrs, e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("capturelog: insert: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT
		id, session_id, session_name, timestamp, width, height, format,
		image_path, thumbnail_path, sidecar_path, attributes, created_at
		FROM captures ORDER BY created_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("capturelog: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("capturelog: iterate: %w", err)
	}
	return out, nil
}

// Count returns the number of entries.
func (l *Log) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT count(*) FROM captures").Scan(&n); err != nil {
		return 0, fmt.Errorf("capturelog: count: %w", err)
	}
	return n, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e             Entry
		id, sessionID string
		attrs         []byte
		createdAt     string
	)
	if err := rows.Scan(&id, &sessionID, &e.SessionName, &e.Timestamp,
		&e.Width, &e.Height, &e.Format,
		&e.ImagePath, &e.ThumbnailPath, &e.SidecarPath,
		&attrs, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("capturelog: scan: %w", err)
	}

	var err error
	if e.ID, err = uuid.Parse(id); err != nil {
		return Entry{}, fmt.Errorf("capturelog: parse id: %w", err)
	}
	if e.SessionID, err = uuid.Parse(sessionID); err != nil {
		return Entry{}, fmt.Errorf("capturelog: parse session id: %w", err)
	}
	if err := msgpack.Unmarshal(attrs, &e.Attributes); err != nil {
		return Entry{}, fmt.Errorf("capturelog: decode attributes: %w", err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Entry{}, fmt.Errorf("capturelog: parse created_at: %w", err)
	}
	return e, nil
}
