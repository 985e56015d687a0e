package objects

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/objectfinder/object-finder/internal/pkg/errors"
)

// SQLiteSchema creates the tracked_objects table.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS tracked_objects (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	name                TEXT    NOT NULL UNIQUE COLLATE NOCASE,
	alias               TEXT    NOT NULL,
	last_seen_timestamp INTEGER,
	location_phrase     TEXT,
	video_no            TEXT,
	confidence          REAL,
	created_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tracked_objects_created_at ON tracked_objects(created_at DESC);
`

const sqliteColumns = `id, name, alias, last_seen_timestamp, location_phrase, video_no, confidence, created_at`

// SQLiteStore persists objects in an embedded SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (and if needed creates) the database at dsn.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}

	// One writer at a time; this also keeps a :memory: database alive on a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, obj NewObject) (*TrackedObject, error) {
	obj, err := prepare(obj)
	if err != nil {
		return nil, err
	}

	createdAt := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tracked_objects (name, alias, created_at) VALUES (?, ?, ?)`,
		obj.Name, obj.Alias, createdAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, alreadyExists(obj.Name)
		}
		return nil, errors.PersistenceError("failed to create object", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.PersistenceError("failed to read new object id", err)
	}

	return &TrackedObject{
		ID:        id,
		Name:      obj.Name,
		Alias:     obj.Alias,
		CreatedAt: createdAt,
	}, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]TrackedObject, error) {
	return s.query(ctx,
		`SELECT `+sqliteColumns+` FROM tracked_objects ORDER BY created_at DESC, id DESC`)
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*TrackedObject, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM tracked_objects WHERE id = ?`, id)

	obj, err := scanSQLite(row)
	if err == sql.ErrNoRows {
		return nil, notFound()
	}
	if err != nil {
		return nil, errors.PersistenceError("failed to get object", err)
	}
	return obj, nil
}

// FindMatching relies on SQLite's LIKE being case-insensitive for ASCII.
func (s *SQLiteStore) FindMatching(ctx context.Context, query string) ([]TrackedObject, error) {
	pattern := likePattern(query)
	return s.query(ctx,
		`SELECT `+sqliteColumns+` FROM tracked_objects
		 WHERE name LIKE ? ESCAPE '\' OR alias LIKE ? ESCAPE '\'
		 ORDER BY created_at DESC, id DESC`,
		pattern, pattern)
}

func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, id int64, ls LastSeen) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tracked_objects
		 SET last_seen_timestamp = ?, location_phrase = ?, video_no = ?, confidence = ?
		 WHERE id = ?`,
		ls.Timestamp, ls.Location, ls.RecordingID, ls.Confidence, id,
	)
	if err != nil {
		return errors.PersistenceError("failed to update object location", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tracked_objects WHERE id = ?`, id)
	if err != nil {
		return errors.PersistenceError("failed to delete object", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]TrackedObject, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.PersistenceError("failed to query objects", err)
	}
	defer rows.Close()

	out := []TrackedObject{}
	for rows.Next() {
		obj, err := scanSQLite(rows)
		if err != nil {
			return nil, errors.PersistenceError("failed to scan object", err)
		}
		out = append(out, *obj)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.PersistenceError("failed to iterate objects", err)
	}
	return out, nil
}

func scanSQLite(row rowScanner) (*TrackedObject, error) {
	var (
		obj       TrackedObject
		lastSeen  lastSeenColumns
		createdAt int64
	)

	dest := append([]any{&obj.ID, &obj.Name, &obj.Alias}, lastSeen.dest()...)
	dest = append(dest, &createdAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	lastSeen.applyTo(&obj)
	obj.CreatedAt = time.Unix(0, createdAt).UTC()
	return &obj, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.PersistenceError("failed to read affected rows", err)
	}
	if n == 0 {
		return notFound()
	}
	return nil
}
