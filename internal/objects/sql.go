package objects

import (
	"database/sql"
	"strings"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// lastSeenColumns holds the nullable columns of a tracked_objects row.
type lastSeenColumns struct {
	timestamp  sql.NullInt64
	location   sql.NullString
	recording  sql.NullString
	confidence sql.NullFloat64
}

func (c *lastSeenColumns) dest() []any {
	return []any{&c.timestamp, &c.location, &c.recording, &c.confidence}
}

func (c *lastSeenColumns) applyTo(obj *TrackedObject) {
	if c.timestamp.Valid {
		v := c.timestamp.Int64
		obj.LastSeenTimestamp = &v
	}
	if c.location.Valid {
		v := c.location.String
		obj.LocationPhrase = &v
	}
	if c.recording.Valid {
		v := c.recording.String
		obj.RecordingID = &v
	}
	if c.confidence.Valid {
		v := c.confidence.Float64
		obj.Confidence = &v
	}
}

// likePattern builds a contains pattern for LIKE/ILIKE ... ESCAPE '\'.
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(query) + "%"
}
