package bundle

import (
	"database/sql"
	"time"
)

// Observation is one (tablet, bundle) sighting imported from a device manifest.
type Observation struct {
	ID             int64          `json:"id"`
	TabletID       string         `json:"tablet_id"`
	FileID         string         `json:"file_id"`
	FileName       string         `json:"file_name"`
	FileAuthorSID  sql.NullString `json:"file_author_sid"`
	FileInsertTime sql.NullInt64  `json:"file_insert_time"` // epoch ms
	FileSize       int64          `json:"file_size"`
	Origin         bool           `json:"origin"`
}

// HasInsertTime reports whether the device recorded when it received the bundle.
func (o Observation) HasInsertTime() bool {
	return o.FileInsertTime.Valid
}

// InsertedAt returns the insert time as a time.Time in UTC.
// The zero time is returned when no insert time was recorded.
func (o Observation) InsertedAt() time.Time {
	if !o.FileInsertTime.Valid {
		return time.Time{}
	}
	return time.UnixMilli(o.FileInsertTime.Int64).UTC()
}

// Millis converts a duration to the millisecond unit used for insert times.
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}

// InsertTime builds a valid insert time value from epoch milliseconds.
func InsertTime(ms int64) sql.NullInt64 {
	return sql.NullInt64{Int64: ms, Valid: true}
}

// AuthorSID builds an author value; an empty sid is recorded as absent.
func AuthorSID(sid string) sql.NullString {
	return sql.NullString{String: sid, Valid: sid != ""}
}
