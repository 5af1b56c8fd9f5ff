package database

import (
	"database/sql"
	"time"
)

// ClockUpdate represents one stored clock update sourced from a channel
// message. MessageID is the dedup key and is unique across all rows;
// Content and ImageData are immutable after insert.
type ClockUpdate struct {
	ID        int64        `db:"id"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt sql.NullTime `db:"updated_at"`

	MessageID int64          `db:"message_id"`
	Content   string         `db:"content"`
	TimeValue sql.NullString `db:"time_value"`
	ImageData sql.NullString `db:"image_data"` // base64-encoded photo payload
}
