package model

import (
	"time"

	"github.com/google/uuid"
)

// Base contains common fields for all models. Timestamps are assigned by the
// store and may come back NULL from older rows.
type Base struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	CreatedAt *time.Time `json:"created_at" db:"created_at"`
	UpdatedAt *time.Time `json:"updated_at" db:"updated_at"`
}

// ISOTime formats t as RFC 3339, falling back to now when t is nil.
func ISOTime(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return now.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC().Format(time.RFC3339Nano)
}
