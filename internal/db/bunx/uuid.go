package bunx

import "github.com/google/uuid"

// NewUUIDv7 generates a time-ordered UUIDv7 string for database primary keys.
//
// Ids are generated in Go rather than by a column default so the same
// schema works on PostgreSQL and SQLite.
//
// It panics if the entropy source fails.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
