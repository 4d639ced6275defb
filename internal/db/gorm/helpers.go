package gorm

import (
	"database/sql"
	"errors"
)

// ErrItemNotFound is returned when an item id does not exist.
var ErrItemNotFound = errors.New("item not found")

// ErrStaleLabeling is returned by Replace when the labeling references items
// that no longer exist. The transaction is rolled back.
var ErrStaleLabeling = errors.New("labeling references missing items")

// nullString converts a string to sql.NullString.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
