// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// services to distinguish between different failure scenarios without
// depending on database/sql or driver error codes. For example,
// ErrNotFound indicates that a requested row does not exist, while
// ErrDuplicate signals that an insert collided with an existing primary
// or unique key (e.g. a replayed request value).
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a requested row does not exist. Services
// translate this into a domain not-found error.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a primary or unique
// key. The replay guard relies on this to detect a request value that
// was already recorded.
var ErrDuplicate = errors.New("duplicate")

// isDuplicateErr reports whether err is the MySQL duplicate-entry error
// (code 1062).
func isDuplicateErr(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
