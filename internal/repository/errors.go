// Package repository holds the MySQL data access for users, schedule slots
// and audit entries.  The sentinel values below let handlers map storage
// outcomes onto HTTP responses without inspecting driver errors.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup matches no row.  Handlers
// translate it into 404, or into a generic authentication failure on the
// login path.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when creating a user whose email is taken.
var ErrEmailExists = errors.New("email already exists")

// isDuplicate reports whether err is a MySQL unique key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// isDeadlock reports whether err is InnoDB choosing this transaction as a
// deadlock victim.  The transaction has been rolled back and may be rerun.
func isDeadlock(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1213
}
