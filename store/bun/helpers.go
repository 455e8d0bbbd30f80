package bunstore

import (
	"database/sql"
	"errors"

	"github.com/uptrace/bun/driver/pgdriver"
)

// isNoRows reports whether err means the run, checkpoint, or event row
// does not exist; callers translate it to the matching sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey reports a PostgreSQL unique_violation (23505), the
// signal behind ErrRunAlreadyExists and ErrEventAlreadyExists.
func isDuplicateKey(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}
