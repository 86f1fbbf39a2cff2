package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound marks a missing referenced entity. At ingestion time it is a
// synchronous client error; during reconciliation it is logged and dropped.
var ErrNotFound = errors.New("not found")

// ErrDuplicateRole and ErrDuplicateApplication are conflict signals, not
// crashes. Use errors.As to recover the existing row's id.
var (
	ErrDuplicateRole        = errors.New("role already exists")
	ErrDuplicateApplication = errors.New("active application already exists")
)

// DuplicateRoleError carries the id of the role that already owns the
// fingerprint.
type DuplicateRoleError struct {
	ExistingID int64
}

func (e *DuplicateRoleError) Error() string {
	return fmt.Sprintf("role already exists (id=%d)", e.ExistingID)
}

func (e *DuplicateRoleError) Unwrap() error { return ErrDuplicateRole }

// DuplicateApplicationError carries the id of the active application already
// covering the (role, profile) pair.
type DuplicateApplicationError struct {
	ExistingID int64
}

func (e *DuplicateApplicationError) Error() string {
	return fmt.Sprintf("active application already exists (id=%d)", e.ExistingID)
}

func (e *DuplicateApplicationError) Unwrap() error { return ErrDuplicateApplication }

// uniqueViolation reports whether err is a Postgres unique constraint
// violation, optionally on a specific constraint.
func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
