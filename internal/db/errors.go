package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Error kinds surfaced by both backends. Match with errors.Is.
var (
	ErrConstraintViolation = errors.New("constraint violation")
	ErrConnectionFailure   = errors.New("connection failure")
	ErrSchemaMismatch      = errors.New("schema mismatch")
)

// classify tags a driver error with its kind. Unknown errors pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConstraintViolation) || errors.Is(err, ErrConnectionFailure) || errors.Is(err, ErrSchemaMismatch) {
		return err
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_IOERR:
			return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
		}
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "23":
			return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
		case "08":
			return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
		case "42":
			return fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}
	return err
}
