package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"net"

	"github.com/chepyr/go-task-tracker/shared"
)

//go:embed schema.sql
var schema string

func Connect(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}

// Migrate creates any missing tables and indexes. It is safe to run on
// every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Classify turns driver errors into the shared error taxonomy: missing rows
// become NotFoundError, connectivity failures become TransientIOError and
// anything else is wrapped with op.
func Classify(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if shared.IsNotFound(err) || shared.IsValidation(err) || shared.IsTransient(err) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return shared.NewNotFoundError(entity, id)
	}
	if IsTransient(err) {
		return &shared.TransientIOError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsTransient reports connection-level failures worth retrying.
func IsTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// WithTx runs fn inside a transaction, committing on success.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
