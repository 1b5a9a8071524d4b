package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// exists checks for a row by id. table is always a package constant.
func exists(ctx context.Context, q queryer, table string, id uuid.UUID) (bool, error) {
	var found bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&found)
	return found, err
}

// lockProject takes the project's row lock until the transaction ends.
// Every transaction that writes task positions in the project takes it as
// its first statement, so columns are renumbered one writer at a time.
// It reports false when the project does not exist.
func lockProject(ctx context.Context, tx *sql.Tx, projectID uuid.UUID) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at = updated_at WHERE id = $1`, projectID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// lockTaskProject is lockProject for the project owning taskID. A missing
// task locks nothing.
func lockTaskProject(ctx context.Context, tx *sql.Tx, taskID uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE projects SET updated_at = updated_at WHERE id = (SELECT project_id FROM tasks WHERE id = $1)`,
		taskID)
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}
