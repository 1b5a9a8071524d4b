// Package dbtest opens throwaway in-memory databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/chepyr/go-task-tracker/internal/db"
	"github.com/chepyr/go-task-tracker/shared/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Open returns an in-memory sqlite database with the production schema.
// The pool is pinned to one connection: every new connection to
// ":memory:" would otherwise see an empty database.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	dbx, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	dbx.SetMaxOpenConns(1)
	if err := db.Migrate(context.Background(), dbx); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() { dbx.Close() })
	return dbx
}

// InsertUser stores a user with a placeholder password hash.
func InsertUser(t testing.TB, dbx *sql.DB, name string) *models.User {
	t.Helper()
	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.New(),
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "hash",
		Name:         name,
		Role:         "member",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.NewUserRepository(dbx).Create(context.Background(), u); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return u
}
