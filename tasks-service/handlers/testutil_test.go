package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chepyr/go-task-tracker/internal/config"
	"github.com/chepyr/go-task-tracker/internal/db/dbtest"
	"github.com/chepyr/go-task-tracker/shared/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "super_secret_for_tests_0123456789abcdef"

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:    testSecret,
		WSRateLimit:  100,
		WSRateWindow: time.Second,
	}
}

func newTestHandler(t *testing.T) (*Handler, *sql.DB) {
	t.Helper()
	dbx := dbtest.Open(t)
	h := New(dbx, testConfig())
	t.Cleanup(h.Close)
	return h, dbx
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func tokenFor(t *testing.T, userID uuid.UUID) string {
	return signToken(t, jwt.MapClaims{
		"sub": userID.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
}

// call runs a handler directly with the user already in the context.
func call(h http.HandlerFunc, user *models.User, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req = req.WithContext(WithUserID(req.Context(), user.ID))
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (status %d)", err, rec.Code)
	}
	return v
}

func createProject(t *testing.T, h *Handler, owner *models.User, name string) models.Project {
	t.Helper()
	rec := call(h.HandleProjects, owner, http.MethodPost, "/projects", map[string]string{"name": name})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project: want 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	return decode[models.Project](t, rec)
}

func createTask(t *testing.T, h *Handler, user *models.User, projectID uuid.UUID, title string) models.Task {
	t.Helper()
	rec := call(h.HandleTasks, user, http.MethodPost, "/tasks", map[string]any{
		"projectId": projectID,
		"title":     title,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task: want 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	return decode[models.Task](t, rec)
}
