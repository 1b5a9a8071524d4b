// Package client talks to the tasks service: a REST client for the board
// repository, a reconnecting websocket for the relay and a Session tying
// both to a local board.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chepyr/go-task-tracker/shared"
	"github.com/chepyr/go-task-tracker/shared/models"
	"github.com/google/uuid"
)

// SocketIDHeader matches the header the server uses to skip the
// originating connection when it broadcasts a write.
const SocketIDHeader = "X-Socket-ID"

type API struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	// ReadAttempts bounds the tries of ListTasks on transient failures.
	ReadAttempts int
	// ReadBackoff is the first wait between tries; it doubles each time.
	ReadBackoff time.Duration

	socket *Socket
}

func NewAPI(baseURL, token string) *API {
	return &API{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Token:        token,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		ReadAttempts: 3,
		ReadBackoff:  200 * time.Millisecond,
	}
}

// BindSocket tags every request with the socket's id so the socket does
// not receive the broadcast of its own writes.
func (a *API) BindSocket(s *Socket) {
	a.socket = s
}

// ListTasks is the only call retried: it is an idempotent read and only
// transient failures are retried.
func (a *API) ListTasks(ctx context.Context, projectID uuid.UUID) ([]*models.Task, error) {
	path := "/tasks?projectId=" + url.QueryEscape(projectID.String())

	var tasks []*models.Task
	op := func() error {
		tasks = nil
		err := a.do(ctx, http.MethodGet, path, nil, &tasks)
		if err != nil && !shared.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, a.readBackoff(ctx)); err != nil {
		return nil, err
	}
	return tasks, nil
}

// readBackoff waits ReadBackoff before the first retry and doubles the
// wait after each one, for at most ReadAttempts tries.
func (a *API) readBackoff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = a.ReadBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = 30 * time.Second
	exp.MaxElapsedTime = 0
	retries := uint64(max(a.ReadAttempts-1, 0))
	return backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)
}

func (a *API) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	if err := a.do(ctx, http.MethodGet, "/tasks/"+id.String(), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (a *API) CreateTask(ctx context.Context, input models.NewTask) (*models.Task, error) {
	var task models.Task
	if err := a.do(ctx, http.MethodPost, "/tasks", input, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (a *API) UpdateTask(ctx context.Context, id uuid.UUID, patch models.TaskPatch) (*models.Task, error) {
	var task models.Task
	if err := a.do(ctx, http.MethodPatch, "/tasks/"+id.String(), patch, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (a *API) DeleteTask(ctx context.Context, id uuid.UUID) error {
	return a.do(ctx, http.MethodDelete, "/tasks/"+id.String(), nil, nil)
}

func (a *API) AddComment(ctx context.Context, taskID uuid.UUID, content string) (*models.Comment, error) {
	var comment models.Comment
	body := map[string]string{"content": content}
	if err := a.do(ctx, http.MethodPost, "/tasks/"+taskID.String()+"/comments", body, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

func (a *API) CreateProject(ctx context.Context, project models.Project) (*models.Project, error) {
	var created models.Project
	if err := a.do(ctx, http.MethodPost, "/projects", project, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// do sends one request. Network failures become TransientIOError and error
// responses are turned back into the shared error types.
func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	if a.socket != nil {
		if id := a.socket.SocketID(); id != "" {
			req.Header.Set(SocketIDHeader, id)
		}
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return &shared.TransientIOError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return shared.ErrorFromStatus(resp.StatusCode, e.Error)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
