package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports caller-supplied data that fails a field constraint.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string

	// set when rebuilt from a remote error message
	msg string
}

func (e *NotFoundError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	if e.ID == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// TransientIOError wraps a failure to reach the store or the network.
// It is the only error class a caller may retry, and only for reads.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	if e.Err == nil {
		return e.Op + ": temporarily unavailable"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsTransient(err error) bool {
	var target *TransientIOError
	return errors.As(err, &target)
}

// StatusForError maps the error taxonomy onto HTTP status codes.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func SendError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}

// SendErrorFor writes err using its mapped status. Internal errors are
// replaced by fallback so driver details do not leak to clients.
func SendErrorFor(w http.ResponseWriter, err error, fallback string) {
	status := StatusForError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = fallback
	}
	SendError(w, msg, status)
}

func SendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorFromStatus rebuilds a typed error from an HTTP error response.
func ErrorFromStatus(status int, message string) error {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &ValidationError{Message: message}
	case status == http.StatusNotFound:
		return &NotFoundError{msg: message}
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway ||
		status == http.StatusGatewayTimeout || status == http.StatusTooManyRequests:
		return &TransientIOError{Op: "request", Err: errors.New(message)}
	default:
		return fmt.Errorf("request failed with status %d: %s", status, message)
	}
}
