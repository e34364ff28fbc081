package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Lookup errors.
var (
	// ErrNotFound is returned when the requested account does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrTransport covers network failures and unexpected HTTP statuses.
	ErrTransport = errors.New("directory request failed")
	// ErrEmptyQuery marks a submit with blank input. It is never shown to the user.
	ErrEmptyQuery = errors.New("empty query")
)

// User-facing messages for the error toast.
const (
	MessageNotFound    = "User not found"
	MessageFetchFailed = "Failed to fetch user data"
)

// APIError carries the status of a failed directory call.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps the status onto ErrNotFound or ErrTransport.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return ErrTransport
}

// UserMessage converts a lookup error into the text shown in the UI.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return MessageNotFound
	default:
		return MessageFetchFailed
	}
}
