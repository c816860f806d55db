package client

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrForcedEviction ends the room session after the server removed us.
	ErrForcedEviction = errors.New("removed from room by host")
	ErrNotHost        = errors.New("only the host can do this")
	ErrNotInRoom      = errors.New("not in a room")
	ErrNoParagraphs   = errors.New("no paragraphs loaded")
)

// ValidationError is returned before any network call when input is invalid.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

type CreationError struct {
	StatusCode int
	Err        error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("create room: %s", e.Err)
}

func (e *CreationError) Unwrap() error {
	return e.Err
}

type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %s", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// RecoverableFetchError marks a failed fetch that leaves prior state intact.
type RecoverableFetchError struct {
	Resource string
	Err      error
}

func (e *RecoverableFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.Resource, e.Err)
}

func (e *RecoverableFetchError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx reply from one of the HTTP collaborators.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

// CommandRejectedError is a websocket command the server refused.
type CommandRejectedError struct {
	Code   int
	Reason string
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("command rejected (%d): %s", e.Code, e.Reason)
}
