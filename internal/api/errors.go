package api

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound indicates the server no longer tracks the session.
// Callers must discard the local session identifier when they see it.
var ErrSessionNotFound = errors.New("session not found")

// ErrTimeout indicates the request exceeded its deadline.
var ErrTimeout = errors.New("request timed out")

// NetworkError wraps transport and protocol failures from the RAG service.
// It is transient from the session's point of view: the session identifier
// stays valid and the caller may retry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
