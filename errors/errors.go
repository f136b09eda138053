package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure by the subsystem that produced it. Retry policy
// keys off the kind: validation failures are never retried, everything else
// is retryable up to the session caps.
type Kind string

const (
	KindRetrieval  Kind = "retrieval_error"
	KindGeneration Kind = "generation_error"
	KindGrading    Kind = "grading_error"
	KindSearch     Kind = "search_error"
	KindValidation Kind = "validation_error"
	KindNetwork    Kind = "network_error"
	KindSystem     Kind = "system_error"
)

// Sentinel errors shared across packages.
var (
	// ErrUnparsable indicates the oracle returned output that could not be
	// coerced into the requested structure.
	ErrUnparsable = errors.New("oracle output unparsable")

	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
)

// SystemError is an immutable record of a failure inside a workflow node.
// Once appended to a session's error list it is never mutated.
type SystemError struct {
	Kind        Kind      `json:"kind"`
	Message     string    `json:"message"`
	Time        time.Time `json:"time"`
	Node        string    `json:"node"`
	RetryCount  int       `json:"retry_count"`
	Recoverable bool      `json:"recoverable"`
}

// NewSystemError builds a recoverable error record stamped with the current time.
func NewSystemError(kind Kind, node string, err error) SystemError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return SystemError{
		Kind:        kind,
		Message:     msg,
		Time:        time.Now(),
		Node:        node,
		Recoverable: true,
	}
}

// Error implements the error interface so records can travel as plain errors.
func (e SystemError) Error() string {
	return fmt.Sprintf("%s at node %s: %s", e.Kind, e.Node, e.Message)
}

// Retryable reports whether this kind of failure may ever be retried.
func (k Kind) Retryable() bool {
	return k != KindValidation
}
