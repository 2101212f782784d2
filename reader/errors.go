package reader

import (
	"errors"
	"fmt"
)

// ErrSessionExists is returned when a session id is already registered.
var ErrSessionExists = errors.New("reader: session already registered")

// ErrSessionNotFound is returned when an operation targets an unknown session.
var ErrSessionNotFound = errors.New("reader: session not found")

// ErrRunActive is returned by Start when the engine is already mid-run.
var ErrRunActive = errors.New("reader: run already in progress")

// ConfigurationError is bad operator input. Surfaced immediately; the run
// never starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("reader: configuration: %s: %s", e.Field, e.Reason)
}

// AuthenticationError means the target site still showed the login page
// with a recognized failure marker after submit. The run aborts before any
// reading happens.
type AuthenticationError struct {
	Marker string
}

func (e *AuthenticationError) Error() string {
	if e.Marker == "" {
		return "reader: authentication rejected by site"
	}
	return fmt.Sprintf("reader: authentication rejected by site: %s", e.Marker)
}

// ElementNotFoundError means a required control could not be located by any
// resolver strategy. Only required controls raise this; optional ones (the
// next-page control) signal end-of-book instead.
type ElementNotFoundError struct {
	Intent string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("reader: element not found: %s", e.Intent)
}

// TransientInteractionError is a single failed page-turn attempt. Logged,
// then the loop continues after a backoff; never aborts the run.
type TransientInteractionError struct {
	Op    string
	Cause error
}

func (e *TransientInteractionError) Error() string {
	return fmt.Sprintf("reader: transient: %s: %v", e.Op, e.Cause)
}

func (e *TransientInteractionError) Unwrap() error { return e.Cause }

// NavigationTimeoutError is a bounded wait that expired. Logged as a
// warning; the flow re-checks the actual page state instead of failing.
type NavigationTimeoutError struct {
	URL   string
	Cause error
}

func (e *NavigationTimeoutError) Error() string {
	return fmt.Sprintf("reader: navigation timeout at %s: %v", e.URL, e.Cause)
}

func (e *NavigationTimeoutError) Unwrap() error { return e.Cause }
