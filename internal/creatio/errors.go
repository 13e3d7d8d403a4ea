// ABOUTME: Error taxonomy for Creatio login and OData record calls.
// ABOUTME: Every error message is self-contained: status, body snippet, or failure class.

package creatio

import (
	"errors"
	"fmt"
)

// ErrNotConnected indicates an operation was attempted with no active client.
var ErrNotConnected = errors.New("not connected to Creatio")

// ErrNoSession indicates a request was built without an auth session.
// This is a programming error: every operation authenticates first.
var ErrNoSession = errors.New("creatio: request built without an auth session")

// maxSnippet bounds how much of an upstream body is quoted in errors.
const maxSnippet = 200

// AuthErrorKind classifies login failures.
type AuthErrorKind int

const (
	// AuthTransportFailure means the login endpoint did not answer with 2xx
	// or could not be reached at all.
	AuthTransportFailure AuthErrorKind = iota
	// AuthRejected means the upstream answered but refused the credentials.
	AuthRejected
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthRejected:
		return "rejected"
	case AuthTransportFailure:
		return "transport failure"
	default:
		return "unknown"
	}
}

// AuthError is returned by Authenticate.
type AuthError struct {
	Kind    AuthErrorKind
	Status  int
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	switch {
	case e.Kind == AuthRejected:
		return fmt.Sprintf("authentication rejected: %s", e.Message)
	case e.Err != nil:
		return fmt.Sprintf("authentication failed: %s: %v", e.Message, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("authentication failed: HTTP %d: %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("authentication failed: %s", e.Message)
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// RequestError is a non-2xx answer from an OData endpoint.
type RequestError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s failed: HTTP %d: %s", e.Method, e.Path, e.Status, snippet(e.Body))
}

// PermissionError is an HTML error page returned with a non-2xx status on a
// data call. In practice this is almost always a missing CRM permission.
type PermissionError struct {
	Status int
	Title  string
	Hint   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("Creatio returned an HTML error page (HTTP %d): %s. %s", e.Status, e.Title, e.Hint)
}

// UnexpectedContentTypeError is a 2xx answer carrying HTML instead of JSON,
// usually a silent redirect to the login page.
type UnexpectedContentTypeError struct {
	Status      int
	ContentType string
	Body        string
}

func (e *UnexpectedContentTypeError) Error() string {
	return fmt.Sprintf("expected JSON but got %q (HTTP %d), the session may have expired or been redirected to a login page: %s",
		e.ContentType, e.Status, snippet(e.Body))
}

// MalformedResponseError is a body that should have been JSON but was not.
type MalformedResponseError struct {
	Body string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("invalid JSON response from Creatio: %s", snippet(e.Body))
}

// snippet truncates s for inclusion in an error message.
func snippet(s string) string {
	if len(s) <= maxSnippet {
		return s
	}
	return s[:maxSnippet] + "..."
}
