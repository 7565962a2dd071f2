// Package syncerr holds the error taxonomy shared by the client packages.
// Callers match with errors.Is; wrapped errors keep their context.
package syncerr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrUnauthorized means the credential was rejected. The session must be torn down.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound means the channel (or other resource) does not exist for this user.
	ErrNotFound = errors.New("not found")
	// ErrTransient covers network failures and 5xx responses.
	ErrTransient = errors.New("transient failure")
	// ErrRejected means the server refused the request as invalid or forbidden.
	ErrRejected = errors.New("rejected")
	// ErrProtocol means the push handshake or a push frame was not acceptable.
	ErrProtocol = errors.New("protocol error")
	// ErrEmptyContent is returned by Send for blank input.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrEmptyDirectory is returned when the user belongs to no channels.
	ErrEmptyDirectory = errors.New("no channels available")
)

// APIError is a non-2xx response from the synchronous API.
type APIError struct {
	Status  int
	Code    int
	Message string
	kind    error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// Unwrap exposes the taxonomy sentinel so errors.Is works on APIError.
func (e *APIError) Unwrap() error { return e.kind }

// NewAPIError builds an APIError classified by HTTP status.
func NewAPIError(status, code int, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message, kind: KindForStatus(status)}
}

// KindForStatus maps an HTTP status to a taxonomy sentinel.
func KindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return ErrTransient
	default:
		return ErrRejected
	}
}

// Transient wraps a transport failure so it matches ErrTransient.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: ErrTransient, cause: err}
}

// Protocol wraps a push-side failure so it matches ErrProtocol.
func Protocol(err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: ErrProtocol, cause: err}
}

type wrapped struct {
	kind  error
	cause error
}

func (w *wrapped) Error() string { return w.kind.Error() + ": " + w.cause.Error() }

// Is matches both the taxonomy kind and anything in the cause chain.
func (w *wrapped) Is(target error) bool { return target == w.kind }

func (w *wrapped) Unwrap() error { return w.cause }

// IsAuth reports whether err should tear the session down.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// Retryable reports whether a user-initiated retry may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
