package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ErrEmptyID is returned when a single record operation gets an empty id.
var ErrEmptyID = errors.New("resource: id must not be empty")

// Retryable is implemented by errors that know whether repeating the request may succeed.
type Retryable interface {
	IsRetryable() bool
}

// IsRetryable reports whether err, or an error it wraps, is worth retrying.
func IsRetryable(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// TransportError is a request that never produced an HTTP response.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("resource: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable is false only when the caller gave up on the request.
func (e *TransportError) IsRetryable() bool {
	return !errors.Is(e.Err, context.Canceled)
}

// ClientError is a 4xx response.
type ClientError struct {
	Method string
	URL    string
	Status int
	Body   []byte
	Remote *RemoteError
}

func (e *ClientError) Error() string {
	return statusMessage(e.Method, e.URL, e.Status, e.Remote)
}

func (e *ClientError) IsRetryable() bool { return false }

// ServerError is a 5xx response.
type ServerError struct {
	Method string
	URL    string
	Status int
	Body   []byte
	Remote *RemoteError
}

func (e *ServerError) Error() string {
	return statusMessage(e.Method, e.URL, e.Status, e.Remote)
}

func (e *ServerError) IsRetryable() bool { return true }

// DecodeError is a 2xx response whose body could not be decoded.
type DecodeError struct {
	Method string
	URL    string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("resource: %s %s: decode response: %v", e.Method, e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) IsRetryable() bool { return false }

func statusMessage(method, url string, status int, remote *RemoteError) string {
	msg := fmt.Sprintf("resource: %s %s: %d %s", method, url, status, http.StatusText(status))
	if remote != nil && remote.Message != "" {
		msg += ": " + remote.Message
	}
	return msg
}

// RemoteError is the error object the backend wraps in {"error": {...}}.
type RemoteError struct {
	Code             string                  `json:"code,omitempty"`
	Message          string                  `json:"message"`
	Details          string                  `json:"details,omitempty"`
	ValidationErrors []RemoteValidationError `json:"validationErrors,omitempty"`
}

// RemoteValidationError reports one failed rule and the members it applies to.
type RemoteValidationError struct {
	Message string   `json:"message"`
	Members []string `json:"members,omitempty"`
}

type remoteEnvelope struct {
	Error *RemoteError `json:"error"`
}

// parseRemoteError extracts the error envelope, returning nil for bodies that
// do not carry one.
func parseRemoteError(body []byte) *RemoteError {
	if len(body) == 0 {
		return nil
	}
	var env remoteEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	return env.Error
}

// AsError converts err to a display ready *goerrors.Error. The category
// follows the HTTP status and remote validation messages become field errors.
func AsError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var ge *goerrors.Error
	if errors.As(err, &ge) {
		return ge
	}

	var (
		clientErr    *ClientError
		serverErr    *ServerError
		transportErr *TransportError
		decodeErr    *DecodeError
	)

	switch {
	case errors.As(err, &clientErr):
		return statusError(err, clientErr.Status, clientErr.Remote)
	case errors.As(err, &serverErr):
		return statusError(err, serverErr.Status, serverErr.Remote)
	case errors.As(err, &transportErr):
		return goerrors.Wrap(err, goerrors.CategoryExternal, "backend unreachable").
			WithTextCode("TRANSPORT_ERROR").
			WithMetadata(map[string]any{"method": transportErr.Method, "url": transportErr.URL})
	case errors.As(err, &decodeErr):
		return goerrors.Wrap(err, goerrors.CategoryExternal, "unexpected response from backend").
			WithTextCode("DECODE_ERROR").
			WithMetadata(map[string]any{"method": decodeErr.Method, "url": decodeErr.URL})
	case errors.Is(err, ErrEmptyID):
		return goerrors.NewValidation("id is required", goerrors.FieldError{Field: "id", Message: "cannot be blank"}).
			WithCode(http.StatusBadRequest).
			WithTextCode("EMPTY_ID")
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, err.Error())
}

func statusError(err error, status int, remote *RemoteError) *goerrors.Error {
	message := http.StatusText(status)
	if remote != nil && remote.Message != "" {
		message = remote.Message
	}

	out := goerrors.Wrap(err, goerrors.HTTPStatusToCategory(status), message).
		WithCode(status).
		WithTextCode(goerrors.HTTPStatusToTextCode(status))

	if remote == nil {
		return out
	}

	if remote.Code != "" {
		out = out.WithTextCode(remote.Code)
	}
	if remote.Details != "" {
		out = out.WithMetadata(map[string]any{"details": remote.Details})
	}

	if len(remote.ValidationErrors) > 0 {
		out.Category = goerrors.CategoryValidation
		for _, ve := range remote.ValidationErrors {
			members := ve.Members
			if len(members) == 0 {
				members = []string{""}
			}
			for _, member := range members {
				out.ValidationErrors = append(out.ValidationErrors, goerrors.FieldError{
					Field:   lowerFirst(member),
					Message: ve.Message,
				})
			}
		}
	}

	return out
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
