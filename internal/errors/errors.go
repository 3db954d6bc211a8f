package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/api"
)

// ClientError is raised for malformed or invalid inbound requests.
type ClientError struct {
	Reason string
}

func (e *ClientError) Error() string {
	return e.Reason
}

func NewClientError(format string, args ...any) *ClientError {
	return &ClientError{Reason: fmt.Sprintf(format, args...)}
}

// UnimplementedError is raised when an operation has no backend configured.
type UnimplementedError struct {
	Operation string
}

func (e *UnimplementedError) Error() string {
	return fmt.Sprintf("%s is not implemented", e.Operation)
}

// BackendError carries a non-success reply or a transport fault from a
// predictor or explainer. Body is the backend's reply, verbatim.
type BackendError struct {
	StatusCode int
	Body       string
	Cause      error
}

func (e *BackendError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
	}
	if e.Cause != nil {
		return fmt.Sprintf("backend call failed with %d: %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// ServerError is raised when the response could not be shaped.
type ServerError struct {
	Reason string
	Cause  error
}

func (e *ServerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
	}
	return e.Reason
}

func (e *ServerError) Unwrap() error {
	return e.Cause
}

// IsTyped reports whether err already carries one of the pipeline error kinds.
func IsTyped(err error) bool {
	var ce *ClientError
	var ue *UnimplementedError
	var be *BackendError
	var se *ServerError
	return stderrors.As(err, &ce) || stderrors.As(err, &ue) || stderrors.As(err, &be) || stderrors.As(err, &se)
}

// ToAPIError maps err onto the status code returned to the caller.
func ToAPIError(err error) *api.Error {
	var apiErr *api.Error
	if stderrors.As(err, &apiErr) {
		return apiErr
	}
	var ce *ClientError
	if stderrors.As(err, &ce) {
		return api.NewBadRequestError(ce.Reason)
	}
	var ue *UnimplementedError
	if stderrors.As(err, &ue) {
		return api.NewNotImplementedError(ue.Error())
	}
	var be *BackendError
	if stderrors.As(err, &be) {
		msg := be.Body
		if msg == "" {
			msg = be.Error()
		}
		return &api.Error{StatusCode: be.StatusCode, Message: msg}
	}
	var se *ServerError
	if stderrors.As(err, &se) {
		return api.NewInternalServerError(se.Error())
	}
	return &api.Error{StatusCode: http.StatusInternalServerError, Message: err.Error()}
}
