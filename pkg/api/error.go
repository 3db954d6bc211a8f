package api

import "net/http"

// Error represents an error that occurred while handling a request.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

func NewBadRequestError(message string) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Message: message}
}

func NewNotFoundError(message string) *Error {
	return &Error{StatusCode: http.StatusNotFound, Message: message}
}

func NewInternalServerError(message string) *Error {
	return &Error{StatusCode: http.StatusInternalServerError, Message: message}
}

func NewNotImplementedError(message string) *Error {
	return &Error{StatusCode: http.StatusNotImplemented, Message: message}
}

func NewServiceUnavailableError(message string) *Error {
	return &Error{StatusCode: http.StatusServiceUnavailable, Message: message}
}
