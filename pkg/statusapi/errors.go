package statusapi

import (
	"errors"
	"fmt"
)

// NetworkError is a transport failure: the request never produced a response.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerError is a non-success status or a payload that could not be decoded.
type ServerError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *ServerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: server error (status %d): %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: unexpected status code: %d", e.Endpoint, e.StatusCode)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies err for metrics and display.
func ErrorKind(err error) string {
	var netErr *NetworkError
	var srvErr *ServerError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &srvErr):
		return "server"
	default:
		return "other"
	}
}
