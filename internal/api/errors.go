package api

import "fmt"

// RequestError is returned for a non-2xx response.
type RequestError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("api: %s %s: server error: %d - %s", e.Method, e.URL, e.Status, e.Body)
}

// ParseError is returned when a successful response is not valid JSON.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("api: parse response from %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
