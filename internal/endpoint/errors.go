package endpoint

import "errors"

var (
	// ErrUnknownEndpoint is returned when a name is not a key of the known-endpoints table.
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	// ErrInvalidURL is returned when an endpoint URL cannot be parsed.
	ErrInvalidURL = errors.New("invalid endpoint url")
)
