package service

import (
	"errors"
	"strings"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrUnknownQueryType = errors.New("unknown query type")
	ErrInvalidArgument  = errors.New("invalid argument")
)

// ValidationError rejects an event before any store access
type ValidationError struct {
	Missing []string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

// invalidArgument wraps ErrInvalidArgument with a message safe to show clients
type invalidArgument struct {
	message string
}

func (e *invalidArgument) Error() string { return e.message }

func (e *invalidArgument) Unwrap() error { return ErrInvalidArgument }

func newInvalidArgument(message string) error {
	return &invalidArgument{message: message}
}
