package registry

import (
	"errors"
	"fmt"
)

// Tag is the wire discriminant of a registry failure.
type Tag string

const (
	// TagUninitialized means the registry key has never been written.
	TagUninitialized Tag = "uninitialized"
	// TagDoesNotExist is returned by lookups for an unknown container.
	TagDoesNotExist Tag = "doesnotexist"
	// TagNotFound is returned by Delete for an unknown container.
	TagNotFound Tag = "not-found"
	// TagInternal wraps storage and decoding failures.
	TagInternal Tag = "internal"
	// TagInvalid rejects malformed arguments.
	TagInvalid Tag = "invalid"
)

// Error is a tagged registry outcome. It encodes to JSON as
// {"error": tag, "message": message}.
type Error struct {
	Tag     Tag    `json:"error"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Sentinels for errors.Is. ErrNoRecord matches both TagDoesNotExist and
// TagNotFound, which describe the same condition.
var (
	ErrUninitialized = &Error{Tag: TagUninitialized}
	ErrNoRecord      = &Error{Tag: TagDoesNotExist}
	ErrInternal      = &Error{Tag: TagInternal}
	ErrInvalid       = &Error{Tag: TagInvalid}
)

func (e *Error) Error() string {
	s := string(e.Tag)
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return kindOf(e.Tag) == kindOf(t.Tag)
}

func kindOf(tag Tag) Tag {
	if tag == TagNotFound {
		return TagDoesNotExist
	}
	return tag
}

// TagOf returns the tag of the first *Error in err's chain, or
// TagInternal for foreign errors.
func TagOf(err error) Tag {
	var re *Error
	if errors.As(err, &re) {
		return re.Tag
	}
	return TagInternal
}

func uninitialized() *Error {
	return &Error{Tag: TagUninitialized}
}

func doesNotExist(containerID string) *Error {
	return &Error{Tag: TagDoesNotExist, Message: fmt.Sprintf("Container '%s' does not exist.", containerID)}
}

func notFound(containerID string) *Error {
	return &Error{Tag: TagNotFound, Message: fmt.Sprintf("Container '%s' not found.", containerID)}
}

func invalid(msg string) *Error {
	return &Error{Tag: TagInvalid, Message: msg}
}

// internal folds the cause into Message so the JSON payload carries it.
func internal(msg string, err error) *Error {
	return &Error{Tag: TagInternal, Message: fmt.Sprintf("%s: %v", msg, err), Err: err}
}
