package codec

import (
	"errors"
	"fmt"
)

// DecodeErrorKind classifies why an inbound message could not be decoded.
type DecodeErrorKind int

const (
	// EmptyMessage is a null, empty or whitespace-only payload.
	EmptyMessage DecodeErrorKind = iota + 1
	// ParseFailure is a payload that is not valid JSON.
	ParseFailure
)

func (k DecodeErrorKind) String() string {
	switch k {
	case EmptyMessage:
		return "EmptyMessage"
	case ParseFailure:
		return "ParseFailure"
	default:
		return "Unknown"
	}
}

var (
	ErrEmptyMessage = errors.New("empty message")
	ErrParseFailure = errors.New("parse failure")
)

// DecodeError is returned by Decode. It matches ErrEmptyMessage or
// ErrParseFailure with errors.Is.
type DecodeError struct {
	Kind   DecodeErrorKind
	Detail string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s - %s", logPrefix, e.Kind)
	}
	return fmt.Sprintf("%s - %s: %s", logPrefix, e.Kind, e.Detail)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrEmptyMessage:
		return e.Kind == EmptyMessage
	case ErrParseFailure:
		return e.Kind == ParseFailure
	}
	return false
}
