// Package registry maps capability names to their native handlers.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/morezero/rainbow-bridge/pkg/codec"
)

// Error codes carried in failure values.
const (
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeBiometryUnavailable = "BIOMETRY_UNAVAILABLE"
	CodeCameraUnavailable   = "CAMERA_UNAVAILABLE"
	CodeScanCancelled       = "SCAN_CANCELLED"
	CodePeerUnavailable     = "PEER_UNAVAILABLE"
	CodeDeviceUnavailable   = "DEVICE_UNAVAILABLE"
	CodeIOFailure           = "IO_FAILURE"
	CodeUnsupportedVersion  = "UNSUPPORTED_VERSION"
	CodeInternal            = "INTERNAL_ERROR"
)

// ErrNotFound is returned by Resolve for an unregistered capability name.
var ErrNotFound = errors.New("capability not found")

// Mode describes how long a callback registration stays open.
type Mode int

const (
	// SingleShot registrations close after the first emitted value.
	SingleShot Mode = iota
	// Streaming registrations stay open until the handler closes them or the bridge is torn down.
	Streaming
)

func (m Mode) String() string {
	if m == Streaming {
		return "streaming"
	}
	return "single"
}

// Emitter pushes handler results back to the web-side caller.
type Emitter interface {
	// Emit delivers one value. Values emitted after the registration closed are dropped.
	Emit(v any)
	// Close ends the registration. Safe to call more than once.
	Close()
}

// Handler executes a capability. Returning an error before anything was
// emitted resolves the caller with a failure value; long-running work should
// return nil and emit later.
type Handler func(ctx context.Context, params codec.Params, emit Emitter) error

// Error is a handler failure with a stable code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf creates an Error with a formatted message.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error from an underlying error.
func Wrap(code string, err error) *Error {
	return &Error{Code: code, Message: err.Error(), Err: err}
}

// AsFailure maps any error to the failure value sent to the web side.
func AsFailure(err error) codec.Failure {
	var regErr *Error
	if errors.As(err, &regErr) {
		return codec.NewFailure(regErr.Code, regErr.Message)
	}
	return codec.NewFailure(CodeInternal, err.Error())
}
