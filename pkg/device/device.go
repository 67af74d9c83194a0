// Package device declares the native capability providers the bridge drives.
// A native shell implements them in-process, or serves them over COMMS (see Remote).
package device

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the provider is not present on this host.
	ErrUnavailable = errors.New("device capability unavailable")
	// ErrNoCamera means no suitable (back) camera was found.
	ErrNoCamera = errors.New("no back camera available")
	// ErrBiometryUnavailable means the biometric policy cannot be evaluated.
	ErrBiometryUnavailable = errors.New("biometric policy cannot be evaluated")
)

// Vibrator triggers a device alert or vibration.
type Vibrator interface {
	Vibrate(ctx context.Context) error
}

// Authenticator runs the biometric prompt.
type Authenticator interface {
	// CanEvaluate reports whether the biometric policy can be evaluated at all.
	CanEvaluate(ctx context.Context) error
	// Evaluate prompts the user and blocks until they respond.
	Evaluate(ctx context.Context, reason string) (bool, error)
}

// Metadata is one decoded machine-readable code.
type Metadata struct {
	Type        string `json:"type"`
	StringValue string `json:"stringValue"`
}

// Camera opens capture sessions filtered to the given metadata types.
type Camera interface {
	OpenSession(ctx context.Context, metadataTypes []string) (CaptureSession, error)
}

// CaptureSession is a running camera session.
type CaptureSession interface {
	// Results yields decoded codes. The channel is closed by Stop.
	Results() <-chan Metadata
	// AttachPreview places the live preview over the rendered surface.
	AttachPreview(ctx context.Context) (PreviewLayer, error)
	// Stop ends the session. Safe to call more than once.
	Stop() error
}

// PreviewLayer is a live camera preview attached over the rendered surface.
type PreviewLayer interface {
	// Remove detaches the layer. Safe to call more than once.
	Remove() error
}

// Providers groups the device providers used by the built-in capabilities.
type Providers struct {
	Vibrator      Vibrator
	Authenticator Authenticator
	Camera        Camera
}

// WithDefaults fills missing providers with Unavailable.
func (p Providers) WithDefaults() Providers {
	if p.Vibrator == nil {
		p.Vibrator = Unavailable{}
	}
	if p.Authenticator == nil {
		p.Authenticator = Unavailable{}
	}
	if p.Camera == nil {
		p.Camera = Unavailable{}
	}
	return p
}

// Unavailable implements every provider and always fails with ErrUnavailable
// (ErrBiometryUnavailable and ErrNoCamera for the matching capabilities).
type Unavailable struct{}

func (Unavailable) Vibrate(context.Context) error { return ErrUnavailable }

func (Unavailable) CanEvaluate(context.Context) error { return ErrBiometryUnavailable }

func (Unavailable) Evaluate(context.Context, string) (bool, error) {
	return false, ErrBiometryUnavailable
}

func (Unavailable) OpenSession(context.Context, []string) (CaptureSession, error) {
	return nil, ErrNoCamera
}
