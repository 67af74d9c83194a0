// Package devicetest provides in-memory device providers for tests.
package devicetest

import (
	"context"
	"sync"

	"github.com/morezero/rainbow-bridge/pkg/device"
)

// Vibrator counts vibrations.
type Vibrator struct {
	mu    sync.Mutex
	calls int
	Err   error
}

func (v *Vibrator) Vibrate(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.Err
}

// Calls returns how many times Vibrate ran.
func (v *Vibrator) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// Authenticator answers biometric prompts with Result.
type Authenticator struct {
	PolicyErr error
	Result    bool
	Err       error

	mu      sync.Mutex
	reasons []string
}

func (a *Authenticator) CanEvaluate(context.Context) error { return a.PolicyErr }

func (a *Authenticator) Evaluate(_ context.Context, reason string) (bool, error) {
	a.mu.Lock()
	a.reasons = append(a.reasons, reason)
	a.mu.Unlock()
	return a.Result, a.Err
}

// Reasons returns the prompt reasons seen so far.
func (a *Authenticator) Reasons() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.reasons...)
}

// Camera opens Sessions. Set Err to simulate a missing camera.
type Camera struct {
	Err error

	mu       sync.Mutex
	sessions []*Session
}

func (c *Camera) OpenSession(_ context.Context, metadataTypes []string) (device.CaptureSession, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	s := &Session{Types: metadataTypes, results: make(chan device.Metadata, 4)}
	c.mu.Lock()
	c.sessions = append(c.sessions, s)
	c.mu.Unlock()
	return s, nil
}

// Sessions returns every session opened so far.
func (c *Camera) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Session(nil), c.sessions...)
}

// Last returns the most recently opened session, or nil.
func (c *Camera) Last() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sessions) == 0 {
		return nil
	}
	return c.sessions[len(c.sessions)-1]
}

// Session is a capture session fed by Decode.
type Session struct {
	Types []string

	mu       sync.Mutex
	results  chan device.Metadata
	stopped  int
	previews []*Preview
}

// Decode simulates the camera decoding a code.
func (s *Session) Decode(m device.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped > 0 {
		return
	}
	s.results <- m
}

func (s *Session) Results() <-chan device.Metadata { return s.results }

func (s *Session) AttachPreview(context.Context) (device.PreviewLayer, error) {
	p := &Preview{}
	s.mu.Lock()
	s.previews = append(s.previews, p)
	s.mu.Unlock()
	return p, nil
}

func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	if s.stopped == 1 {
		close(s.results)
	}
	return nil
}

// Stopped reports how many times Stop was called.
func (s *Session) Stopped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Previews returns the preview layers attached to the session.
func (s *Session) Previews() []*Preview {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Preview(nil), s.previews...)
}

// Preview is an attached preview layer.
type Preview struct {
	mu      sync.Mutex
	removed int
}

func (p *Preview) Remove() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed++
	return nil
}

// Removed reports how many times Remove was called.
func (p *Preview) Removed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removed
}

// Providers returns a device.Providers using the given fakes.
func Providers(v *Vibrator, a *Authenticator, c *Camera) device.Providers {
	p := device.Providers{}
	if v != nil {
		p.Vibrator = v
	}
	if a != nil {
		p.Authenticator = a
	}
	if c != nil {
		p.Camera = c
	}
	return p.WithDefaults()
}
