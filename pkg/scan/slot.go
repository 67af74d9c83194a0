// Package scan owns the single camera scan session of a bridge.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/rainbow-bridge/pkg/device"
)

const logPrefix = "scan:slot"

// ErrCancelled is returned by Session.Next when the session was stopped
// before a code was decoded, either by a newer scan or by teardown.
var ErrCancelled = errors.New("scan cancelled")

// Slot holds at most one active scan session.
type Slot struct {
	mu     sync.Mutex
	active *Session
	seq    uint64
}

// NewSlot creates an empty slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Start stops any active session, then opens a capture session filtered to
// metadataTypes and attaches its preview layer. The new session becomes active.
func (s *Slot) Start(ctx context.Context, camera device.Camera, metadataTypes []string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		slog.Info(fmt.Sprintf("%s - displacing scan session %d", logPrefix, s.active.id))
		s.active.stop()
		s.active = nil
	}

	capture, err := camera.OpenSession(ctx, metadataTypes)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to open capture session: %w", logPrefix, err)
	}
	preview, err := capture.AttachPreview(ctx)
	if err != nil {
		if stopErr := capture.Stop(); stopErr != nil {
			slog.Warn(fmt.Sprintf("%s - failed to stop capture session: %v", logPrefix, stopErr))
		}
		return nil, fmt.Errorf("%s - failed to attach preview: %w", logPrefix, err)
	}

	s.seq++
	sess := &Session{
		id:      s.seq,
		slot:    s,
		capture: capture,
		preview: preview,
		done:    make(chan struct{}),
	}
	s.active = sess
	slog.Debug(fmt.Sprintf("%s - scan session %d started", logPrefix, sess.id))
	return sess, nil
}

// Active reports whether a session is currently held.
func (s *Slot) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Stop releases the active session, if any. Safe to call repeatedly.
func (s *Slot) Stop() {
	s.mu.Lock()
	sess := s.active
	s.active = nil
	s.mu.Unlock()

	if sess != nil {
		sess.stop()
	}
}

func (s *Slot) release(sess *Session) {
	s.mu.Lock()
	if s.active == sess {
		s.active = nil
	}
	s.mu.Unlock()
}

// Session is one capture session with its preview layer.
type Session struct {
	id      uint64
	slot    *Slot
	capture device.CaptureSession
	preview device.PreviewLayer

	once sync.Once
	done chan struct{}
}

// Next blocks until the first decoded code, the session is stopped
// (ErrCancelled), or ctx is done.
func (sess *Session) Next(ctx context.Context) (device.Metadata, error) {
	select {
	case m, ok := <-sess.capture.Results():
		if !ok {
			return device.Metadata{}, ErrCancelled
		}
		return m, nil
	case <-sess.done:
		return device.Metadata{}, ErrCancelled
	case <-ctx.Done():
		return device.Metadata{}, ctx.Err()
	}
}

// Stop removes the preview layer, stops the capture session and frees the
// slot. Idempotent.
func (sess *Session) Stop() {
	sess.stop()
	sess.slot.release(sess)
}

func (sess *Session) stop() {
	sess.once.Do(func() {
		close(sess.done)
		if err := sess.preview.Remove(); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to remove preview for session %d: %v", logPrefix, sess.id, err))
		}
		if err := sess.capture.Stop(); err != nil {
			slog.Warn(fmt.Sprintf("%s - failed to stop capture session %d: %v", logPrefix, sess.id, err))
		}
		slog.Debug(fmt.Sprintf("%s - scan session %d stopped", logPrefix, sess.id))
	})
}
