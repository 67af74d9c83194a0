package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/rainbow-bridge/pkg/commsutil"
)

const remoteLogPrefix = "device:remote"

// Reply codes sent by the native shell.
const (
	ReplyCodeNoCamera    = "NO_CAMERA"
	ReplyCodeNoBiometry  = "BIOMETRY_UNAVAILABLE"
	ReplyCodeUnavailable = "UNAVAILABLE"
)

// Reply is the native shell's answer to a device request.
type Reply struct {
	OK            bool   `json:"ok"`
	Code          string `json:"code,omitempty"`
	Error         string `json:"error,omitempty"`
	Authenticated bool   `json:"authenticated,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
}

// BiometricRequest is the payload of a biometric.evaluate request.
type BiometricRequest struct {
	Reason string `json:"reason"`
}

// CameraOpenRequest is the payload of a camera.open request.
type CameraOpenRequest struct {
	MetadataTypes []string `json:"metadataTypes"`
}

// RemoteOpts configures Remote. Zero durations use defaults.
type RemoteOpts struct {
	SurfaceID string
	// Timeout bounds quick requests (vibrate, policy, camera open, preview).
	Timeout time.Duration
	// BiometricTimeout bounds the wait for the user to answer the prompt.
	BiometricTimeout time.Duration
}

// Remote implements the device providers by sending requests to the native
// shell over COMMS.
type Remote struct {
	nc               *comms.Conn
	surfaceID        string
	timeout          time.Duration
	biometricTimeout time.Duration
}

// NewRemote creates a Remote provider set.
func NewRemote(nc *comms.Conn, opts RemoteOpts) *Remote {
	r := &Remote{
		nc:               nc,
		surfaceID:        opts.SurfaceID,
		timeout:          opts.Timeout,
		biometricTimeout: opts.BiometricTimeout,
	}
	if r.surfaceID == "" {
		r.surfaceID = "main"
	}
	if r.timeout <= 0 {
		r.timeout = 5 * time.Second
	}
	if r.biometricTimeout <= 0 {
		r.biometricTimeout = 2 * time.Minute
	}
	return r
}

// Providers returns r as a Providers set.
func (r *Remote) Providers() Providers {
	return Providers{Vibrator: r, Authenticator: r, Camera: r}
}

func (r *Remote) request(ctx context.Context, timeout time.Duration, payload any, parts ...string) (*Reply, error) {
	subject := commsutil.BuildDeviceSubject(r.surfaceID, parts...)

	var data []byte
	if payload != nil {
		encoded, err := commsutil.EncodePayload(payload)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to encode request: %w", remoteLogPrefix, err)
		}
		data = encoded
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	msg, err := r.nc.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		if errors.Is(err, comms.ErrNoResponders) {
			return nil, fmt.Errorf("%s - %s: %w", remoteLogPrefix, subject, ErrUnavailable)
		}
		return nil, fmt.Errorf("%s - request %s failed: %w", remoteLogPrefix, subject, err)
	}

	var reply Reply
	if err := commsutil.DecodePayload(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("%s - invalid reply on %s: %w", remoteLogPrefix, subject, err)
	}
	if !reply.OK {
		return &reply, replyError(reply)
	}
	return &reply, nil
}

func replyError(reply Reply) error {
	var base error
	switch reply.Code {
	case ReplyCodeNoCamera:
		base = ErrNoCamera
	case ReplyCodeNoBiometry:
		base = ErrBiometryUnavailable
	default:
		base = ErrUnavailable
	}
	if reply.Error == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, reply.Error)
}

// Vibrate asks the native shell to play the device alert.
func (r *Remote) Vibrate(ctx context.Context) error {
	_, err := r.request(ctx, r.timeout, nil, "vibrate")
	return err
}

// CanEvaluate asks whether the biometric policy can be evaluated.
func (r *Remote) CanEvaluate(ctx context.Context) error {
	_, err := r.request(ctx, r.timeout, nil, "biometric", "policy")
	return err
}

// Evaluate shows the biometric prompt and waits for the user's answer.
func (r *Remote) Evaluate(ctx context.Context, reason string) (bool, error) {
	reply, err := r.request(ctx, r.biometricTimeout, BiometricRequest{Reason: reason}, "biometric", "evaluate")
	if err != nil {
		return false, err
	}
	return reply.Authenticated, nil
}

// OpenSession starts a capture session in the native shell and subscribes to its results.
func (r *Remote) OpenSession(ctx context.Context, metadataTypes []string) (CaptureSession, error) {
	reply, err := r.request(ctx, r.timeout, CameraOpenRequest{MetadataTypes: metadataTypes}, "camera", "open")
	if err != nil {
		return nil, err
	}
	if reply.SessionID == "" {
		return nil, fmt.Errorf("%s - camera.open reply without session id: %w", remoteLogPrefix, ErrUnavailable)
	}

	s := &remoteSession{remote: r, id: reply.SessionID, results: make(chan Metadata, 4)}
	resultsSubject := commsutil.BuildDeviceSubject(r.surfaceID, "camera", commsutil.Token(s.id), "results")
	sub, err := r.nc.Subscribe(resultsSubject, s.onResult)
	if err != nil {
		s.publishClose()
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", remoteLogPrefix, resultsSubject, err)
	}
	s.sub = sub
	slog.Debug(fmt.Sprintf("%s - capture session %s opened", remoteLogPrefix, s.id))
	return s, nil
}

type remoteSession struct {
	remote  *Remote
	id      string
	sub     *comms.Subscription
	results chan Metadata

	mu      sync.Mutex
	stopped bool
}

func (s *remoteSession) onResult(msg *comms.Msg) {
	var m Metadata
	if err := commsutil.DecodePayload(msg.Data, &m); err != nil {
		slog.Warn(fmt.Sprintf("%s - invalid scan result on session %s: %v", remoteLogPrefix, s.id, err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.results <- m:
	default:
		slog.Debug(fmt.Sprintf("%s - scan result dropped on session %s", remoteLogPrefix, s.id))
	}
}

func (s *remoteSession) Results() <-chan Metadata { return s.results }

func (s *remoteSession) AttachPreview(ctx context.Context) (PreviewLayer, error) {
	if _, err := s.remote.request(ctx, s.remote.timeout, nil, "camera", commsutil.Token(s.id), "preview", "attach"); err != nil {
		return nil, err
	}
	return &remotePreview{session: s}, nil
}

func (s *remoteSession) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.results)
	s.mu.Unlock()

	var err error
	if s.sub != nil {
		err = s.sub.Unsubscribe()
	}
	if pubErr := s.publishClose(); pubErr != nil && err == nil {
		err = pubErr
	}
	return err
}

func (s *remoteSession) publishClose() error {
	subject := commsutil.BuildDeviceSubject(s.remote.surfaceID, "camera", commsutil.Token(s.id), "close")
	return s.remote.nc.Publish(subject, nil)
}

type remotePreview struct {
	session *remoteSession
	once    sync.Once
	err     error
}

func (p *remotePreview) Remove() error {
	p.once.Do(func() {
		subject := commsutil.BuildDeviceSubject(p.session.remote.surfaceID, "camera", commsutil.Token(p.session.id), "preview", "remove")
		p.err = p.session.remote.nc.Publish(subject, nil)
	})
	return p.err
}
