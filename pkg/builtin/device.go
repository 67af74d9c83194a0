package builtin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/morezero/rainbow-bridge/pkg/codec"
	"github.com/morezero/rainbow-bridge/pkg/device"
	"github.com/morezero/rainbow-bridge/pkg/registry"
	"github.com/morezero/rainbow-bridge/pkg/scan"
)

const defaultAuthReason = "Authenticate"

func (h *handlers) playVibration(ctx context.Context, _ codec.Params, emit registry.Emitter) error {
	if err := h.deps.Devices.Vibrator.Vibrate(ctx); err != nil {
		return registry.Wrap(registry.CodeDeviceUnavailable, err)
	}
	emit.Emit(true)
	return nil
}

func (h *handlers) authenticate(ctx context.Context, p AuthenticateParams, emit registry.Emitter) error {
	auth := h.deps.Devices.Authenticator
	if err := auth.CanEvaluate(ctx); err != nil {
		slog.Warn(fmt.Sprintf("%s - biometric policy unavailable: %v", logPrefix, err))
		return registry.Wrap(registry.CodeBiometryUnavailable, err)
	}

	reason := p.Reason
	if reason == "" {
		reason = defaultAuthReason
	}
	go func() {
		ok, err := auth.Evaluate(ctx, reason)
		switch {
		case errors.Is(err, device.ErrBiometryUnavailable):
			emit.Emit(registry.AsFailure(registry.Wrap(registry.CodeBiometryUnavailable, err)))
			return
		case err != nil:
			// A cancelled or failed prompt is a negative answer.
			slog.Info(fmt.Sprintf("%s - biometric evaluation failed: %v", logPrefix, err))
			ok = false
		}
		emit.Emit(ok)
	}()
	return nil
}

func (h *handlers) scanMetadata(ctx context.Context, p ScanParams, emit registry.Emitter) error {
	sess, err := h.deps.Scans.Start(ctx, h.deps.Devices.Camera, p.MetadataTypes)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - scan could not start: %v", logPrefix, err))
		return registry.Wrap(registry.CodeCameraUnavailable, err)
	}

	go func() {
		m, err := sess.Next(ctx)
		sess.Stop()
		if err != nil {
			if !errors.Is(err, scan.ErrCancelled) {
				slog.Info(fmt.Sprintf("%s - scan ended without result: %v", logPrefix, err))
			}
			emit.Emit(registry.AsFailure(registry.Errorf(registry.CodeScanCancelled, "scan cancelled before a code was read")))
			return
		}
		emit.Emit(m)
	}()
	return nil
}
