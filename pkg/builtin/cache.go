package builtin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/morezero/rainbow-bridge/pkg/cache"
	"github.com/morezero/rainbow-bridge/pkg/registry"
)

var errNoCache = errors.New("no cache directory configured")

func (h *handlers) downloadAndCache(ctx context.Context, p DownloadParams, emit registry.Emitter) error {
	store := h.deps.Cache
	if store == nil {
		return h.cacheFailure(emit, DownloadAndCache, errNoCache, MessageDownloadCompleted)
	}
	if _, err := store.Key(p.Path); err != nil {
		return registry.Wrap(registry.CodeInvalidArgument, err)
	}
	if err := cache.ValidateURL(p.URL); err != nil {
		return registry.Wrap(registry.CodeInvalidArgument, err)
	}

	go func() {
		outcome, err := store.Download(ctx, p.URL, p.Path, p.IsOverwrite)
		switch {
		case err != nil:
			if failErr := h.cacheFailure(emit, DownloadAndCache, err, MessageDownloadCompleted); failErr != nil {
				emit.Emit(registry.AsFailure(failErr))
			}
		case outcome == cache.AlreadyExists:
			emit.Emit(MessageFileExists)
		default:
			emit.Emit(MessageDownloadCompleted)
		}
	}()
	return nil
}

func (h *handlers) clearCache(ctx context.Context, p ClearCacheParams, emit registry.Emitter) error {
	store := h.deps.Cache
	if store == nil {
		return h.cacheFailure(emit, ClearCache, errNoCache, MessageCacheCleared)
	}
	if err := store.Clear(ctx, p.Path); err != nil {
		if cache.IsPathError(err) {
			return registry.Wrap(registry.CodeInvalidArgument, err)
		}
		return h.cacheFailure(emit, ClearCache, err, MessageCacheCleared)
	}
	emit.Emit(MessageCacheCleared)
	return nil
}

// cacheFailure logs an IO failure. In strict mode it returns an IO_FAILURE
// error; otherwise it emits the completion message and returns nil.
func (h *handlers) cacheFailure(emit registry.Emitter, capability string, err error, completion string) error {
	slog.Error(fmt.Sprintf("%s - %s failed: %v", logPrefix, capability, err))
	if cache.IsPathError(err) {
		return registry.Wrap(registry.CodeInvalidArgument, err)
	}
	if h.deps.StrictCacheErrors {
		return registry.Wrap(registry.CodeIOFailure, err)
	}
	emit.Emit(completion)
	return nil
}
