package manager

import (
	"context"

	"sketchd/internal/common/fsutil"
)

// retryAction is the scope of work a retry must redo.
type retryAction int

const (
	// retryFull reruns the whole pipeline including acquisition.
	retryFull retryAction = iota
	// retryEngine skips acquisition and rebuilds engine and session from the
	// cached artifact.
	retryEngine
	// retryWarmup reruns only the warm-up against the existing session.
	retryWarmup
)

// planRetry decides how much of the pipeline to redo given the step that
// failed and whether a previously resolved artifact is still on disk.
// A warm-up failure never requires rebuilding the engine or session; any
// earlier failure can skip acquisition only while the cached file survives.
func planRetry(failed InitState, cachedPath string, pathUsable bool) retryAction {
	if failed == StateWarmingUp {
		return retryWarmup
	}
	if cachedPath == "" || !pathUsable {
		return retryFull
	}
	switch failed {
	case StateCheckingModel, StateDownloadingModel, StateExtractingModel,
		StateInitializingEngine, StateCreatingSession:
		return retryEngine
	default:
		return retryFull
	}
}

// RetryFromFailedStep reruns the pipeline from the last failed step rather
// than from scratch. Safe to call in any state: when already ready it
// returns true without side effects, and when nothing has failed yet it
// behaves like InitializeOnce.
func (m *Manager) RetryFromFailedStep(ctx context.Context) bool {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.Ready() {
		return true
	}

	m.mu.RLock()
	failed := m.failedStep
	cached := m.modelPath
	haveSession := m.sess != nil
	m.mu.RUnlock()

	if cached == "" && m.cfg.Acquirer != nil {
		// An earlier attempt may have left a finished artifact at the
		// canonical location even though this process never recorded it.
		if t := m.cfg.Acquirer.TargetPath(); fsutil.IsReadableFile(t) {
			cached = t
		}
	}

	action := planRetry(failed, cached, fsutil.IsReadableFile(cached))
	if action == retryWarmup && !haveSession {
		// The session this warm-up would exercise is gone (e.g. reset since
		// the failure); degrade to the widest applicable scope.
		if cached != "" && fsutil.IsReadableFile(cached) {
			action = retryEngine
		} else {
			action = retryFull
		}
	}

	switch action {
	case retryWarmup:
		m.log.Info().Msg("retrying from warm-up")
		return m.runFrom(ctx, stepWarmup)
	case retryEngine:
		m.log.Info().Str("model_path", cached).Msg("retrying from engine initialization")
		m.mu.Lock()
		m.modelPath = cached
		m.mu.Unlock()
		return m.runFrom(ctx, stepEngine)
	default:
		m.log.Info().Msg("retrying full initialization")
		return m.runFrom(ctx, stepAcquire)
	}
}
