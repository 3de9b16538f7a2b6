package manager

import (
	"context"
	"errors"

	"sketchd/internal/acquire"
)

// initStep indexes the resumable chunks of the pipeline; targeted retry
// enters the state machine at the appropriate step.
type initStep int

const (
	stepAcquire initStep = iota
	stepEngine
	stepSession
	stepWarmup
)

// Overall progress bands per phase. Each phase's lower bound is at or above
// the previous phase's upper bound, so progress never regresses.
const (
	progressAcquireStart = 0.05
	progressAcquireSpan  = 0.55 // copy/download band: [0.05, 0.60)
	progressExtractStart = 0.60
	progressExtractSpan  = 0.10 // extraction band: [0.60, 0.70)
	progressEngine       = 0.70
	progressSession      = 0.85
	progressWarmup       = 0.90
)

// InitializeOnce drives the full initialization state machine. Idempotent:
// when the pipeline is already ready it returns true immediately with no
// side effects (no re-download, no engine or session rebuild).
func (m *Manager) InitializeOnce(ctx context.Context) bool {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.Ready() {
		return true
	}
	return m.runFrom(ctx, stepAcquire)
}

// runFrom executes the pipeline starting at the given step. Callers hold
// initMu.
func (m *Manager) runFrom(ctx context.Context, from initStep) bool {
	if from <= stepAcquire {
		if !m.acquireModel(ctx) {
			return false
		}
	}
	if from <= stepEngine {
		if !m.buildEngine(ctx) {
			return false
		}
	}
	if from <= stepSession {
		if !m.buildSession(ctx) {
			return false
		}
	}
	if !m.warmUp(ctx) {
		return false
	}
	m.publish(InitProgress{State: StateReady, Message: "Model ready", Progress: 1})
	return true
}

// acquireModel consumes one acquisition run and records the resolved
// artifact path. Acquisition stage percentages are remapped into the
// disjoint overall bands above.
func (m *Manager) acquireModel(ctx context.Context) bool {
	m.publish(InitProgress{State: StateCheckingModel, Message: "Checking for model file...", Progress: 0})
	last := StateCheckingModel
	var resolved string
	for res := range m.cfg.Acquirer.Acquire(ctx) {
		switch r := res.(type) {
		case acquire.Progress:
			st, overall := mapAcquireProgress(r)
			last = st
			m.publish(InitProgress{State: st, Message: r.Message, Progress: overall, CurrentPath: r.Path})
		case acquire.Success:
			resolved = r.Path
		case acquire.Failure:
			m.fail(last, r.Err)
			return false
		}
	}
	if resolved == "" {
		// Channel closed without a terminal result: canceled mid-run.
		err := ctx.Err()
		if err == nil {
			err = errors.New("acquisition ended without a result")
		}
		m.fail(last, err)
		return false
	}
	m.mu.Lock()
	m.modelPath = resolved
	m.mu.Unlock()
	return true
}

// mapAcquireProgress converts a stage-relative percentage into an overall
// initialization state and progress value.
func mapAcquireProgress(p acquire.Progress) (InitState, float64) {
	if p.Stage == acquire.StageExtract {
		frac := clamp01(float64(p.Percent-90) / 10)
		return StateExtractingModel, progressExtractStart + frac*progressExtractSpan
	}
	frac := clamp01(float64(p.Percent) / 100)
	return StateDownloadingModel, progressAcquireStart + frac*progressAcquireSpan
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// buildEngine binds a fresh engine to the resolved model path, replacing
// any previous engine/session pair.
func (m *Manager) buildEngine(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		m.fail(StateInitializingEngine, err)
		return false
	}
	path := m.ModelPath()
	m.publish(InitProgress{State: StateInitializingEngine, Message: "Initializing inference engine...", Progress: progressEngine, CurrentPath: path})
	ec := m.cfg.Engine
	ec.ModelPath = path
	eng, err := m.cfg.NewEngine(ec)
	if err != nil {
		m.fail(StateInitializingEngine, err)
		return false
	}
	m.mu.Lock()
	oldSess, oldEng := m.sess, m.eng
	m.eng, m.sess = eng, nil
	m.mu.Unlock()
	if oldSess != nil {
		_ = oldSess.Close()
	}
	if oldEng != nil {
		_ = oldEng.Close()
	}
	return true
}

func (m *Manager) buildSession(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		m.fail(StateCreatingSession, err)
		return false
	}
	m.publish(InitProgress{State: StateCreatingSession, Message: "Creating inference session...", Progress: progressSession})
	m.mu.RLock()
	eng := m.eng
	m.mu.RUnlock()
	if eng == nil {
		m.fail(StateCreatingSession, errors.New("no engine to create a session from"))
		return false
	}
	sess, err := eng.NewSession(m.cfg.Session)
	if err != nil {
		m.fail(StateCreatingSession, err)
		return false
	}
	m.mu.Lock()
	m.sess = sess
	m.mu.Unlock()
	return true
}

// warmUp issues a throwaway prompt to pay down first-call latency. Warm-up
// is an optimization, not a correctness requirement: its failure is logged
// and the pipeline still reaches ready. Only cancellation aborts.
func (m *Manager) warmUp(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		m.fail(StateWarmingUp, err)
		return false
	}
	m.publish(InitProgress{State: StateWarmingUp, Message: "Warming up model...", Progress: progressWarmup})
	m.mu.RLock()
	sess := m.sess
	m.mu.RUnlock()
	wctx, cancel := context.WithTimeout(ctx, m.cfg.GenerateTimeout)
	defer cancel()
	err := sess.Generate(wctx, m.cfg.WarmupPrompt, nil, func(string, bool) {})
	if ctx.Err() != nil {
		m.fail(StateWarmingUp, ctx.Err())
		return false
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("warm-up failed; continuing to ready")
		m.cfg.Publisher.Publish(Event{Name: "warmup_failed", Fields: map[string]any{"error": err.Error()}})
	}
	return true
}

// fail records a terminal error for the attempt, tagged with the step that
// failed so retry can resume there.
func (m *Manager) fail(step InitState, err error) {
	m.publish(InitProgress{
		State:      StateError,
		Message:    "Initialization failed",
		Progress:   m.hub.Current().Progress,
		Err:        err.Error(),
		FailedStep: step,
	})
}
