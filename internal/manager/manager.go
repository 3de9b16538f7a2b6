package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sketchd/internal/engine"
)

// Manager owns the single long-lived inference engine and its session.
type Manager struct {
	cfg ManagerConfig
	log zerolog.Logger

	mu         sync.RWMutex
	state      InitState
	failedStep InitState
	errMsg     string
	modelPath  string
	eng        engine.Engine
	sess       engine.Session

	// initMu serializes initialization attempts (InitializeOnce, retry,
	// reset) so only one driver runs the state machine at a time.
	initMu sync.Mutex

	hub *progressHub
	// genCh is the single in-flight generation slot.
	genCh chan struct{}

	startTime   time.Time
	generations atomic.Uint64
}

// New constructs a Manager with defaults; see NewWithConfig for tunables.
func New(acq Acquirer, logger zerolog.Logger) *Manager {
	return NewWithConfig(ManagerConfig{Acquirer: acq, Logger: logger})
}

// Ready reports whether the pipeline is fully initialized with a live
// session. O(1): no I/O, and it never triggers initialization.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady && m.sess != nil
}

// InitializationNeeded is true unless the pipeline is already READY with a
// live session.
func (m *Manager) InitializationNeeded() bool { return !m.Ready() }

// ModelPath returns the resolved model artifact path, or "" before
// acquisition has succeeded.
func (m *Manager) ModelPath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.modelPath
}

// Progress returns the latest initialization snapshot.
func (m *Manager) Progress() InitProgress { return m.hub.Current() }

// SubscribeProgress registers a progress observer. The channel immediately
// yields the current snapshot, then each subsequent update; slow consumers
// only ever see the latest value. Call cancel to release the subscription.
func (m *Manager) SubscribeProgress() (<-chan InitProgress, func()) { return m.hub.Subscribe() }

// Reset tears down the engine and session, clears the cached model path,
// and returns the state machine to not_initialized. In-flight generation
// calls bound to the old session become invalid.
func (m *Manager) Reset() {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	m.teardown()
	m.publish(InitProgress{State: StateNotInitialized, Message: "Not initialized"})
}

// teardown closes and clears the engine/session pair. Callers hold initMu.
func (m *Manager) teardown() {
	m.mu.Lock()
	sess, eng := m.sess, m.eng
	m.sess, m.eng = nil, nil
	m.modelPath = ""
	m.state = StateNotInitialized
	m.failedStep = ""
	m.errMsg = ""
	m.mu.Unlock()
	if sess != nil {
		if err := sess.Close(); err != nil {
			m.log.Warn().Err(err).Msg("session close")
		}
	}
	if eng != nil {
		if err := eng.Close(); err != nil {
			m.log.Warn().Err(err).Msg("engine close")
		}
	}
}

// publish updates manager state from a progress snapshot and fans it out to
// subscribers, metrics, and event listeners.
func (m *Manager) publish(p InitProgress) {
	m.mu.Lock()
	m.state = p.State
	if p.State == StateError {
		m.failedStep = p.FailedStep
		m.errMsg = p.Err
	}
	m.mu.Unlock()

	if ord := stateOrdinal(p.State); ord >= 0 {
		initStateGauge.Set(float64(ord))
	}
	m.hub.Publish(p)
	m.cfg.Publisher.Publish(Event{Name: "init_progress", Fields: map[string]any{
		"state":    string(p.State),
		"progress": p.Progress,
		"message":  p.Message,
	}})
	ev := m.log.Debug()
	if p.State == StateError {
		ev = m.log.Error().Str("failed_step", string(p.FailedStep)).Str("detail", p.Err)
	}
	ev.Str("state", string(p.State)).Float64("progress", p.Progress).Msg(p.Message)
}
