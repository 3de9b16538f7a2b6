package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sketchd/internal/acquire"
	"sketchd/internal/engine"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultGenerateTimeout = 4 * time.Minute
	defaultMaxWait         = 30 * time.Second
	defaultWarmupPrompt    = "Hi"
	defaultTopK            = 40
	defaultTemperature     = 0.8
)

// notReadyMessage is the placeholder emitted when generation is requested
// before the pipeline is initialized.
const notReadyMessage = "The model is still getting ready. Please try again in a moment."

// Acquirer resolves a usable model artifact. Satisfied by *acquire.Service.
type Acquirer interface {
	Acquire(ctx context.Context) <-chan acquire.Result
	// TargetPath is the canonical artifact location, used to recover a cached
	// path for targeted retry.
	TargetPath() string
}

// EngineFactory builds the inference engine bound to a model file.
// Defaults to engine.New; tests inject fakes.
type EngineFactory func(engine.Config) (engine.Engine, error)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Acquirer  Acquirer
	NewEngine EngineFactory
	// Engine holds the fixed engine configuration; ModelPath is filled in
	// from acquisition at initialization time.
	Engine engine.Config
	// Session holds the fixed sampling parameters for the single session.
	Session engine.SessionParams
	// WarmupPrompt is the throwaway prompt issued after session creation.
	WarmupPrompt string
	// GenerateTimeout bounds one generation call end to end.
	GenerateTimeout time.Duration
	// MaxWait bounds how long a generation call waits for the in-flight slot.
	MaxWait   time.Duration
	Publisher EventPublisher
	Logger    zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	if cfg.NewEngine == nil {
		cfg.NewEngine = engine.New
	}
	if cfg.WarmupPrompt == "" {
		cfg.WarmupPrompt = defaultWarmupPrompt
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = defaultGenerateTimeout
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.Session.TopK <= 0 {
		cfg.Session.TopK = defaultTopK
	}
	if cfg.Session.Temperature <= 0 {
		cfg.Session.Temperature = defaultTemperature
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	m := &Manager{
		cfg:       cfg,
		log:       cfg.Logger,
		genCh:     make(chan struct{}, 1),
		startTime: time.Now(),
	}
	m.hub = newProgressHub(InitProgress{State: StateNotInitialized, Message: "Not initialized"})
	return m
}
