// Package engine abstracts the loaded inference runtime. An Engine is bound
// to one model file and a fixed configuration; Sessions carry sampling
// parameters and drive generation calls. The real runtime is go-llama.cpp
// behind the 'llama' build tag; without it a stub fails fast instead of
// mocking inference.
package engine

import "context"

// Config is fixed at engine build time.
type Config struct {
	ModelPath     string
	ContextTokens int
	Threads       int
	// GPULayers selects the preferred compute backend: 0 is CPU-only, higher
	// values offload that many layers to the GPU.
	GPULayers int
	// MaxImages bounds how many images one generation call may attach.
	MaxImages int
}

// SessionParams are the sampling parameters carried by a session.
type SessionParams struct {
	TopK         int
	Temperature  float32
	EnableVision bool
}

// Engine is the loaded, ready-to-run representation of a model.
type Engine interface {
	// NewSession builds a stateful generation handle on this engine.
	NewSession(params SessionParams) (Session, error)
	// Close frees the underlying runtime. Sessions created from this engine
	// become invalid.
	Close() error
}

// Callback receives incremental generation output. It is invoked zero or
// more times with a partial text delta and done=false, then exactly once
// with done=true when generation completes normally. When Generate returns
// an error, no done callback is delivered.
type Callback func(partial string, done bool)

// Session is a stateful handle on the engine for one or more generation
// calls. Sessions are not safe for concurrent Generate calls.
type Session interface {
	// Generate runs one generation call, blocking until completion,
	// cancellation, or failure. image may be nil for text-only prompts.
	Generate(ctx context.Context, prompt string, image []byte, cb Callback) error
	// Close releases session resources.
	Close() error
}

// unavailableError signals that no inference runtime is compiled in or that
// the runtime refused to start.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrUnavailable constructs an unavailableError.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err indicates a missing inference runtime.
func IsUnavailable(err error) bool {
	_, ok := err.(unavailableError)
	return ok
}
