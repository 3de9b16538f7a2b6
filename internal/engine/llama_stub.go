//go:build !llama

package engine

// No-CGO stub compiled when the 'llama' build tag is not set, keeping
// default builds and CI CGO-free. It refuses to run inference instead of
// mocking it; the real runtime lives in llama.go (tagged 'llama').

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = false

// New fails fast: no inference runtime is compiled into this binary.
func New(cfg Config) (Engine, error) {
	return nil, ErrUnavailable("llama support not built (missing 'llama' build tag)")
}
