//go:build llama

package engine

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

type llamaEngine struct {
	model *llama.LLama
	cfg   Config
}

// New loads the model at cfg.ModelPath into an in-process llama.cpp runtime.
func New(cfg Config) (Engine, error) {
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	mo := []llama.ModelOption{
		llama.SetContext(cfg.ContextTokens),
	}
	if cfg.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(cfg.GPULayers))
	}
	m, err := llama.New(cfg.ModelPath, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaEngine{model: m, cfg: cfg}, nil
}

func (e *llamaEngine) NewSession(params SessionParams) (Session, error) {
	if e.model == nil {
		return nil, errors.New("engine is closed")
	}
	return &llamaSession{eng: e, params: params}, nil
}

func (e *llamaEngine) Close() error {
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}

// llamaSession drives generation against the shared loaded model.
type llamaSession struct {
	eng    *llamaEngine
	params SessionParams
}

// Generate streams token deltas through cb. Image attachments require a
// vision-capable runtime; the in-process llama build processes the text
// prompt only.
func (s *llamaSession) Generate(ctx context.Context, prompt string, image []byte, cb Callback) error {
	if s.eng == nil || s.eng.model == nil {
		return errors.New("llama model not initialized")
	}
	stopped := false
	s.eng.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			stopped = true
			return false
		default:
		}
		cb(tok, false)
		return true
	})
	po := []llama.PredictOption{
		llama.SetThreads(maxInt(1, s.eng.cfg.Threads)),
		llama.SetTopK(defInt(s.params.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(defFloat(s.params.Temperature, llama.DefaultOptions.Temperature)),
	}
	_, err := s.eng.model.Predict(prompt, po...)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if stopped && ctx.Err() != nil {
		return ctx.Err()
	}
	cb("", true)
	return nil
}

func (s *llamaSession) Close() error {
	s.eng = nil
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func defInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func defFloat(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}
