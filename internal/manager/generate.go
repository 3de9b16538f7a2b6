package manager

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
	"time"

	"sketchd/internal/engine"
	"sketchd/pkg/types"
)

// beginGeneration claims the single in-flight generation slot, waiting up to
// MaxWait for an ongoing call to finish. The returned release func must be
// called when generation ends.
func (m *Manager) beginGeneration(ctx context.Context) (func(), error) {
	release := func() { <-m.genCh }
	select {
	case m.genCh <- struct{}{}:
		return release, nil
	default:
	}
	t := time.NewTimer(m.cfg.MaxWait)
	defer t.Stop()
	select {
	case m.genCh <- struct{}{}:
		return release, nil
	case <-t.C:
		busyRejections.Inc()
		return nil, tooBusyError{}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GenerateMultimodal runs one generation call and delivers every Update to
// emit in order: cumulative-text partials, then exactly one terminal. The
// returned error mirrors the terminal's Err so callers that never streamed
// anything can map it to a transport status.
//
// Before the pipeline is ready this does not fail: it emits a single
// terminal placeholder telling the user to retry, matching what an on-device
// assistant shows while the model is still loading.
func (m *Manager) GenerateMultimodal(ctx context.Context, prompt string, image []byte, emit func(Update)) error {
	if prompt == "" {
		return ErrInvalidRequest("prompt must not be empty")
	}

	m.mu.RLock()
	ready := m.state == StateReady && m.sess != nil
	sess := m.sess
	m.mu.RUnlock()
	if !ready {
		emit(Update{Text: notReadyMessage, Done: true})
		return nil
	}

	release, err := m.beginGeneration(ctx)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	defer func() {
		generationSeconds.Observe(time.Since(start).Seconds())
		generationsTotal.Inc()
		m.generations.Add(1)
	}()

	run := func(gctx context.Context, cb engine.Callback) error {
		// The runtime reports deltas; accumulate so every emission downstream
		// is a prefix-growing cumulative string.
		var b strings.Builder
		return sess.Generate(gctx, prompt, image, func(delta string, done bool) {
			if done {
				cb(b.String(), true)
				return
			}
			b.WriteString(delta)
			cb(b.String(), false)
		})
	}

	var terminalErr error
	for u := range streamGeneration(ctx, m.cfg.GenerateTimeout, run) {
		if u.Done {
			terminalErr = u.Err
		}
		emit(u)
	}
	return terminalErr
}

// Generate is the text-only convenience wrapper: it blocks until generation
// completes and returns the full response text.
func (m *Manager) Generate(ctx context.Context, prompt string) (string, error) {
	var final string
	err := m.GenerateMultimodal(ctx, prompt, nil, func(u Update) {
		if u.Done {
			final = u.Text
		}
	})
	return final, err
}

// Infer serves one generation request as NDJSON lines on w. With
// req.Stream set, each cumulative partial becomes a line; otherwise only the
// terminal line is written. Errors raised before any line was written are
// returned for transport-level status mapping; once the stream has started
// they are delivered in-band as a terminal error line.
func (m *Manager) Infer(ctx context.Context, req types.GenerateRequest, w io.Writer, flush func()) error {
	if req.Prompt == "" {
		return ErrInvalidRequest("prompt must not be empty")
	}
	var image []byte
	if req.Image != "" {
		b, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			return ErrInvalidRequest("image is not valid base64: " + err.Error())
		}
		image = b
	}

	enc := json.NewEncoder(w)
	wrote := false
	writeChunk := func(c types.GenerateChunk) {
		if err := enc.Encode(c); err != nil {
			return
		}
		wrote = true
		if flush != nil {
			flush()
		}
	}

	err := m.GenerateMultimodal(ctx, req.Prompt, image, func(u Update) {
		switch {
		case u.Done && u.Err == nil:
			writeChunk(types.GenerateChunk{Text: u.Text, Done: true})
		case !u.Done && req.Stream:
			writeChunk(types.GenerateChunk{Text: u.Text})
		}
	})
	if err != nil {
		if wrote {
			writeChunk(types.GenerateChunk{Done: true, Error: err.Error()})
			return nil
		}
		return err
	}
	return nil
}
