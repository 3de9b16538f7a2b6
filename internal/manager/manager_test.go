package manager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sketchd/internal/acquire"
	"sketchd/internal/engine"
	"sketchd/pkg/types"
)

// fakeAcquirer replays a scripted acquisition run and counts invocations.
type fakeAcquirer struct {
	mu      sync.Mutex
	calls   int
	results []acquire.Result
	target  string
}

func (f *fakeAcquirer) Acquire(ctx context.Context) <-chan acquire.Result {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	ch := make(chan acquire.Result, len(f.results))
	for _, r := range f.results {
		ch <- r
	}
	close(ch)
	return ch
}

func (f *fakeAcquirer) TargetPath() string { return f.target }

func (f *fakeAcquirer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSession struct {
	mu     sync.Mutex
	calls  int
	closed bool
	// onGenerate, when set, handles every Generate with a 1-based call index.
	onGenerate func(call int, ctx context.Context, prompt string, cb engine.Callback) error
}

func (s *fakeSession) Generate(ctx context.Context, prompt string, image []byte, cb engine.Callback) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if s.onGenerate != nil {
		return s.onGenerate(n, ctx, prompt, cb)
	}
	cb("ok", false)
	cb("", true)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type fakeEngine struct {
	mu       sync.Mutex
	session  *fakeSession
	sessions int
	closed   bool
}

func (e *fakeEngine) NewSession(engine.SessionParams) (engine.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions++
	if e.session == nil {
		e.session = &fakeSession{}
	}
	return e.session, nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// engineHarness is an EngineFactory that can fail a leading number of builds.
type engineHarness struct {
	mu         sync.Mutex
	builds     int
	failBuilds int
	session    *fakeSession
	lastCfg    engine.Config
}

func (h *engineHarness) factory(cfg engine.Config) (engine.Engine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.builds++
	h.lastCfg = cfg
	if h.failBuilds > 0 {
		h.failBuilds--
		return nil, errors.New("engine refused to load")
	}
	return &fakeEngine{session: h.session}, nil
}

func (h *engineHarness) buildCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.builds
}

func modelFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "model.task")
	if err := os.WriteFile(p, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func successScript(path string) []acquire.Result {
	return []acquire.Result{
		acquire.Progress{Stage: acquire.StageCopy, Percent: 0, Message: "Found model, copying..."},
		acquire.Progress{Stage: acquire.StageCopy, Percent: 100, Message: "Copy complete"},
		acquire.Success{Path: path},
	}
}

func newTestManager(acq Acquirer, h *engineHarness) (*Manager, *MemoryPublisher) {
	pub := NewMemoryPublisher()
	m := NewWithConfig(ManagerConfig{
		Acquirer:        acq,
		NewEngine:       h.factory,
		Publisher:       pub,
		GenerateTimeout: 2 * time.Second,
		MaxWait:         50 * time.Millisecond,
		Logger:          zerolog.Nop(),
	})
	return m, pub
}

func TestInitializeReachesReady(t *testing.T) {
	path := modelFile(t)
	acq := &fakeAcquirer{results: successScript(path), target: path}
	h := &engineHarness{}
	m, _ := newTestManager(acq, h)

	if m.Ready() {
		t.Fatal("ready before initialization")
	}
	if !m.InitializeOnce(context.Background()) {
		t.Fatalf("InitializeOnce failed: %+v", m.Progress())
	}
	if !m.Ready() {
		t.Fatal("not ready after successful initialization")
	}
	if got := m.ModelPath(); got != path {
		t.Fatalf("ModelPath = %q, want %q", got, path)
	}
	p := m.Progress()
	if p.State != StateReady || p.Progress != 1 {
		t.Fatalf("final progress = %+v", p)
	}
	if h.lastCfg.ModelPath != path {
		t.Fatalf("engine built with ModelPath %q", h.lastCfg.ModelPath)
	}
}

func TestInitializeOnceIsIdempotent(t *testing.T) {
	path := modelFile(t)
	acq := &fakeAcquirer{results: successScript(path), target: path}
	h := &engineHarness{}
	m, _ := newTestManager(acq, h)

	for i := 0; i < 3; i++ {
		if !m.InitializeOnce(context.Background()) {
			t.Fatalf("attempt %d failed", i)
		}
	}
	if acq.callCount() != 1 {
		t.Fatalf("acquisition ran %d times, want 1", acq.callCount())
	}
	if h.buildCount() != 1 {
		t.Fatalf("engine built %d times, want 1", h.buildCount())
	}
}

func TestInitializeProgressIsMonotonic(t *testing.T) {
	path := modelFile(t)
	acq := &fakeAcquirer{results: []acquire.Result{
		acquire.Progress{Stage: acquire.StageDownload, Percent: 0, Message: "Downloading from: https://example.com/m.zip"},
		acquire.Progress{Stage: acquire.StageDownload, Percent: 45, Message: "Downloading... 45%"},
		acquire.Progress{Stage: acquire.StageDownload, Percent: 90, Message: "Download complete"},
		acquire.Progress{Stage: acquire.StageExtract, Percent: 90, Message: "Extracting model..."},
		acquire.Progress{Stage: acquire.StageExtract, Percent: 100, Message: "Extraction complete"},
		acquire.Success{Path: path},
	}, target: path}
	h := &engineHarness{}
	m, pub := newTestManager(acq, h)

	if !m.InitializeOnce(context.Background()) {
		t.Fatalf("init failed: %+v", m.Progress())
	}

	prev := -1.0
	seen := 0
	for _, e := range pub.Events() {
		if e.Name != "init_progress" {
			continue
		}
		seen++
		p, ok := e.Fields["progress"].(float64)
		if !ok {
			t.Fatalf("event missing progress: %+v", e)
		}
		if p < prev {
			t.Fatalf("progress regressed from %v to %v (state %v)", prev, p, e.Fields["state"])
		}
		prev = p
	}
	if seen < 8 || prev != 1 {
		t.Fatalf("saw %d progress events ending at %v", seen, prev)
	}
}

func TestInitializeFailureRecordsFailedStep(t *testing.T) {
	acq := &fakeAcquirer{results: []acquire.Result{
		acquire.Progress{Stage: acquire.StageDownload, Percent: 10, Message: "Downloading..."},
		acquire.Failure{Err: errors.New("Kaggle download failed: 401 Unauthorized")},
	}}
	h := &engineHarness{}
	m, _ := newTestManager(acq, h)

	if m.InitializeOnce(context.Background()) {
		t.Fatal("init succeeded despite download failure")
	}
	p := m.Progress()
	if p.State != StateError {
		t.Fatalf("state = %v", p.State)
	}
	if p.FailedStep != StateDownloadingModel {
		t.Fatalf("failed step = %v, want %v", p.FailedStep, StateDownloadingModel)
	}
	if !strings.Contains(p.Err, "401") {
		t.Fatalf("error detail = %q", p.Err)
	}
	if h.buildCount() != 0 {
		t.Fatal("engine was built despite acquisition failure")
	}
}

func TestWarmupFailureStillReachesReady(t *testing.T) {
	path := modelFile(t)
	sess := &fakeSession{onGenerate: func(call int, ctx context.Context, prompt string, cb engine.Callback) error {
		if call == 1 {
			return errors.New("first token took too long")
		}
		cb("fine", false)
		cb("", true)
		return nil
	}}
	acq := &fakeAcquirer{results: successScript(path), target: path}
	h := &engineHarness{session: sess}
	m, pub := newTestManager(acq, h)

	if !m.InitializeOnce(context.Background()) {
		t.Fatalf("init failed: %+v", m.Progress())
	}
	if !m.Ready() {
		t.Fatal("warm-up failure must not block readiness")
	}
	found := false
	for _, e := range pub.Events() {
		if e.Name == "warmup_failed" {
			found = true
		}
	}
	if !found {
		t.Fatal("warmup_failed event not published")
	}

	got, err := m.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate after failed warm-up: %v", err)
	}
	if got != "fine" {
		t.Fatalf("Generate = %q", got)
	}
}

func TestRetrySkipsAcquisitionWhenArtifactCached(t *testing.T) {
	path := modelFile(t)
	acq := &fakeAcquirer{results: successScript(path), target: path}
	h := &engineHarness{failBuilds: 1}
	m, _ := newTestManager(acq, h)

	if m.InitializeOnce(context.Background()) {
		t.Fatal("init succeeded despite engine build failure")
	}
	if got := m.Progress().FailedStep; got != StateInitializingEngine {
		t.Fatalf("failed step = %v", got)
	}
	if !m.RetryFromFailedStep(context.Background()) {
		t.Fatalf("retry failed: %+v", m.Progress())
	}
	if !m.Ready() {
		t.Fatal("not ready after retry")
	}
	if acq.callCount() != 1 {
		t.Fatalf("acquisition ran %d times, want 1 (retry must reuse the cached artifact)", acq.callCount())
	}
	if h.buildCount() != 2 {
		t.Fatalf("engine built %d times, want 2", h.buildCount())
	}
}

func TestRetryRerunsAcquisitionWhenArtifactGone(t *testing.T) {
	gone := filepath.Join(t.TempDir(), "model.task")
	if err := os.WriteFile(gone, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	real := modelFile(t)
	acq := &fakeAcquirer{results: successScript(gone), target: gone}
	h := &engineHarness{failBuilds: 1}
	m, _ := newTestManager(acq, h)

	if m.InitializeOnce(context.Background()) {
		t.Fatal("init succeeded despite engine build failure")
	}
	// Artifact vanishes between failure and retry.
	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}
	acq.mu.Lock()
	acq.results = successScript(real)
	acq.target = real
	acq.mu.Unlock()

	if !m.RetryFromFailedStep(context.Background()) {
		t.Fatalf("retry failed: %+v", m.Progress())
	}
	if acq.callCount() != 2 {
		t.Fatalf("acquisition ran %d times, want 2 (artifact was gone)", acq.callCount())
	}
}

func TestRetryWhenAlreadyReadyIsNoop(t *testing.T) {
	path := modelFile(t)
	acq := &fakeAcquirer{results: successScript(path), target: path}
	h := &engineHarness{}
	m, _ := newTestManager(acq, h)

	if !m.InitializeOnce(context.Background()) {
		t.Fatal("init failed")
	}
	if !m.RetryFromFailedStep(context.Background()) {
		t.Fatal("retry on ready pipeline returned false")
	}
	if acq.callCount() != 1 || h.buildCount() != 1 {
		t.Fatalf("retry on ready pipeline did work: acquisitions=%d builds=%d", acq.callCount(), h.buildCount())
	}
}

func TestGenerateBeforeReadyReturnsPlaceholder(t *testing.T) {
	acq := &fakeAcquirer{}
	h := &engineHarness{}
	m, _ := newTestManager(acq, h)

	got, err := m.Generate(context.Background(), "anything there?")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != notReadyMessage {
		t.Fatalf("Generate = %q, want the not-ready placeholder", got)
	}
	if acq.callCount() != 0 {
		t.Fatal("generation must not trigger acquisition")
	}
}

func TestGenerateMultimodalStreamsCumulativeText(t *testing.T) {
	path := modelFile(t)
	sess := &fakeSession{onGenerate: func(call int, ctx context.Context, prompt string, cb engine.Callback) error {
		if call == 1 { // warm-up
			cb("", true)
			return nil
		}
		cb("The answer", false)
		cb(" is 4.", false)
		cb("", true)
		return nil
	}}
	acq := &fakeAcquirer{results: successScript(path), target: path}
	h := &engineHarness{session: sess}
	m, _ := newTestManager(acq, h)
	if !m.InitializeOnce(context.Background()) {
		t.Fatal("init failed")
	}

	var got []Update
	err := m.GenerateMultimodal(context.Background(), "2+2", nil, func(u Update) { got = append(got, u) })
	if err != nil {
		t.Fatalf("GenerateMultimodal: %v", err)
	}
	want := []string{"The answer", "The answer is 4."}
	if len(got) != 3 {
		t.Fatalf("got %d updates: %+v", len(got), got)
	}
	for i, w := range want {
		if got[i].Text != w || got[i].Done {
			t.Fatalf("update %d = %+v, want cumulative %q", i, got[i], w)
		}
	}
	last := got[2]
	if !last.Done || last.Err != nil || last.Text != "The answer is 4." {
		t.Fatalf("terminal = %+v", last)
	}

	st := m.Status()
	if st.Generations == 0 {
		t.Fatal("generation counter not incremented")
	}
	if !st.Ready || st.ModelPath != path {
		t.Fatalf("status = %+v", st)
	}
}

func TestGenerateRejectsSecondInFlightCall(t *testing.T) {
	path := modelFile(t)
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	sess := &fakeSession{onGenerate: func(call int, ctx context.Context, prompt string, cb engine.Callback) error {
		if call == 1 { // warm-up
			cb("", true)
			return nil
		}
		started <- struct{}{}
		<-block
		cb("done", false)
		cb("", true)
		return nil
	}}
	acq := &fakeAcquirer{results: successScript(path), target: path}
	h := &engineHarness{session: sess}
	m, _ := newTestManager(acq, h)
	if !m.InitializeOnce(context.Background()) {
		t.Fatal("init failed")
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.Generate(context.Background(), "slow one")
		done <- err
	}()
	<-started

	_, err := m.Generate(context.Background(), "impatient one")
	if !IsTooBusy(err) {
		t.Fatalf("second call error = %v, want too-busy", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first call: %v", err)
	}
}

func TestInferWritesNDJSON(t *testing.T) {
	path := modelFile(t)
	sess := &fakeSession{onGenerate: func(call int, ctx context.Context, prompt string, cb engine.Callback) error {
		if call == 1 { // warm-up
			cb("", true)
			return nil
		}
		cb("Hi", false)
		cb(" there", false)
		cb("", true)
		return nil
	}}
	acq := &fakeAcquirer{results: successScript(path), target: path}
	h := &engineHarness{session: sess}
	m, _ := newTestManager(acq, h)
	if !m.InitializeOnce(context.Background()) {
		t.Fatal("init failed")
	}

	var buf bytes.Buffer
	err := m.Infer(context.Background(), types.GenerateRequest{Prompt: "hello", Stream: true}, &buf, nil)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	var chunks []types.GenerateChunk
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var c types.GenerateChunk
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			t.Fatalf("bad NDJSON line %q: %v", sc.Text(), err)
		}
		chunks = append(chunks, c)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks: %+v", len(chunks), chunks)
	}
	if chunks[1].Text != "Hi there" || chunks[1].Done {
		t.Fatalf("chunk 1 = %+v", chunks[1])
	}
	last := chunks[2]
	if !last.Done || last.Error != "" || last.Text != "Hi there" {
		t.Fatalf("terminal chunk = %+v", last)
	}
}

func TestInferNonStreamingEmitsOnlyTerminal(t *testing.T) {
	path := modelFile(t)
	acq := &fakeAcquirer{results: successScript(path), target: path}
	h := &engineHarness{}
	m, _ := newTestManager(acq, h)
	if !m.InitializeOnce(context.Background()) {
		t.Fatal("init failed")
	}

	var buf bytes.Buffer
	if err := m.Infer(context.Background(), types.GenerateRequest{Prompt: "hello"}, &buf, nil); err != nil {
		t.Fatalf("Infer: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want exactly the terminal: %q", len(lines), buf.String())
	}
}

func TestInferRejectsBadImage(t *testing.T) {
	acq := &fakeAcquirer{}
	m, _ := newTestManager(acq, &engineHarness{})
	var buf bytes.Buffer
	err := m.Infer(context.Background(), types.GenerateRequest{Prompt: "p", Image: "%%%not-base64"}, &buf, nil)
	if !IsInvalidRequest(err) {
		t.Fatalf("error = %v, want invalid-request", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("body written despite rejected request: %q", buf.String())
	}
}

func TestResetReturnsToNotInitialized(t *testing.T) {
	path := modelFile(t)
	acq := &fakeAcquirer{results: successScript(path), target: path}
	h := &engineHarness{}
	m, _ := newTestManager(acq, h)
	if !m.InitializeOnce(context.Background()) {
		t.Fatal("init failed")
	}

	m.Reset()
	if m.Ready() || !m.InitializationNeeded() {
		t.Fatal("still ready after reset")
	}
	if m.ModelPath() != "" {
		t.Fatal("model path survived reset")
	}
	if got := m.Progress().State; got != StateNotInitialized {
		t.Fatalf("state after reset = %v", got)
	}

	// The pipeline is re-runnable after reset.
	if !m.InitializeOnce(context.Background()) {
		t.Fatal("re-initialization after reset failed")
	}
	if acq.callCount() != 2 {
		t.Fatalf("acquisition ran %d times, want 2", acq.callCount())
	}
}

func TestSubscribeProgressReplaysCurrent(t *testing.T) {
	m, _ := newTestManager(&fakeAcquirer{}, &engineHarness{})
	ch, cancel := m.SubscribeProgress()
	defer cancel()
	select {
	case p := <-ch:
		if p.State != StateNotInitialized {
			t.Fatalf("replayed state = %v", p.State)
		}
	case <-time.After(time.Second):
		t.Fatal("no replay of current snapshot")
	}
}
