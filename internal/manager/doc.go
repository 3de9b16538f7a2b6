// Package manager owns the model-lifecycle and inference pipeline: it
// resolves a model artifact through the acquisition service, brings up the
// single long-lived inference engine and its session, and exposes
// cancellable streaming generation. It is structured into small files by
// concern:
//
//   - manager.go: core Manager type, constructor, readiness checks, reset.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: initialization states and the InitProgress snapshot.
//   - errors.go: error types and helpers (IsNotReady, IsTooBusy, IsTimeout).
//   - progress.go: latest-value progress hub for Subscribe/Publish.
//   - init.go: the initialization state machine (InitializeOnce and phases).
//   - retry.go: the pure retry plan and RetryFromFailedStep.
//   - bridge.go: callback-to-channel streaming adapter for generation.
//   - generate.go: Generate/GenerateMultimodal, admission, NDJSON Infer.
//   - status_report.go: Status projection for the HTTP layer.
//   - metrics.go: prometheus gauges and counters for the pipeline.
//   - events.go: lifecycle event publishing (MemoryPublisher for tests).
//
// The engine and session are process-lifetime singletons owned exclusively
// by the Manager; only it constructs, tears down, or rebinds them.
// Initialization attempts are serialized by an internal mutex, and
// generation calls go through a single-inflight admission gate, so
// concurrent callers get a busy error instead of racing on the session.
package manager
