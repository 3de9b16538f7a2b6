package types

// GenerateRequest is the payload for POST /generate.
type GenerateRequest struct {
	// Required prompt text, typically the recognized content of a sketch.
	// example: Solve the equation in this drawing step by step.
	Prompt string `json:"prompt" example:"Solve the equation in this drawing step by step."`
	// Optional base64-encoded image (PNG or JPEG) captured from the canvas.
	// When present the multimodal generation path is used and the response is
	// streamed as prefix-growing cumulative text.
	Image string `json:"image,omitempty"`
	// If true, stream cumulative text as NDJSON. When false the server emits a
	// single terminal line once generation completes.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
}

// GenerateChunk is one NDJSON line of a /generate response stream.
type GenerateChunk struct {
	// Cumulative response text so far (each line is a prefix-growing string,
	// not a delta).
	Text string `json:"text"`
	// True on the final line of the stream.
	// example: true
	Done bool `json:"done,omitempty" example:"true"`
	// Terminal error message, only set together with done.
	Error string `json:"error,omitempty"`
}

// ProgressUpdate is one NDJSON line of the GET /progress stream and mirrors
// the pipeline's initialization progress snapshot.
type ProgressUpdate struct {
	// Current initialization state.
	// example: downloading_model
	State string `json:"state" example:"downloading_model"`
	// Human-readable description of the current phase.
	// example: Downloading model... 42%
	Message string `json:"message"`
	// Normalized overall progress in [0,1], monotonically non-decreasing
	// within one initialization attempt.
	// example: 0.31
	Progress float64 `json:"progress" example:"0.31"`
	// Error detail when state is "error".
	Error string `json:"error,omitempty"`
	// Path currently being read, copied, or written (when known).
	CurrentPath string `json:"current_path,omitempty"`
	// The state that last failed; drives targeted retry.
	// example: warming_up
	FailedStep string `json:"failed_step,omitempty" example:"warming_up"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Latest initialization progress snapshot.
	Init ProgressUpdate `json:"init"`
	// True when the engine and session are live and generation is possible.
	// example: true
	Ready bool `json:"ready" example:"true"`
	// Resolved model artifact path, once acquisition has succeeded.
	ModelPath string `json:"model_path,omitempty"`
	// Total completed generation calls since start.
	// example: 12
	Generations uint64 `json:"generations" example:"12"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// InitResponse is returned by the lifecycle endpoints (/initialize, /retry,
// /reset).
type InitResponse struct {
	// True when the requested lifecycle operation was accepted or already
	// satisfied.
	// example: true
	OK bool `json:"ok" example:"true"`
	// State observed immediately after the call.
	// example: ready
	State string `json:"state" example:"ready"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
