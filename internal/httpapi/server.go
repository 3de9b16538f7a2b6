package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sketchd/internal/manager"
	"sketchd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Infer(ctx context.Context, req types.GenerateRequest, w io.Writer, flush func()) error
	Status() types.StatusResponse
	Ready() bool
	InitializeOnce(ctx context.Context) bool
	RetryFromFailedStep(ctx context.Context) bool
	Reset()
	Progress() manager.InitProgress
	SubscribeProgress() (<-chan manager.InitProgress, func())
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/generate", handleGenerate(svc))
	r.Get("/status", handleStatus(svc))
	r.Get("/progress", handleProgress(svc))
	r.Post("/initialize", handleInitialize(svc))
	r.Post("/retry", handleRetry(svc))
	r.Post("/reset", handleReset(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// handleGenerate godoc
// @Summary      Generate a response for a prompt, optionally with an image
// @Description  Streams NDJSON lines of cumulative text. Before the pipeline is ready a single placeholder line is returned.
// @Accept       json
// @Produce      application/x-ndjson
// @Param        request body types.GenerateRequest true "generation request"
// @Success      200 {object} types.GenerateChunk
// @Failure      400 {object} types.ErrorResponse
// @Failure      429 {object} types.ErrorResponse
// @Router       /generate [post]
func handleGenerate(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		writer := io.Writer(w)
		lvl := requestLogLevel(r)
		if lvl >= LevelDebug {
			writer = io.MultiWriter(w, &loggingLineWriter{})
		}
		start := time.Now()
		logEvent(r, lvl, "generate start", 0, nil, 0)

		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		err := svc.Infer(ctx, req, writer, flush)
		if err != nil {
			// Client disconnect or shutdown mid-stream; nothing left to say.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := statusForError(err)
			if status == http.StatusTooManyRequests {
				IncrementBackpressure("generate_inflight")
			}
			writeJSONError(w, status, err.Error())
			logEvent(r, lvl, "generate end", status, err, time.Since(start))
			return
		}
		logEvent(r, lvl, "generate end", http.StatusOK, nil, time.Since(start))
	}
}

// statusForError maps well-known pipeline errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case manager.IsInvalidRequest(err):
		return http.StatusBadRequest
	case manager.IsTooBusy(err):
		return http.StatusTooManyRequests
	case manager.IsTimeout(err):
		return http.StatusGatewayTimeout
	case manager.IsNotReady(err):
		return http.StatusServiceUnavailable
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// handleStatus godoc
// @Summary      Pipeline status snapshot
// @Produce      json
// @Success      200 {object} types.StatusResponse
// @Router       /status [get]
func handleStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	}
}

// handleProgress godoc
// @Summary      Stream initialization progress as NDJSON
// @Description  Emits the current snapshot immediately, then one line per update until the client disconnects.
// @Produce      application/x-ndjson
// @Success      200 {object} types.ProgressUpdate
// @Router       /progress [get]
func handleProgress(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, _ := w.(http.Flusher)
		ch, cancelSub := svc.SubscribeProgress()
		defer cancelSub()
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		enc := json.NewEncoder(w)
		for {
			select {
			case p := <-ch:
				if err := enc.Encode(toProgressUpdate(p)); err != nil {
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

func toProgressUpdate(p manager.InitProgress) types.ProgressUpdate {
	return types.ProgressUpdate{
		State:       string(p.State),
		Message:     p.Message,
		Progress:    p.Progress,
		Error:       p.Err,
		CurrentPath: p.CurrentPath,
		FailedStep:  string(p.FailedStep),
	}
}

// handleInitialize godoc
// @Summary      Start initialization if it has not completed
// @Description  Kicks off the acquisition and warm-up pipeline in the background; poll /status or stream /progress to follow it.
// @Produce      json
// @Success      202 {object} types.InitResponse
// @Router       /initialize [post]
func handleInitialize(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			writeInitResponse(w, http.StatusOK, svc)
			return
		}
		go svc.InitializeOnce(serverBaseCtx)
		writeInitResponse(w, http.StatusAccepted, svc)
	}
}

// handleRetry godoc
// @Summary      Retry initialization from the last failed step
// @Produce      json
// @Success      202 {object} types.InitResponse
// @Router       /retry [post]
func handleRetry(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			writeInitResponse(w, http.StatusOK, svc)
			return
		}
		go svc.RetryFromFailedStep(serverBaseCtx)
		writeInitResponse(w, http.StatusAccepted, svc)
	}
}

// handleReset godoc
// @Summary      Tear down the engine and return to not_initialized
// @Produce      json
// @Success      200 {object} types.InitResponse
// @Router       /reset [post]
func handleReset(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Reset()
		writeInitResponse(w, http.StatusOK, svc)
	}
}

func writeInitResponse(w http.ResponseWriter, status int, svc Service) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.InitResponse{
		OK:    true,
		State: string(svc.Progress().State),
	})
}
