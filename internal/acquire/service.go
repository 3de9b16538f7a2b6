package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	gguf "github.com/gpustack/gguf-parser-go"
	"github.com/rs/zerolog"

	"sketchd/internal/archive"
	"sketchd/internal/common/fsutil"
)

const (
	defaultFileName = "model.task"
	copyChunkSize   = 1 << 20 // 1 MiB, same chunking the download loop uses
	// downloadCap reserves the 90-100% band for extraction.
	downloadCap = 90
)

// Config holds acquisition tunables. Zero values get package defaults in New.
type Config struct {
	// DataDir is the canonical per-app storage location; the final model file
	// always lands here.
	DataDir string
	// ExtraVolumes are additional mounted roots to scan for pre-placed files.
	ExtraVolumes []string
	// SharedDirs additionally scans conventional user download/document
	// directories. Off unless broad storage access was granted.
	SharedDirs bool
	// FileName is the canonical artifact name inside DataDir.
	FileName string
	// URL is the authenticated download endpoint used when no local candidate
	// exists.
	URL      string
	Username string
	APIKey   string
	// CopyDelay is a synthetic pause between local-copy progress emissions so
	// observers can render activity even for fast copies.
	CopyDelay time.Duration
	// HTTPClient must not set a global timeout; downloads are bounded by the
	// caller's context.
	HTTPClient *http.Client
}

// Service resolves a usable model artifact: pre-placed local candidates
// first, authenticated download as the fallback, with archive extraction
// delegated to the archive package.
type Service struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Service {
	if cfg.FileName == "" {
		cfg.FileName = defaultFileName
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 0}
	}
	return &Service{cfg: cfg, log: log}
}

// TargetPath is the canonical location of the finalized model artifact.
func (s *Service) TargetPath() string {
	return filepath.Join(s.cfg.DataDir, s.cfg.FileName)
}

// tempPath is the in-flight download location, always distinct from the
// final name and always cleaned up.
func (s *Service) tempPath() string {
	return filepath.Join(s.cfg.DataDir, s.cfg.FileName+".download")
}

// Acquire runs one acquisition attempt and streams its results. The
// operation is cold: every call repeats the search/download from scratch.
// The returned channel is closed after exactly one terminal Success or
// Failure; the goroutine exits early if ctx is canceled.
func (s *Service) Acquire(ctx context.Context) <-chan Result {
	ch := make(chan Result, 8)
	go func() {
		defer close(ch)
		emit := func(r Result) bool {
			select {
			case ch <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}
		s.run(ctx, emit)
	}()
	return ch
}

func (s *Service) run(ctx context.Context, emit func(Result) bool) {
	if err := os.MkdirAll(s.cfg.DataDir, 0o755); err != nil {
		if errors.Is(err, os.ErrPermission) {
			emit(Failure{Err: permissionError{msg: "storage access denied: " + err.Error(), diag: fsutil.Diagnose(s.cfg.DataDir)}})
			return
		}
		emit(Failure{Err: copyError{msg: "create data dir", diag: fsutil.Diagnose(s.cfg.DataDir), err: err}})
		return
	}
	if src := s.findLocalCandidate(); src != "" {
		s.log.Info().Str("path", src).Msg("using local model candidate")
		s.stageLocal(ctx, src, emit)
		return
	}
	if strings.TrimSpace(s.cfg.URL) == "" {
		emit(Failure{Err: notFoundError{}})
		return
	}
	s.download(ctx, emit)
}

// candidateDirs enumerates the ordered search locations, deduplicated by
// absolute path.
func (s *Service) candidateDirs() []string {
	raw := []string{
		s.cfg.DataDir,
		filepath.Join(s.cfg.DataDir, "downloads"),
	}
	for _, v := range s.cfg.ExtraVolumes {
		raw = append(raw, v, filepath.Join(v, "downloads"))
	}
	if s.cfg.SharedDirs {
		for _, p := range []string{"~/Downloads", "~/Documents", "~/Download", "~/download"} {
			if exp, err := fsutil.ExpandHome(p); err == nil {
				raw = append(raw, exp)
			}
		}
	}
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, d := range raw {
		abs, err := filepath.Abs(d)
		if err != nil {
			continue
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

// findLocalCandidate returns the first readable pre-placed artifact, or "".
func (s *Service) findLocalCandidate() string {
	for _, dir := range s.candidateDirs() {
		p := filepath.Join(dir, s.cfg.FileName)
		if fsutil.IsReadableFile(p) {
			return p
		}
	}
	return ""
}

// stageLocal copies a candidate into the canonical path in fixed-size
// chunks, emitting Progress at every 5% boundary, then validates and emits
// the terminal result. A candidate already at the canonical path is accepted
// in place.
func (s *Service) stageLocal(ctx context.Context, src string, emit func(Result) bool) {
	target := s.TargetPath()
	if !emit(Progress{Stage: StageCopy, Percent: 0, Path: src, Message: "Found local model: " + src}) {
		return
	}
	if sameFile(src, target) {
		if err := s.validateArtifact(target, s.cfg.FileName); err != nil {
			_ = os.Remove(target)
			emit(Failure{Err: err})
			return
		}
		emit(Progress{Stage: StageCopy, Percent: 100, Path: target, Message: "Model already in place"})
		emit(Success{Path: target})
		return
	}

	fi, err := os.Stat(src)
	if err != nil {
		emit(Failure{Err: copyError{msg: "stat candidate", diag: fsutil.Diagnose(src), err: err}})
		return
	}
	partial := target + ".partial"
	if err := s.copyChunked(ctx, src, partial, fi.Size(), StageCopy, 100, emit); err != nil {
		_ = os.Remove(partial)
		if !errors.Is(err, context.Canceled) {
			emit(Failure{Err: copyError{msg: "copy candidate", diag: fsutil.Diagnose(src), err: err}})
		}
		return
	}
	if err := s.validateArtifact(partial, s.cfg.FileName); err != nil {
		_ = os.Remove(partial)
		emit(Failure{Err: err})
		return
	}
	if err := os.Rename(partial, target); err != nil {
		_ = os.Remove(partial)
		emit(Failure{Err: copyError{msg: "finalize candidate", diag: fsutil.Diagnose(partial), err: err}})
		return
	}
	emit(Success{Path: target})
}

// copyChunked streams src to dst, emitting stage progress whenever the copy
// crosses a 5% boundary (scaled into [0,cap]). Honors ctx between chunks.
func (s *Service) copyChunked(ctx context.Context, src, dst string, total int64, stage Stage, capPct int, emit func(Result) bool) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, copyChunkSize)
	var copied int64
	lastBoundary := -1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			copied += int64(n)
			if total > 0 {
				pct := int(copied * int64(capPct) / total)
				if boundary := pct / 5; boundary > lastBoundary {
					lastBoundary = boundary
					if !emit(Progress{
						Stage:   stage,
						Percent: pct,
						Path:    dst,
						Message: fmt.Sprintf("Copying model... %d%% (%s of %s)", pct, humanize.IBytes(uint64(copied)), humanize.IBytes(uint64(total))),
					}) {
						return ctx.Err()
					}
					if s.cfg.CopyDelay > 0 {
						select {
						case <-time.After(s.cfg.CopyDelay):
						case <-ctx.Done():
							return ctx.Err()
						}
					}
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			return out.Sync()
		}
		if rerr != nil {
			return rerr
		}
	}
}

// download fetches the artifact from the configured endpoint into the temp
// path, then finalizes it: raw payloads are renamed into place, compressed
// payloads go through the extractor with a 90-100% progress band.
func (s *Service) download(ctx context.Context, emit func(Result) bool) {
	target := s.TargetPath()
	tmp := s.tempPath()
	if !emit(Progress{Stage: StageDownload, Percent: 0, Path: s.cfg.URL, Message: "Downloading from: " + s.cfg.URL}) {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		emit(Failure{Err: networkError{msg: "build request: " + err.Error(), diag: fsutil.Diagnose(target)}})
		return
	}
	if s.cfg.Username != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.APIKey)
	}
	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		emit(Failure{Err: networkError{msg: "Kaggle download failed: " + err.Error(), diag: fsutil.Diagnose(target)}})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		emit(Failure{Err: networkError{
			msg:  fmt.Sprintf("Kaggle download failed: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			diag: fsutil.Diagnose(target),
		}})
		return
	}

	written, err := s.streamBody(ctx, resp.Body, tmp, resp.ContentLength, emit)
	if err != nil {
		_ = os.Remove(tmp)
		if ctx.Err() != nil {
			return
		}
		emit(Failure{Err: networkError{msg: "Kaggle download failed: " + err.Error(), diag: fsutil.Diagnose(tmp)}})
		return
	}
	if written == 0 {
		_ = os.Remove(tmp)
		emit(Failure{Err: networkError{msg: "Kaggle download failed: empty response body", diag: fsutil.Diagnose(target)}})
		return
	}
	downloadedBytes.Add(float64(written))
	s.log.Info().Int64("bytes", written).Str("tmp", tmp).Msg("download complete")

	class, err := archive.Classify(tmp)
	if err != nil {
		_ = os.Remove(tmp)
		emit(Failure{Err: networkError{msg: "classify download: " + err.Error(), diag: fsutil.Diagnose(tmp)}})
		return
	}
	switch class {
	case archive.ClassZip, archive.ClassGzip, archive.ClassTarGz:
		s.finalizeCompressed(ctx, tmp, target, class, emit)
	default:
		// Raw (or unrecognized) payload: validate and atomically rename.
		if err := s.validateArtifact(tmp, s.cfg.FileName); err != nil {
			_ = os.Remove(tmp)
			emit(Failure{Err: err})
			return
		}
		if err := os.Rename(tmp, target); err != nil {
			_ = os.Remove(tmp)
			emit(Failure{Err: networkError{msg: "finalize download: " + err.Error(), diag: fsutil.Diagnose(tmp)}})
			return
		}
		emit(Progress{Stage: StageDownload, Percent: 100, Path: target, Message: "Download complete"})
		emit(Success{Path: target})
	}
}

// streamBody copies the response body to path, emitting download progress
// derived from bytes-read/content-length, capped at 90% to leave room for
// extraction.
func (s *Service) streamBody(ctx context.Context, body io.Reader, path string, total int64, emit func(Result) bool) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	buf := make([]byte, copyChunkSize)
	var written int64
	lastPct := -1
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			if total > 0 {
				pct := int(written * downloadCap / total)
				if pct > downloadCap {
					pct = downloadCap
				}
				if pct > lastPct {
					lastPct = pct
					if !emit(Progress{
						Stage:   StageDownload,
						Percent: pct,
						Path:    path,
						Message: fmt.Sprintf("Downloading model... %d%% (%s of %s)", pct, humanize.IBytes(uint64(written)), humanize.IBytes(uint64(total))),
					}) {
						return written, ctx.Err()
					}
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, out.Sync()
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// finalizeCompressed runs the extractor over the temp download. The temp
// file is removed regardless of outcome.
func (s *Service) finalizeCompressed(ctx context.Context, tmp, target string, class archive.Classification, emit func(Result) bool) {
	defer os.Remove(tmp)
	if !emit(Progress{Stage: StageExtract, Percent: downloadCap, Path: tmp, Message: "Extracting model file (" + string(class) + ")..."}) {
		return
	}
	extracted, err := archive.Extract(ctx, tmp, target, class)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		emit(Failure{Err: err})
		return
	}
	if err := s.validateArtifact(extracted, s.cfg.FileName); err != nil {
		_ = os.Remove(extracted)
		emit(Failure{Err: err})
		return
	}
	emit(Progress{Stage: StageExtract, Percent: 100, Path: extracted, Message: "Extraction complete"})
	emit(Success{Path: extracted})
}

// validateArtifact checks acquired content before it is declared usable.
// GGUF artifacts get a real metadata parse; anything else gets a minimal
// non-empty check. finalName decides the format, since the content may still
// live at a temp path.
func (s *Service) validateArtifact(contentPath, finalName string) error {
	if strings.EqualFold(filepath.Ext(finalName), ".gguf") {
		if _, err := gguf.ParseGGUFFile(contentPath); err != nil {
			return validationError{msg: "invalid GGUF artifact: " + err.Error(), diag: fsutil.Diagnose(contentPath)}
		}
		return nil
	}
	fi, err := os.Stat(contentPath)
	if err != nil || fi.Size() == 0 {
		return validationError{msg: "empty model artifact", diag: fsutil.Diagnose(contentPath)}
	}
	return nil
}

func sameFile(a, b string) bool {
	aa, errA := filepath.Abs(a)
	bb, errB := filepath.Abs(b)
	return errA == nil && errB == nil && aa == bb
}
