package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"sketchd/internal/common/fsutil"
)

// minPlainGzipSize is the size heuristic for accepting a bare gzip payload
// whose name carries no model extension: anything this large is assumed to
// be a model artifact rather than a stray text file.
const minPlainGzipSize = 1 << 20 // 1 MiB

const copyChunkSize = 256 * 1024

// Extract unpacks the model payload from src into target according to class.
// On any failure, partial target output is removed; the target file exists
// only when Extract returns it with a nil error.
func Extract(ctx context.Context, src, target string, class Classification) (string, error) {
	switch class {
	case ClassZip:
		return extractZip(ctx, src, target)
	case ClassGzip:
		return extractGzip(ctx, src, target)
	case ClassTarGz:
		return extractTarGz(ctx, src, target)
	default:
		return "", extractionError{op: "extract", diag: fsutil.Diagnose(src), err: errors.New("not an archive: " + string(class))}
	}
}

// extractZip streams the first zip entry with a recognized model extension
// into target.
func extractZip(ctx context.Context, src, target string) (string, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return "", extractionError{op: "open zip", diag: fsutil.Diagnose(src), err: err}
	}
	defer zr.Close()
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || !HasModelExt(entry.Name) {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return "", extractionError{op: "open zip entry " + entry.Name, diag: fsutil.Diagnose(src), err: err}
		}
		defer rc.Close()
		if err := writeStream(ctx, rc, target); err != nil {
			return "", extractionError{op: "extract zip entry " + entry.Name, diag: fsutil.Diagnose(src), err: err}
		}
		return target, nil
	}
	return "", noModelEntryError{path: src}
}

// extractGzip decompresses a single gzip stream into target. The result is
// kept when the embedded or source name hints at a model extension, or when
// the decompressed payload clears the size heuristic.
func extractGzip(ctx context.Context, src, target string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", extractionError{op: "open gzip", diag: fsutil.Diagnose(src), err: err}
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return "", extractionError{op: "read gzip header", diag: fsutil.Diagnose(src), err: err}
	}
	defer zr.Close()
	if err := writeStream(ctx, zr, target); err != nil {
		return "", extractionError{op: "decompress gzip", diag: fsutil.Diagnose(src), err: err}
	}
	hinted := HasModelExt(zr.Name) || HasModelExt(strings.TrimSuffix(filepath.Base(src), ".gz"))
	if !hinted {
		fi, err := os.Stat(target)
		if err != nil || fi.Size() < minPlainGzipSize {
			_ = os.Remove(target)
			return "", noModelEntryError{path: src}
		}
	}
	return target, nil
}

// extractTarGz walks a gzipped tarball and streams the first plausible model
// entry into target.
func extractTarGz(ctx context.Context, src, target string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", extractionError{op: "open tar.gz", diag: fsutil.Diagnose(src), err: err}
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return "", extractionError{op: "read gzip header", diag: fsutil.Diagnose(src), err: err}
	}
	defer zr.Close()
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", extractionError{op: "walk tar", diag: fsutil.Diagnose(src), err: err}
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !tarEntryLooksLikeModel(hdr.Name, hdr.Size) {
			continue
		}
		if err := writeStream(ctx, tr, target); err != nil {
			return "", extractionError{op: "extract tar entry " + hdr.Name, diag: fsutil.Diagnose(src), err: err}
		}
		return target, nil
	}
	return "", noModelEntryError{path: src}
}

// tarEntryLooksLikeModel applies the selection heuristics for tar entries:
// a recognized extension, a model-identifying name, or a large payload whose
// name hints at an instruction-tuned variant.
func tarEntryLooksLikeModel(name string, size int64) bool {
	if HasModelExt(name) {
		return true
	}
	lower := strings.ToLower(filepath.Base(name))
	if strings.Contains(lower, "model") {
		return true
	}
	if size >= minPlainGzipSize && (strings.Contains(lower, "instruct") || strings.Contains(lower, "-it")) {
		return true
	}
	return false
}

// writeStream copies r into target in fixed-size chunks, honoring ctx at
// chunk boundaries. The target is removed on any failure.
func writeStream(ctx context.Context, r io.Reader, target string) error {
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	buf := make([]byte, copyChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			_ = out.Close()
			_ = os.Remove(target)
			return err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				_ = out.Close()
				_ = os.Remove(target)
				return werr
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			_ = out.Close()
			_ = os.Remove(target)
			return rerr
		}
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(target)
		return err
	}
	return nil
}
