package archive

import (
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Classification identifies how a downloaded payload is packaged.
type Classification string

const (
	ClassNone    Classification = "none"     // raw model file, no container
	ClassZip     Classification = "zip"      // PK zip archive
	ClassGzip    Classification = "gzip"     // single gzip-compressed stream
	ClassTarGz   Classification = "tar.gz"   // gzip-compressed tarball
	ClassUnknown Classification = "unknown"  // no recognized signature
)

// ModelExts are the artifact extensions the pipeline recognizes as loadable
// model files.
var ModelExts = []string{".task", ".tflite", ".bin", ".gguf"}

// HasModelExt reports whether name ends in a recognized model extension.
func HasModelExt(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range ModelExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// tarUstarOffset is where the POSIX tar magic lives inside a tar header.
const tarUstarOffset = 257

// Classify sniffs the packaging of the file at path from its leading magic
// bytes. It reads only a small prefix; for gzip it additionally probes a
// bounded window of the decompressed stream to tell a plain gzip file from a
// gzipped tarball (ustar magic at header offset 257). The whole payload is
// never loaded into memory.
func Classify(path string) (Classification, error) {
	f, err := os.Open(path)
	if err != nil {
		return ClassUnknown, err
	}
	defer f.Close()

	head := make([]byte, 10)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return ClassUnknown, err
	}
	head = head[:n]

	switch {
	case len(head) >= 2 && head[0] == 'P' && head[1] == 'K':
		return ClassZip, nil
	case len(head) >= 2 && head[0] == 0x1f && head[1] == 0x8b:
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return ClassGzip, nil
		}
		if isGzippedTar(f) {
			return ClassTarGz, nil
		}
		return ClassGzip, nil
	}
	// GGUF files start with the ASCII magic "GGUF".
	if len(head) >= 4 && string(head[:4]) == "GGUF" {
		return ClassNone, nil
	}
	if HasModelExt(filepath.Base(path)) {
		return ClassNone, nil
	}
	return ClassUnknown, nil
}

// isGzippedTar decompresses just enough of r to check for the 5-byte "ustar"
// marker at tar header offset 257.
func isGzippedTar(r io.Reader) bool {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return false
	}
	defer zr.Close()
	probe := make([]byte, tarUstarOffset+5)
	if _, err := io.ReadFull(zr, probe); err != nil {
		return false
	}
	return string(probe[tarUstarOffset:tarUstarOffset+5]) == "ustar"
}
