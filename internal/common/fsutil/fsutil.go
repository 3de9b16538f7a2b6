package fsutil

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	// handle cases like ~/models/llm
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// PathExists checks if the given path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// IsReadableFile reports whether path is a regular file that can be opened
// for reading.
func IsReadableFile(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// diagHeadBytes is how many leading bytes Diagnose captures as hex.
const diagHeadBytes = 16

// Diagnostic describes a file for error reporting. Corrupted or truncated
// downloads are the dominant real-world failure of the pipeline, so failures
// carry size, permissions, and leading bytes instead of a bare error.
type Diagnostic struct {
	Path    string    `json:"path"`
	Exists  bool      `json:"exists"`
	Size    int64     `json:"size_bytes"`
	Mode    string    `json:"mode,omitempty"`
	ModTime time.Time `json:"mod_time,omitempty"`
	HeadHex string    `json:"head_hex,omitempty"`
}

// Diagnose inspects path and returns a best-effort Diagnostic. It never
// fails; unreadable fields are simply left empty.
func Diagnose(path string) Diagnostic {
	d := Diagnostic{Path: path}
	fi, err := os.Stat(path)
	if err != nil {
		return d
	}
	d.Exists = true
	d.Size = fi.Size()
	d.Mode = fi.Mode().String()
	d.ModTime = fi.ModTime()
	f, err := os.Open(path)
	if err != nil {
		return d
	}
	defer f.Close()
	head := make([]byte, diagHeadBytes)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return d
	}
	d.HeadHex = hex.EncodeToString(head[:n])
	return d
}

func (d Diagnostic) String() string {
	if !d.Exists {
		return fmt.Sprintf("%s (missing)", d.Path)
	}
	return fmt.Sprintf("%s (%s, mode %s, head %s)", d.Path, humanize.IBytes(uint64(d.Size)), d.Mode, d.HeadHex)
}
