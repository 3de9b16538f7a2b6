package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDiagnoseMissing(t *testing.T) {
	d := Diagnose(filepath.Join(t.TempDir(), "nope.bin"))
	if d.Exists {
		t.Fatalf("expected Exists=false: %+v", d)
	}
	if !strings.Contains(d.String(), "missing") {
		t.Fatalf("unexpected string: %q", d.String())
	}
}

func TestDiagnoseCapturesHeadBytes(t *testing.T) {
	p := filepath.Join(t.TempDir(), "m.task")
	if err := os.WriteFile(p, []byte("PK\x03\x04rest-of-file"), 0o644); err != nil {
		t.Fatal(err)
	}
	d := Diagnose(p)
	if !d.Exists || d.Size == 0 {
		t.Fatalf("unexpected diagnostic: %+v", d)
	}
	if !strings.HasPrefix(d.HeadHex, "504b0304") {
		t.Fatalf("expected zip magic in head hex, got %q", d.HeadHex)
	}
}

func TestDiagnoseShortFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tiny")
	if err := os.WriteFile(p, []byte{0x1f, 0x8b}, 0o644); err != nil {
		t.Fatal(err)
	}
	d := Diagnose(p)
	if d.HeadHex != "1f8b" {
		t.Fatalf("expected head hex 1f8b, got %q", d.HeadHex)
	}
}
