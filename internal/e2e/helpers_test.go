package e2e

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"sketchd/internal/engine"
)

// zipFixture builds an archive holding one model entry plus a decoy, the
// shape a hosted model bundle arrives in.
func zipFixture(t *testing.T, entryName string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("README.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("bundle docs")); err != nil {
		t.Fatal(err)
	}
	w, err = zw.Create(entryName)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// fakeRuntime stands in for the llama runtime so the whole stack can run
// without native libraries.
type fakeRuntime struct {
	deltas []string
}

func (f *fakeRuntime) factory(cfg engine.Config) (engine.Engine, error) {
	return fakeEngine{deltas: f.deltas}, nil
}

type fakeEngine struct {
	deltas []string
}

func (e fakeEngine) NewSession(engine.SessionParams) (engine.Session, error) {
	return fakeSession{deltas: e.deltas}, nil
}

func (fakeEngine) Close() error { return nil }

type fakeSession struct {
	deltas []string
}

func (s fakeSession) Generate(ctx context.Context, prompt string, image []byte, cb engine.Callback) error {
	for _, d := range s.deltas {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cb(d, false)
	}
	cb("", true)
	return nil
}

func (fakeSession) Close() error { return nil }
