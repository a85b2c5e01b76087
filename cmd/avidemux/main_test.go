package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/zsiec/avidemux/internal/avitest"
)

func TestRunWritesStreams(t *testing.T) {
	dir := t.TempDir()
	data, _ := avitest.Interleaved(30, 40, avitest.IndexAbsolute).Build()
	in := filepath.Join(dir, "in.avi")
	if err := os.WriteFile(in, data, 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out")
	t.Setenv("OUT_DIR", out)
	t.Setenv("QUEUE_DEPTH", "4")

	if err := run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}

	tests := []struct {
		pattern string
		size    int64
	}{
		// 30 frames of 100+i%7 bytes.
		{"*-00.video.mpeg4", 3085},
		// The video ends first, so 30 of the 40 audio chunks are written.
		{"*-01.audio.pcm", 30 * avitest.AudioChunkSize},
	}
	for _, tt := range tests {
		matches, err := filepath.Glob(filepath.Join(out, tt.pattern))
		if err != nil || len(matches) != 1 {
			t.Fatalf("%s: got %v %v, want one file", tt.pattern, matches, err)
		}
		fi, err := os.Stat(matches[0])
		if err != nil {
			t.Fatal(err)
		}
		if fi.Size() != tt.size {
			t.Errorf("%s: size got %d, want %d", tt.pattern, fi.Size(), tt.size)
		}
	}
}

func TestRunBadConfig(t *testing.T) {
	t.Setenv("TIE_BREAK", "subtitles")
	if err := run(context.Background(), "missing.avi"); err == nil {
		t.Fatal("expected error for bad TIE_BREAK")
	}
}

func TestRunMissingFile(t *testing.T) {
	if err := run(context.Background(), filepath.Join(t.TempDir(), "nope.avi")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("AVIDEMUX_TEST_VAR", "set")
	if got := envOr("AVIDEMUX_TEST_VAR", "fallback"); got != "set" {
		t.Errorf("got %q, want set", got)
	}
	if got := envOr("AVIDEMUX_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
}
