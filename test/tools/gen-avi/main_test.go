package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/zsiec/avidemux/internal/avi"
	"github.com/zsiec/avidemux/internal/pipeline"
)

func TestBuildOpens(t *testing.T) {
	for _, fc := range files {
		t.Run(fc.Name, func(t *testing.T) {
			data, err := build(fc)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			d, err := avi.Open(bytes.NewReader(data), nil)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer d.Close()
			if got := len(d.Streams()); got != 2 {
				t.Errorf("streams: got %d, want 2", got)
			}
		})
	}
}

func TestIndexMode(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"none", false},
		{"absolute", false},
		{"relative", false},
		{"odml", true},
	}
	for _, tt := range tests {
		_, err := indexMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("indexMode(%q): err %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestBuildStaleEntries(t *testing.T) {
	var fc FileConfig
	for _, f := range files {
		if f.StaleAt > 0 {
			fc = f
		}
	}
	if fc.Name == "" {
		t.Fatal("no stale entry variant")
	}
	data, err := build(fc)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := avi.Open(bytes.NewReader(data), nil, avi.DemuxerOptLogger(log))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()
	p := pipeline.New(d, pipeline.PipelineOptLogger(log))
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, s := range p.Snapshot().Streams {
		if s.Stream != 0 {
			continue
		}
		if s.Stale != 1 {
			t.Errorf("stale entries: got %d, want 1", s.Stale)
		}
		if want := int64(fc.VideoFrames - 1); s.Packets != want {
			t.Errorf("video packets: got %d, want %d", s.Packets, want)
		}
		return
	}
	t.Error("no stats for video stream")
}
