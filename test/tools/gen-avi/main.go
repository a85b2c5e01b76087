// Command gen-avi writes a set of synthetic AVI files covering the index
// layouts the demuxer handles, plus a manifest describing them.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zsiec/avidemux/internal/avitest"
)

type FileConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	VideoFrames int    `json:"videoFrames"`
	AudioChunks int    `json:"audioChunks"`
	Index       string `json:"index"`
	RecLists    bool   `json:"recLists"`
	TruncateAt  int    `json:"truncateAt,omitempty"` // video frame whose header is cut
	StaleAt     int    `json:"staleAt,omitempty"`    // video frame retagged on disk after indexing
}

type Manifest struct {
	Generated string       `json:"generated"`
	Files     []FileConfig `json:"files"`
}

var files = []FileConfig{
	{Name: "interleaved_abs", VideoFrames: 250, AudioChunks: 250, Index: "absolute",
		Description: "10s 25fps video with 8kHz PCM, idx1 offsets from file start"},
	{Name: "interleaved_rel", VideoFrames: 250, AudioChunks: 250, Index: "relative",
		Description: "10s 25fps video with 8kHz PCM, idx1 offsets from movi"},
	{Name: "no_index", VideoFrames: 250, AudioChunks: 250, Index: "none",
		Description: "no idx1, index built by scanning movi"},
	{Name: "rec_lists", VideoFrames: 250, AudioChunks: 250, Index: "absolute", RecLists: true,
		Description: "audio/video pairs grouped in LIST rec"},
	{Name: "audio_tail", VideoFrames: 100, AudioChunks: 150, Index: "absolute",
		Description: "audio outlasts video by 2s"},
	{Name: "truncated", VideoFrames: 250, AudioChunks: 250, Index: "none", TruncateAt: 120,
		Description: "file cut in the middle of movi"},
	{Name: "stale_entries", VideoFrames: 250, AudioChunks: 250, Index: "absolute", StaleAt: 50,
		Description: "one idx1 record no longer matches the chunk on disk"},
}

func main() {
	outDir := "test/avi"
	if len(os.Args) > 1 {
		outDir = os.Args[1]
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		fatal("create output dir: %v", err)
	}

	fmt.Println("=== AVI Test File Generator ===")
	fmt.Printf("Writing %d files to %s\n\n", len(files), outDir)

	for _, fc := range files {
		data, err := build(fc)
		if err != nil {
			fatal("%s: %v", fc.Name, err)
		}
		path := filepath.Join(outDir, fc.Name+".avi")
		if err := os.WriteFile(path, data, 0644); err != nil {
			fatal("write %s: %v", path, err)
		}
		fmt.Printf("  %-16s %8d bytes  %s\n", fc.Name, len(data), fc.Description)
	}

	m := Manifest{Generated: time.Now().UTC().Format(time.RFC3339), Files: files}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		fatal("marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "manifest.json"), b, 0644); err != nil {
		fatal("write manifest: %v", err)
	}
	fmt.Println("\nDone.")
}

func build(fc FileConfig) ([]byte, error) {
	mode, err := indexMode(fc.Index)
	if err != nil {
		return nil, err
	}
	f := avitest.Interleaved(fc.VideoFrames, fc.AudioChunks, mode)
	if fc.RecLists {
		for i := range f.Chunks {
			f.Chunks[i].Group = i/2 + 1
		}
	}
	data, layout := f.Build()
	if fc.StaleAt > 0 {
		pos, ok := videoChunkPos(f, layout, fc.StaleAt)
		if !ok {
			return nil, fmt.Errorf("no video frame %d", fc.StaleAt)
		}
		copy(data[pos+2:], "db")
	}
	if fc.TruncateAt > 0 {
		pos, ok := videoChunkPos(f, layout, fc.TruncateAt)
		if !ok {
			return nil, fmt.Errorf("no video frame %d", fc.TruncateAt)
		}
		data = data[:pos+4]
	}
	return data, nil
}

func indexMode(s string) (avitest.IndexMode, error) {
	switch s {
	case "none":
		return avitest.IndexNone, nil
	case "absolute":
		return avitest.IndexAbsolute, nil
	case "relative":
		return avitest.IndexRelative, nil
	}
	return avitest.IndexNone, fmt.Errorf("unknown index mode %q", s)
}

// videoChunkPos returns the file offset of the n-th video chunk.
func videoChunkPos(f *avitest.File, l avitest.Layout, n int) (int64, bool) {
	seen := 0
	for i, c := range f.Chunks {
		if c.Tag != avitest.Tag(0, "dc") {
			continue
		}
		if seen == n {
			return l.ChunkPos[i], true
		}
		seen++
	}
	return 0, false
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
