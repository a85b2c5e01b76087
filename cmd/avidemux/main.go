package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/avidemux/internal/avi"
	"github.com/zsiec/avidemux/internal/media"
	"github.com/zsiec/avidemux/internal/pipeline"
	"github.com/zsiec/avidemux/internal/program"
)

var version = "dev"

const statsInterval = 5 * time.Second

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <file.avi>\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, os.Args[1]); err != nil {
		slog.Error("avidemux failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string) error {
	latency, err := time.ParseDuration(envOr("OUTPUT_LATENCY", avi.DefaultOutputLatency.String()))
	if err != nil {
		return fmt.Errorf("OUTPUT_LATENCY: %w", err)
	}
	tieBreak, err := avi.ParseTieBreak(envOr("TIE_BREAK", "audio"))
	if err != nil {
		return fmt.Errorf("TIE_BREAK: %w", err)
	}
	depth, err := strconv.Atoi(envOr("QUEUE_DEPTH", strconv.Itoa(media.QueueSize)))
	if err != nil {
		return fmt.Errorf("QUEUE_DEPTH: %w", err)
	}
	outDir := os.Getenv("OUT_DIR")

	slog.Info("avidemux starting",
		"version", version,
		"input", path,
		"latency", latency,
		"tie_break", tieBreak,
		"queue_depth", depth,
		"out_dir", outDir,
	)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	d, err := avi.Open(f, program.New(nil),
		avi.DemuxerOptOutputLatency(latency),
		avi.DemuxerOptTieBreak(tieBreak),
	)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer d.Close()

	session := uuid.NewString()
	opts := []func(*pipeline.Pipeline){
		pipeline.PipelineOptSession(session),
		pipeline.PipelineOptQueueDepth(depth),
	}
	var dump *dumper
	if outDir != "" {
		dump, err = newDumper(outDir, session, d.Streams(), d.DefaultStreams())
		if err != nil {
			return err
		}
		defer dump.Close()
		opts = append(opts, pipeline.PipelineOptHandler(dump.Write))
	}
	p := pipeline.New(d, opts...)

	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return p.Run(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				for _, s := range p.Snapshot().Streams {
					slog.Info("stream stats",
						"stream", s.Stream,
						"packets", s.Packets,
						"kbps", s.BitrateKbps,
						"queue", s.QueueDepth)
				}
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if dump != nil {
		if err := dump.Close(); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(p.Snapshot())
}

// dumper writes each stream's raw payloads to its own file.
type dumper struct {
	files   map[int]*os.File
	writers map[int]*bufio.Writer
	closed  bool
}

func newDumper(dir, session string, descs []avi.StreamDescriptor, streams []int) (*dumper, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	dm := &dumper{
		files:   make(map[int]*os.File),
		writers: make(map[int]*bufio.Writer),
	}
	for _, n := range streams {
		name := fmt.Sprintf("%s-%02d.%s.%s", session, n, descs[n].Kind, descs[n].Codec)
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			dm.Close()
			return nil, err
		}
		slog.Info("writing stream", "stream", n, "file", f.Name())
		dm.files[n] = f
		dm.writers[n] = bufio.NewWriter(f)
	}
	return dm, nil
}

// Write is a pipeline.Handler. Each stream is written from one goroutine.
func (dm *dumper) Write(_ context.Context, pkt *media.Packet) error {
	w, ok := dm.writers[pkt.StreamIndex]
	if !ok {
		return nil
	}
	_, err := w.Write(pkt.Data)
	return err
}

func (dm *dumper) Close() error {
	if dm.closed {
		return nil
	}
	dm.closed = true
	var firstErr error
	for n, f := range dm.files {
		if w := dm.writers[n]; w != nil {
			if err := w.Flush(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
