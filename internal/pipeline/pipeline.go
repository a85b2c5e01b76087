// Package pipeline drives an AVI demuxer for one input file, moving packets
// from the demuxer through bounded per-stream queues to a consumer while
// collecting telemetry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/avidemux/internal/avi"
	"github.com/zsiec/avidemux/internal/media"
	"github.com/zsiec/avidemux/internal/queue"
)

// pausePoll is how often a paused pipeline checks whether it may resume.
const pausePoll = 20 * time.Millisecond

// Handler consumes the packets of one stream. It is called from one
// goroutine per stream, in stream order. Returning an error stops the run.
type Handler func(ctx context.Context, pkt *media.Packet) error

// Pipeline bridges a Demuxer and a Handler. The demux loop and every
// stream's consumer run in their own goroutines, joined by an errgroup.
type Pipeline struct {
	log        *slog.Logger
	demuxer    *avi.Demuxer
	handler    Handler
	session    string
	stats      *Stats
	startTime  time.Time
	queueDepth int
	streams    []int

	// mu guards queues
	mu     sync.Mutex
	queues []*queue.Queue
}

// New creates a Pipeline over an opened demuxer. By default the first
// video and first audio stream are demuxed and their packets discarded.
func New(d *avi.Demuxer, opts ...func(*Pipeline)) *Pipeline {
	p := &Pipeline{
		log:     slog.Default(),
		demuxer: d,
		handler: func(context.Context, *media.Packet) error { return nil },
		session: uuid.NewString(),
		stats:   NewStats(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("session", p.session)
	if p.streams == nil {
		p.streams = d.DefaultStreams()
	}
	d.SetStats(p.stats)
	return p
}

// PipelineOptLogger sets the logger (default slog.Default()).
func PipelineOptLogger(l *slog.Logger) func(*Pipeline) {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// PipelineOptHandler sets the packet consumer.
func PipelineOptHandler(h Handler) func(*Pipeline) {
	return func(p *Pipeline) {
		if h != nil {
			p.handler = h
		}
	}
}

// PipelineOptQueueDepth sets the per-stream queue capacity (default
// media.QueueSize).
func PipelineOptQueueDepth(n int) func(*Pipeline) {
	return func(p *Pipeline) {
		p.queueDepth = n
	}
}

// PipelineOptSession sets the run identifier (default a random UUID).
func PipelineOptSession(id string) func(*Pipeline) {
	return func(p *Pipeline) {
		if id != "" {
			p.session = id
		}
	}
}

// PipelineOptStreams selects the streams to demux instead of the defaults.
func PipelineOptStreams(streams []int) func(*Pipeline) {
	return func(p *Pipeline) {
		p.streams = streams
	}
}

// Session returns the run's identifier, used in logs and output names.
func (p *Pipeline) Session() string {
	return p.session
}

// Streams returns the stream numbers the pipeline demuxes.
func (p *Pipeline) Streams() []int {
	return p.streams
}

// Stats returns the underlying telemetry collector.
func (p *Pipeline) Stats() *Stats {
	return p.stats
}

// Snapshot returns a point-in-time view of the run's delivery metrics.
func (p *Pipeline) Snapshot() Snapshot {
	streams := p.stats.Streams()
	p.mu.Lock()
	for i := range streams {
		for _, q := range p.queues {
			if q.Stream() == streams[i].Stream {
				streams[i].QueueDepth = q.Len()
			}
		}
	}
	p.mu.Unlock()
	var uptime int64
	if !p.startTime.IsZero() {
		uptime = time.Since(p.startTime).Milliseconds()
	}
	return Snapshot{
		Timestamp: time.Now().UnixMilli(),
		Session:   p.session,
		UptimeMs:  uptime,
		Streams:   streams,
	}
}

// Run attaches a queue to every selected stream and demuxes until the file
// ends, the context is cancelled, or a handler fails. Reaching the end of
// the file is not an error.
func (p *Pipeline) Run(ctx context.Context) error {
	if len(p.streams) == 0 {
		return fmt.Errorf("pipeline: no streams to demux")
	}
	p.startTime = time.Now()
	prog := p.demuxer.Program()
	queues := make([]*queue.Queue, len(p.streams))
	for i, n := range p.streams {
		queues[i] = queue.New(n, p.queueDepth)
		prog.Attach(n, queues[i])
	}
	p.mu.Lock()
	p.queues = queues
	p.mu.Unlock()
	defer func() {
		for _, q := range queues {
			prog.Detach(q.Stream())
		}
	}()

	p.log.Info("pipeline started", "streams", p.streams)

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queues {
		q := q
		g.Go(func() error {
			return p.consume(gctx, q)
		})
	}
	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				q.CloseSend()
			}
		}()
		return p.demux(gctx)
	})

	err := g.Wait()
	if ctx.Err() != nil {
		p.log.Info("pipeline cancelled")
		return nil
	}
	if err != nil {
		return err
	}
	p.log.Info("pipeline finished", "uptime", time.Since(p.startTime))
	return nil
}

// demux steps the demuxer until it stops continuing.
func (p *Pipeline) demux(ctx context.Context) error {
	prog := p.demuxer.Program()
	for {
		for prog.Paused() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pausePoll):
			}
		}

		st, err := p.demuxer.Step(ctx)
		switch st {
		case avi.StatusContinue:
			continue
		case avi.StatusEnd:
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.log.Info("demuxer reached end")
			return nil
		default:
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error("demuxer failed", "error", err)
			return fmt.Errorf("pipeline: demux: %w", err)
		}
	}
}

// consume drains one queue into the handler.
func (p *Pipeline) consume(ctx context.Context, q *queue.Queue) error {
	for {
		select {
		case <-ctx.Done():
			q.Stop()
			return nil
		case pkt, ok := <-q.Packets():
			if !ok {
				return nil
			}
			if err := p.handler(ctx, pkt); err != nil {
				return fmt.Errorf("pipeline: stream %d: %w", q.Stream(), err)
			}
			p.stats.RecordForwarded(q.Stream())
		}
	}
}

// Pause suspends demuxing. Packets already queued are still consumed.
func (p *Pipeline) Pause() {
	p.demuxer.Program().Pause()
}

// Resume continues demuxing after Pause, re-anchoring the clock.
func (p *Pipeline) Resume() {
	p.demuxer.Program().Resume()
}
