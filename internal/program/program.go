// Package program holds the playback state a host shares with a running
// demuxer: which streams have an output attached, and whether the
// demuxer must re-synchronize its clock before emitting more packets.
//
// The demuxer reads a [Snapshot] under the lock and performs all I/O
// without it, so host calls never wait on disk reads.
package program

import (
	"context"
	"log/slog"
	"sync"

	"github.com/zsiec/avidemux/internal/media"
)

// SyncState is the clock synchronization state of the program.
type SyncState int

const (
	// SyncOK means the clock anchor is valid.
	SyncOK SyncState = iota
	// SyncReinit means the demuxer must realign and re-anchor the clock
	// before its next packet.
	SyncReinit
)

func (s SyncState) String() string {
	if s == SyncReinit {
		return "reinit"
	}
	return "ok"
}

// Sink receives packets for one stream. Deliver blocks while the sink is
// full and returns early with an error when ctx is done.
type Sink interface {
	Deliver(ctx context.Context, pkt *media.Packet) error
}

// Snapshot is a copy of the shared state taken under the lock.
type Snapshot struct {
	State   SyncState
	Gen     uint64
	SeekPos int64
	HasSeek bool
	Sinks   []Sink // indexed by stream number, nil when unattached
}

// Program is the shared selection and synchronization state for one
// demuxing session.
type Program struct {
	log     *slog.Logger
	mu      sync.RWMutex
	sinks   map[int]Sink
	state   SyncState
	gen     uint64
	seekPos int64
	hasSeek bool
	paused  bool
}

// New creates a Program that starts in SyncReinit so the first demux step
// anchors the clock. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Program {
	if log == nil {
		log = slog.Default()
	}
	return &Program{
		log:   log.With("component", "program"),
		sinks: make(map[int]Sink),
		state: SyncReinit,
	}
}

// Attach connects a sink to stream idx, replacing any previous one.
func (p *Program) Attach(idx int, s Sink) {
	p.mu.Lock()
	p.sinks[idx] = s
	p.mu.Unlock()
	p.log.Info("sink attached", "stream", idx)
}

// Detach disconnects stream idx. The demuxer marks it unselected on its
// next step and fast-forwards it if it is attached again later.
func (p *Program) Detach(idx int) {
	p.mu.Lock()
	_, ok := p.sinks[idx]
	delete(p.sinks, idx)
	p.mu.Unlock()

	if ok {
		p.log.Info("sink detached", "stream", idx)
	}
}

// Attached reports whether stream idx has a sink.
func (p *Program) Attached(idx int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.sinks[idx]
	return ok
}

// RequestReinit signals a discontinuity: the next step realigns on the
// current byte position and re-anchors the clock.
func (p *Program) RequestReinit() {
	p.mu.Lock()
	p.state = SyncReinit
	p.gen++
	p.mu.Unlock()
}

// SeekTo requests realignment on the absolute byte offset pos.
func (p *Program) SeekTo(pos int64) {
	p.mu.Lock()
	p.state = SyncReinit
	p.seekPos = pos
	p.hasSeek = true
	p.gen++
	p.mu.Unlock()
	p.log.Debug("seek requested", "pos", pos)
}

// Pause marks the program paused. The host is expected to stop stepping
// the demuxer until Resume.
func (p *Program) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume clears the pause and forces a clock re-anchor, since wall time
// kept running while stream time did not.
func (p *Program) Resume() {
	p.mu.Lock()
	wasPaused := p.paused
	p.paused = false
	if wasPaused {
		p.state = SyncReinit
		p.gen++
	}
	p.mu.Unlock()
}

// Paused reports whether the program is paused.
func (p *Program) Paused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// State returns the current synchronization state.
func (p *Program) State() SyncState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Snapshot copies the state needed for one demux step over n streams.
func (p *Program) Snapshot(n int) Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := Snapshot{
		State:   p.state,
		Gen:     p.gen,
		SeekPos: p.seekPos,
		HasSeek: p.hasSeek,
		Sinks:   make([]Sink, n),
	}
	for idx, s := range p.sinks {
		if idx >= 0 && idx < n {
			snap.Sinks[idx] = s
		}
	}
	return snap
}

// Synced marks the reinit taken at generation gen as done. A request that
// arrived after the snapshot keeps the program in SyncReinit.
func (p *Program) Synced(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return
	}
	p.state = SyncOK
	p.hasSeek = false
}
