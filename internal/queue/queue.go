// Package queue provides the bounded per-stream packet queue that sits
// between the demuxer and a consumer. A full queue blocks the demuxer until
// the consumer catches up.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/zsiec/avidemux/internal/media"
)

// ErrClosed is returned by Deliver once the consumer side has gone away.
var ErrClosed = errors.New("queue: closed")

// Queue is a bounded FIFO of packets for one stream. Deliver is called by
// the single producer; Packets is drained by the consumer.
type Queue struct {
	stream int
	ch     chan *media.Packet
	done   chan struct{}

	closeOnce sync.Once
	stopOnce  sync.Once
}

// New creates a queue for stream holding at most size packets. A size of
// zero or less selects media.QueueSize.
func New(stream, size int) *Queue {
	if size <= 0 {
		size = media.QueueSize
	}
	return &Queue{
		stream: stream,
		ch:     make(chan *media.Packet, size),
		done:   make(chan struct{}),
	}
}

// Stream returns the stream number the queue carries.
func (q *Queue) Stream() int {
	return q.stream
}

// Deliver enqueues pkt, blocking while the queue is full.
func (q *Queue) Deliver(ctx context.Context, pkt *media.Packet) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- pkt:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Packets returns the receive side of the queue. It is closed by
// CloseSend.
func (q *Queue) Packets() <-chan *media.Packet {
	return q.ch
}

// Len returns the number of packets waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// CloseSend is called by the producer after its last Deliver. Consumers see
// the channel close once the remaining packets are drained.
func (q *Queue) CloseSend() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Stop is called by the consumer when it will read no more; a blocked or
// future Deliver returns ErrClosed.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.done) })
}
