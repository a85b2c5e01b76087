package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zsiec/avidemux/internal/media"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := New(1, 4)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := q.Deliver(ctx, &media.Packet{StreamIndex: 1, Offset: int64(i)}); err != nil {
			t.Fatalf("Deliver %d: %v", i, err)
		}
	}
	if q.Len() != 3 {
		t.Errorf("Len: got %d, want 3", q.Len())
	}
	q.CloseSend()

	var got []int64
	for pkt := range q.Packets() {
		got = append(got, pkt.Offset)
	}
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Errorf("order: got %v, want [0 1 2]", got)
	}
}

func TestQueueBackpressure(t *testing.T) {
	t.Parallel()

	q := New(0, 1)
	ctx := context.Background()
	if err := q.Deliver(ctx, &media.Packet{}); err != nil {
		t.Fatalf("first Deliver: %v", err)
	}

	delivered := make(chan error, 1)
	go func() {
		delivered <- q.Deliver(ctx, &media.Packet{Offset: 7})
	}()

	select {
	case err := <-delivered:
		t.Fatalf("Deliver on full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	<-q.Packets()
	select {
	case err := <-delivered:
		if err != nil {
			t.Fatalf("Deliver after drain: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Deliver did not resume after the consumer dequeued")
	}
	if pkt := <-q.Packets(); pkt.Offset != 7 {
		t.Errorf("Offset: got %d, want 7", pkt.Offset)
	}
}

func TestQueueDeliverCancelled(t *testing.T) {
	t.Parallel()

	q := New(0, 1)
	if err := q.Deliver(context.Background(), &media.Packet{}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Deliver(ctx, &media.Packet{}); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestQueueStop(t *testing.T) {
	t.Parallel()

	q := New(0, 1)
	q.Stop()
	q.Stop()
	if err := q.Deliver(context.Background(), &media.Packet{}); !errors.Is(err, ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

func TestQueueDefaultSize(t *testing.T) {
	t.Parallel()

	if got := New(0, 0).Cap(); got != media.QueueSize {
		t.Errorf("Cap: got %d, want %d", got, media.QueueSize)
	}
}
