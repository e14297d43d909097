package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/campus-preorder/internal/model"
)

type recordingSink struct {
	mu       sync.Mutex
	received []string
	err      error
	done     chan struct{}
}

func (s *recordingSink) Notify(ctx context.Context, restaurantID string, summary model.OrderSummary) error {
	s.mu.Lock()
	s.received = append(s.received, restaurantID+"/"+summary.OrderID)
	s.mu.Unlock()
	if s.done != nil {
		s.done <- struct{}{}
	}
	return s.err
}

func TestDispatcher_DeliversInBackground(t *testing.T) {
	sink := &recordingSink{done: make(chan struct{}, 1), err: errors.New("broker down")}
	d := NewDispatcher(sink, zap.NewNop(), 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	if err := d.Notify(ctx, "r1", model.OrderSummary{OrderID: "o1"}); err != nil {
		t.Fatalf("Notify must never fail, got %v", err)
	}

	select {
	case <-sink.done:
	case <-time.After(time.Second):
		t.Fatalf("notification was not delivered")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.received) != 1 || sink.received[0] != "r1/o1" {
		t.Fatalf("unexpected deliveries: %v", sink.received)
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(&recordingSink{}, zap.NewNop(), 1)

	// no worker running: the second notification has nowhere to go
	_ = d.Notify(context.Background(), "r1", model.OrderSummary{OrderID: "o1"})
	_ = d.Notify(context.Background(), "r1", model.OrderSummary{OrderID: "o2"})

	if d.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", d.Dropped())
	}
}

func TestRoutingKey(t *testing.T) {
	if got := routingKey("r-42"); got != "restaurant.r-42.new_order" {
		t.Fatalf("routingKey = %q", got)
	}
}
