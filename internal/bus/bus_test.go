package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func waitFor(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var receivedMsg *domain.Message
		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, domain.TopicRecomputeRequested, func(ctx context.Context, msg *domain.Message) error {
			receivedMsg = msg
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, domain.TopicRecomputeRequested, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		waitFor(t, &wg)

		if string(receivedMsg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(receivedMsg.Payload))
		}
		if receivedMsg.Topic != domain.TopicRecomputeRequested {
			t.Errorf("expected topic %s, got %s", domain.TopicRecomputeRequested, receivedMsg.Topic)
		}
		if receivedMsg.ID == "" || receivedMsg.Timestamp == 0 {
			t.Error("expected message id and timestamp")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var flagged, computed atomic.Int32
		var wg sync.WaitGroup
		wg.Add(1)

		bus.Subscribe(ctx, domain.TopicVendorFlagged, func(ctx context.Context, msg *domain.Message) error {
			flagged.Add(1)
			wg.Done()
			return nil
		})
		bus.Subscribe(ctx, domain.TopicRiskComputed, func(ctx context.Context, msg *domain.Message) error {
			computed.Add(1)
			return nil
		})

		bus.Publish(ctx, domain.TopicVendorFlagged, []byte("v1"))
		waitFor(t, &wg)
		time.Sleep(20 * time.Millisecond)

		if flagged.Load() != 1 {
			t.Errorf("expected 1 flagged message, got %d", flagged.Load())
		}
		if computed.Load() != 0 {
			t.Errorf("expected 0 risk messages, got %d", computed.Load())
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, "unsub.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		sub.Unsubscribe()

		bus.Publish(ctx, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32
		var wg sync.WaitGroup
		wg.Add(2)

		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			wg.Done()
			return nil
		})
		bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			wg.Done()
			return nil
		})

		bus.Publish(ctx, "multi.topic", []byte("broadcast"))
		waitFor(t, &wg)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("HandlerErrorKeepsSubscription", func(t *testing.T) {
		var count atomic.Int32
		var wg sync.WaitGroup
		wg.Add(2)

		bus.Subscribe(ctx, "err.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			wg.Done()
			return errors.New("boom")
		})

		bus.Publish(ctx, "err.topic", []byte("1"))
		bus.Publish(ctx, "err.topic", []byte("2"))
		waitFor(t, &wg)

		if count.Load() != 2 {
			t.Errorf("expected 2 deliveries, got %d", count.Load())
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})

		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}

	if err := bus.Publish(ctx, "close.topic", []byte("data")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}

	_, err := bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on subscribe, got %v", err)
	}

	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}

	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestPublishJSON(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()
	ctx := context.Background()

	var got domain.RecomputeRequest
	var wg sync.WaitGroup
	wg.Add(1)

	bus.Subscribe(ctx, domain.TopicRecomputeRequested, func(ctx context.Context, msg *domain.Message) error {
		defer wg.Done()
		return Decode(msg, &got)
	})

	req := domain.RecomputeRequest{ID: "req-1", Scope: domain.ScopeAll}
	if err := PublishJSON(ctx, bus, domain.TopicRecomputeRequested, req); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}
	waitFor(t, &wg)

	if got != req {
		t.Errorf("expected %+v, got %+v", req, got)
	}

	if err := Decode(&domain.Message{Topic: "x", Payload: []byte("{")}, &got); err == nil {
		t.Error("expected decode error")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		cfg := domain.EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 50,
		}

		bus, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{Type: "kafka"})
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != messageCount {
			t.Errorf("expected %d messages, got %d", messageCount, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}

func TestChannelBusDropsWhenQueueFull(t *testing.T) {
	b := NewChannelBus(1)
	defer b.Close()
	ctx := context.Background()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	_, err := b.Subscribe(ctx, "slow", func(ctx context.Context, msg *domain.Message) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	_ = b.Publish(ctx, "slow", []byte("1"))
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}

	_ = b.Publish(ctx, "slow", []byte("2")) // fills the queue
	_ = b.Publish(ctx, "slow", []byte("3")) // dropped
	close(release)

	if got := b.Dropped(); got != 1 {
		t.Errorf("expected 1 dropped message, got %d", got)
	}
}
