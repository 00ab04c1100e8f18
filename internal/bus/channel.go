package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultChannelBuffer = 1000

// ChannelBus is the in-process bus of the Community tier. Each subscription
// owns a buffered queue drained by one goroutine, so a subscriber sees its
// topic in publish order. A full queue drops the message rather than block
// the publisher.
type ChannelBus struct {
	depth  int
	logger *slog.Logger

	mu     sync.RWMutex
	topics map[string]map[*chanSub]struct{}
	closed bool

	dropped atomic.Uint64
}

type chanSub struct {
	owner   *ChannelBus
	topic   string
	handler domain.MessageHandler
	queue   chan *domain.Message
	stop    context.CancelFunc
}

// NewChannelBus returns a bus whose subscriptions buffer up to depth
// messages each. Non-positive depths fall back to 1000.
func NewChannelBus(depth int) *ChannelBus {
	if depth <= 0 {
		depth = defaultChannelBuffer
	}
	return &ChannelBus{
		depth:  depth,
		logger: slog.Default().With("component", "bus", "bus", "channel"),
		topics: make(map[string]map[*chanSub]struct{}),
	}
}

func (b *ChannelBus) Publish(_ context.Context, topic string, payload []byte) error {
	msg := &domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UnixNano(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for s := range b.topics[topic] {
		select {
		case s.queue <- msg:
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber queue full, message dropped", "topic", topic, "message_id", msg.ID)
		}
	}
	return nil
}

func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	runCtx, stop := context.WithCancel(ctx)
	s := &chanSub{
		owner:   b,
		topic:   topic,
		handler: handler,
		queue:   make(chan *domain.Message, b.depth),
		stop:    stop,
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*chanSub]struct{})
	}
	b.topics[topic][s] = struct{}{}
	go s.drain(runCtx)
	return s, nil
}

func (s *chanSub) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			if err := s.handler(ctx, msg); err != nil {
				s.owner.logger.Error("handler failed", "topic", s.topic, "message_id", msg.ID, "error", err)
			}
		}
	}
}

func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription and discards what is still queued.
// Closing twice is a no-op.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for s := range subs {
			s.stop()
		}
	}
	clear(b.topics)
	return nil
}

// Dropped counts messages lost to full subscriber queues.
func (b *ChannelBus) Dropped() uint64 {
	return b.dropped.Load()
}

func (s *chanSub) Unsubscribe() error {
	s.stop()
	b := s.owner
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs := b.topics[s.topic]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.topics, s.topic)
		}
	}
	return nil
}

func (s *chanSub) Topic() string { return s.topic }
