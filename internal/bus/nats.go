package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Envelope fields travel as NATS headers so the body stays the raw JSON
// event and non-Go consumers can read it without unwrapping.
const (
	headerMsgID     = "Kestrel-Msg-Id"
	headerPublished = "Kestrel-Published"
	headerTraceID   = "Kestrel-Trace-Id"
)

// NATSBus carries events over NATS subjects named after the topic. The Pro
// tier uses it so a recompute request reaches every replica.
type NATSBus struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*natsSubscription]struct{}
}

type natsSubscription struct {
	owner *NATSBus
	topic string
	sub   *nats.Subscription
}

// NewNATSBus dials the configured server, retrying up to NATSMaxReconnects
// times before giving up. Once connected the client reconnects on its own.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = 10
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}
	logger := slog.Default().With("component", "bus", "bus", "nats")

	opts := []nats.Option{
		nats.Name("kestrel"),
		nats.MaxReconnects(attempts),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("disconnected", "error", err, "closed", nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			attrs := []any{"error", err}
			if sub != nil {
				attrs = append(attrs, "subject", sub.Subject)
			}
			logger.Error("async error", attrs...)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var (
		conn *nats.Conn
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if conn, err = nats.Connect(url, opts...); err == nil {
			break
		}
		logger.Warn("connect failed", "attempt", attempt, "of", attempts, "error", err)
		if attempt < attempts {
			time.Sleep(wait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	logger.Info("connected", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId())

	return &NATSBus{
		conn:   conn,
		logger: logger,
		subs:   make(map[*natsSubscription]struct{}),
	}, nil
}

// Publish sends payload on the subject named topic.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.conn.IsClosed() {
		return ErrClosed
	}
	if err := b.conn.PublishMsg(outgoing(ctx, topic, payload, time.Now())); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe runs handler for every message on topic. Handlers run on the
// subscription's own goroutine, so a topic is processed in publish order.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}
	s := &natsSubscription{owner: b, topic: topic}
	ns, err := b.conn.Subscribe(topic, func(m *nats.Msg) {
		msg := incoming(m)
		if err := handler(ctx, msg); err != nil {
			b.logger.Error("handler failed", "subject", m.Subject, "message_id", msg.ID, "error", err)
		}
	})
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	s.sub = ns

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats status %s", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drops all subscriptions and the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for s := range b.subs {
		_ = s.sub.Unsubscribe()
	}
	clear(b.subs)
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

func (s *natsSubscription) Unsubscribe() error {
	s.owner.mu.Lock()
	delete(s.owner.subs, s)
	s.owner.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string { return s.topic }

// outgoing builds the wire message for payload. The active span's trace id,
// if any, rides along so consumers can join the request's trace.
func outgoing(ctx context.Context, topic string, payload []byte, now time.Time) *nats.Msg {
	m := nats.NewMsg(topic)
	m.Data = payload
	m.Header.Set(headerMsgID, uuid.NewString())
	m.Header.Set(headerPublished, strconv.FormatInt(now.UnixNano(), 10))
	if sc := trace.SpanContextFromContext(ctx); sc.TraceID().IsValid() {
		m.Header.Set(headerTraceID, sc.TraceID().String())
	}
	return m
}

// incoming turns a wire message back into a domain message. Headers other
// than the envelope fields become metadata.
func incoming(m *nats.Msg) *domain.Message {
	msg := &domain.Message{
		Topic:    m.Subject,
		Payload:  m.Data,
		Metadata: make(map[string]string),
	}
	for k, vs := range m.Header {
		if len(vs) == 0 {
			continue
		}
		switch k {
		case headerMsgID:
			msg.ID = vs[0]
		case headerPublished:
			msg.Timestamp, _ = strconv.ParseInt(vs[0], 10, 64)
		default:
			msg.Metadata[k] = vs[0]
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return msg
}
