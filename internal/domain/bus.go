package domain

import (
	"context"
)

// EventBus moves recompute requests and run notifications between
// processes. The channel bus serves a single process and NATS serves a
// fleet of replicas.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe delivers every later message on topic to handler until the
	// returned subscription is cancelled or the bus closes.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler errors are logged by the bus and never redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is one delivered event. Payload is the JSON-encoded event body.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"` // unix nanos at publish
}

type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects the bus implementation.
type EventBusConfig struct {
	// "channel" or "nats"
	Type string `mapstructure:"type"`

	// Per-subscriber queue depth for the channel bus.
	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds
}

// Topic names for the recompute pipeline.
const (
	TopicRecomputeRequested     = "kestrel.recompute.requested"
	TopicReconciliationComplete = "kestrel.reconciliation.completed"
	TopicRiskComputed           = "kestrel.risk.computed"
	TopicVendorFlagged          = "kestrel.vendor.flagged"
)

// Recompute scopes.
const (
	ScopeReconciliation = "reconciliation"
	ScopeRisk           = "risk"
	ScopeAll            = "all"
)

// RecomputeRequest asks workers to rebuild snapshots.
type RecomputeRequest struct {
	ID    string `json:"id"`
	Scope string `json:"scope"`
}

// RunCompletedEvent announces a finished reconciliation or risk run.
type RunCompletedEvent struct {
	RunID      string `json:"runId"`
	Kind       string `json:"kind"`
	Items      int    `json:"items"`
	DurationMs int64  `json:"durationMs"`
}

// VendorFlaggedEvent announces a vendor whose tier warrants review.
type VendorFlaggedEvent struct {
	RunID          string   `json:"runId"`
	VendorID       string   `json:"vendorId"`
	LegalName      string   `json:"legalName"`
	RiskTier       RiskTier `json:"riskTier"`
	CompositeScore float64  `json:"compositeScore"`
}
