// Package worker rebuilds snapshots asynchronously when a recompute request
// arrives on the event bus.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Recomputer rebuilds the snapshots named by scope.
type Recomputer interface {
	Recompute(ctx context.Context, scope string) error
}

// Worker consumes recompute requests from the EventBus.
type Worker struct {
	bus     domain.EventBus
	target  Recomputer
	metrics *metrics.Metrics
	logger  *slog.Logger

	// mu guards stopped and subscriptions, and orders inFlight.Add before
	// Stop's Wait.
	mu            sync.Mutex
	stopped       bool
	subscriptions []domain.Subscription
	inFlight      sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a worker that drives target. m may be nil.
func NewWorker(b domain.EventBus, target Recomputer, m *metrics.Metrics, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     b,
		target:  target,
		metrics: m,
		logger:  logger.With("component", "worker"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ErrStopped is returned by Start once Stop has been called.
var ErrStopped = errors.New("worker stopped")

// Start subscribes to recompute requests.
func (w *Worker) Start() error {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRecomputeRequested, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	w.logger.Info("worker started", "topic", domain.TopicRecomputeRequested)
	return nil
}

// handleMessage runs one request to completion; requests are handled in
// arrival order.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	if !w.admit() {
		w.logger.Debug("dropping request received after stop", "message_id", msg.ID)
		return nil
	}
	defer w.inFlight.Done()

	var req domain.RecomputeRequest
	if err := bus.Decode(msg, &req); err != nil {
		w.logger.Error("failed to parse recompute request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.Scope == "" {
		req.Scope = domain.ScopeAll
	}

	start := time.Now()
	w.logger.Debug("processing recompute request",
		"request_id", req.ID,
		"scope", req.Scope,
	)

	err := w.target.Recompute(ctx, req.Scope)
	w.metrics.ObserveRecompute(req.Scope, err)
	if err != nil {
		w.logger.Error("recompute failed",
			"request_id", req.ID,
			"scope", req.Scope,
			"error", err,
		)
		return err
	}

	w.logger.Info("recompute completed",
		"request_id", req.ID,
		"scope", req.Scope,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// admit registers one in-flight request unless the worker is stopping.
func (w *Worker) admit() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	w.inFlight.Add(1)
	return true
}

// Stop unsubscribes and waits for the in-flight request to finish. Requests
// delivered afterwards are dropped.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	w.stopped = true
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.inFlight.Wait()

	w.logger.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
