// Package service owns the last-good reconciliation and risk snapshots and
// the side effects around each run: persistence, caching, metrics and events.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/reconcile"
	"github.com/opensource-finance/kestrel/internal/risk"
)

var (
	ErrVendorNotFound = errors.New("vendor not found")
	ErrInvalidScope   = errors.New("invalid recompute scope")
	ErrNoBus          = errors.New("event bus not configured")
	// ErrGraphUnsupported means the configured store cannot answer graph
	// browsing queries.
	ErrGraphUnsupported = errors.New("graph queries not supported by store")
)

// Snapshot cache keys.
const (
	reconciliationKey = "snapshot:reconciliation"
	riskKey           = "snapshot:risk"
	eligibilityPrefix = "eligibility:"
)

// TopVendors is how many vendors the dashboard lists.
const TopVendors = 5

// StatsSource is implemented by stores that can count graph entities.
type StatsSource interface {
	GraphStats(ctx context.Context) (*domain.GraphStats, error)
}

// SubgraphSource is implemented by stores that can walk a taxpayer's
// direct neighbourhood.
type SubgraphSource interface {
	Subgraph(ctx context.Context, taxpayerID string, limit int) (*domain.Subgraph, error)
}

// Deps are the collaborators a Service needs. Only Graph is required.
type Deps struct {
	Graph   domain.GraphStore
	History domain.HistoryStore
	Cache   domain.Cache
	Bus     domain.EventBus
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Service serves reconciliation and risk results from atomically swapped
// snapshots and recomputes them on demand.
type Service struct {
	graph   domain.GraphStore
	history domain.HistoryStore
	cache   domain.Cache
	bus     domain.EventBus
	metrics *metrics.Metrics
	logger  *slog.Logger

	reconciler *reconcile.Reconciler
	scorer     *risk.Scorer

	recon *cache.Snapshot[domain.ReconciliationRun]
	risk  *cache.Snapshot[domain.RiskRun]
	model atomic.Pointer[risk.Model]

	eligibilityTTL time.Duration
	alertTiers     map[domain.RiskTier]bool

	// serialise recomputes of the same kind
	reconMu sync.Mutex
	riskMu  sync.Mutex
}

// New wires the engines from cfg.
func New(cfg *domain.Config, deps Deps) (*Service, error) {
	if deps.Graph == nil {
		return nil, errors.New("graph store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tolerance := reconcile.DefaultTolerance
	if cfg.Reconciliation.Tolerance != "" {
		t, err := decimal.NewFromString(cfg.Reconciliation.Tolerance)
		if err != nil {
			return nil, fmt.Errorf("invalid reconciliation tolerance %q: %w", cfg.Reconciliation.Tolerance, err)
		}
		if t.IsNegative() {
			return nil, fmt.Errorf("invalid reconciliation tolerance %q: must not be negative", cfg.Reconciliation.Tolerance)
		}
		tolerance = t
	}

	rules, err := risk.NewRuleScorer(risk.DefaultRules(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to compile risk rules: %w", err)
	}

	train := risk.DefaultTrainOptions()
	if cfg.Risk.Trees > 0 {
		train.Trees = cfg.Risk.Trees
	}
	if cfg.Risk.MaxDepth > 0 {
		train.MaxDepth = cfg.Risk.MaxDepth
	}
	if cfg.Risk.Seed != 0 {
		train.Seed = cfg.Risk.Seed
	}
	train.Workers = cfg.Risk.Workers

	s := &Service{
		graph:   deps.Graph,
		history: deps.History,
		cache:   deps.Cache,
		bus:     deps.Bus,
		metrics: deps.Metrics,
		logger:  logger.With("component", "service"),
		reconciler: reconcile.NewReconciler(deps.Graph, reconcile.Options{
			Tolerance:   &tolerance,
			CompareIGST: cfg.Reconciliation.CompareIGST,
			Workers:     cfg.Reconciliation.Workers,
			Logger:      logger,
		}),
		scorer: risk.NewScorer(deps.Graph, rules, risk.ScorerOptions{
			ExpectedPeriods:       cfg.Risk.ExpectedPeriods,
			Workers:               cfg.Risk.Workers,
			Train:                 train,
			DegreeMean:            cfg.Risk.DegreeMean,
			DegreeStd:             cfg.Risk.DegreeStd,
			PopulationDegreeStats: cfg.Risk.PopulationDegreeStats,
			Logger:                logger,
		}),
		recon:          cache.NewSnapshot[domain.ReconciliationRun](reconciliationKey, deps.Cache),
		risk:           cache.NewSnapshot[domain.RiskRun](riskKey, deps.Cache),
		eligibilityTTL: cfg.Reconciliation.EligibilityTTL,
		alertTiers:     make(map[domain.RiskTier]bool),
	}
	for _, t := range cfg.Risk.AlertTiers {
		s.alertTiers[t] = true
	}
	s.reconciler.Cycles().OnFailure = func(error) { s.metrics.ObserveCycleFailure() }
	return s, nil
}

// Warm restores mirrored snapshots and the last persisted model so a fresh
// replica can serve reads before its first recompute.
func (s *Service) Warm(ctx context.Context) {
	if ok, err := s.recon.Restore(ctx); err != nil {
		s.logger.Warn("failed to restore reconciliation snapshot", "error", err)
	} else if ok {
		s.logger.Info("reconciliation snapshot restored")
	}
	if ok, err := s.risk.Restore(ctx); err != nil {
		s.logger.Warn("failed to restore risk snapshot", "error", err)
	} else if ok {
		s.logger.Info("risk snapshot restored")
	}

	if s.history == nil {
		return
	}
	art, err := s.history.LatestModelArtifact(ctx)
	if err != nil {
		s.logger.Debug("no persisted model loaded", "error", err)
		return
	}
	m, err := risk.LoadArtifact(art)
	if err != nil {
		s.logger.Warn("persisted model rejected", "error", err)
		return
	}
	s.model.CompareAndSwap(nil, m)
	s.logger.Info("model restored", "version", m.Version)
}

// Model returns the most recently trained model, or nil.
func (s *Service) Model() *risk.Model {
	return s.model.Load()
}

// Ping checks every configured backend.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.graph.Ping(ctx); err != nil {
		return fmt.Errorf("graph store: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	if s.bus != nil {
		if err := s.bus.Ping(ctx); err != nil {
			return fmt.Errorf("event bus: %w", err)
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, topic string, v any) {
	if s.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, s.bus, topic, v); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func (s *Service) cacheGet(ctx context.Context, key string, v any) bool {
	if s.cache == nil {
		return false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", "key", key, "error", err)
		return false
	}
	hit := data != nil && json.Unmarshal(data, v) == nil
	s.metrics.ObserveCacheLookup(hit)
	return hit
}

func (s *Service) cacheSet(ctx context.Context, key string, v any, ttl time.Duration) {
	if s.cache == nil || ttl <= 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, ttl); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func newRequestID() string {
	return uuid.New().String()
}
