package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/service"
)

// stack is every backend the commands share.
type stack struct {
	repo    *repository.SQLRepository
	cache   domain.Cache
	bus     domain.EventBus
	metrics *metrics.Metrics
	svc     *service.Service
}

// openStack wires repository, cache, event bus and service from cfg.
// Callers must Close the stack.
func openStack(ctx context.Context, cfg *domain.Config) (*stack, error) {
	s := &stack{metrics: metrics.New()}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	s.repo = repo
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	c, err := cache.New(cfg.Cache)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	s.cache = c
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	b, err := bus.New(cfg.EventBus)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	s.bus = b
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	svc, err := service.New(cfg, service.Deps{
		Graph:   repo,
		History: repo,
		Cache:   c,
		Bus:     b,
		Metrics: s.metrics,
		Logger:  slog.Default(),
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize service: %w", err)
	}
	s.svc = svc
	svc.Warm(ctx)
	return s, nil
}

// Close releases backends in reverse order of creation.
func (s *stack) Close() {
	if s.bus != nil {
		s.bus.Close()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.repo != nil {
		s.repo.Close()
	}
}
