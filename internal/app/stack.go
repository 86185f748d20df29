package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jaennil/guide_helper/backend/mapviewer/internal/provider"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/scheduler"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/tilefactory"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/config"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
)

// TileStack is the provider, cache chain, scheduler and factory built from
// one config. Both the http service and the prefetch command use it.
type TileStack struct {
	Provider  provider.Provider
	Chain     *cache.Chain
	Scheduler *scheduler.Scheduler
	Factory   *tilefactory.Factory

	closeTiers func() error
	logger     logger.Logger
}

func NewTileStack(cfg *config.Config, l logger.Logger) (*TileStack, error) {
	p, err := provider.FromConfig(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	tiers, closeTiers, err := cache.NewDurableTiers(cfg.Cache, cfg.Redis, l)
	if err != nil {
		return nil, fmt.Errorf("durable cache: %w", err)
	}

	chain, err := cache.NewChain(cfg.Cache.MemoryCapacity, l, tiers...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("memory cache: %w", err), closeTiers())
	}

	sched := scheduler.New(
		scheduler.NewHTTPFetcher(cfg.Fetch.UserAgent, cfg.Fetch.Timeout),
		scheduler.Config{
			Workers:       cfg.Fetch.Workers,
			QueueCapacity: cfg.Fetch.QueueCapacity,
			Retry:         scheduler.ConstantRetryPolicy(cfg.Fetch.Attempts, cfg.Fetch.Backoff),
		},
		l,
	)

	factory, err := tilefactory.New(p, chain, sched, tilefactory.Config{
		PromoteOnDurableHit: cfg.Cache.PromoteOnDurableHit,
		RetryAfter:          cfg.Fetch.RetryAfter,
	}, l)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("tile factory: %w", err), closeTiers())
	}

	l.Info("tile stack ready",
		"provider", p.Name,
		"tiers", chain.Tiers(),
		"workers", cfg.Fetch.Workers,
	)

	return &TileStack{
		Provider:   p,
		Chain:      chain,
		Scheduler:  sched,
		Factory:    factory,
		closeTiers: closeTiers,
		logger:     l,
	}, nil
}

// Close stops the scheduler, writes resident tiles to the durable tier and
// closes it. Fetches still running when ctx expires are cancelled.
func (s *TileStack) Close(ctx context.Context) error {
	var errs []error

	if err := s.Scheduler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
	}

	written, err := s.Factory.Flush()
	if err != nil {
		errs = append(errs, fmt.Errorf("flush memory cache: %w", err))
	}
	s.logger.Info("memory cache flushed", "written", written)

	if err := s.closeTiers(); err != nil {
		errs = append(errs, fmt.Errorf("close durable cache: %w", err))
	}

	return errors.Join(errs...)
}
