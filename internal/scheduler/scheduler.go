package scheduler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jaennil/guide_helper/backend/mapviewer/internal/tile"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/logger"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/metrics"
	"github.com/jaennil/guide_helper/backend/mapviewer/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrFetchPanic = errors.New("tile fetch panicked")

type Config struct {
	Workers       int
	QueueCapacity int
	Retry         RetryPolicy
}

// FetchOutcome is the result of a single fetch attempt.
type FetchOutcome struct {
	Image             image.Image
	Data              []byte
	Err               error
	AttemptsRemaining int
	Duration          time.Duration
}

// Scheduler pulls tiles off a priority queue and fetches them with a small
// worker pool, one worker by default. Workers start on first use and run
// until Shutdown.
type Scheduler struct {
	queue   *Queue
	fetcher Fetcher
	cfg     Config
	logger  logger.Logger
	tracer  trace.Tracer

	startOnce sync.Once
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(fetcher Fetcher, cfg Config, l logger.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		queue:   NewQueue(cfg.QueueCapacity),
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger.OrNoOp(l),
		tracer:  telemetry.Tracer(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. It is safe to call more than once.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting fetch workers", "workers", s.cfg.Workers, "attempts", s.cfg.Retry.attempts())
		for i := 0; i < s.cfg.Workers; i++ {
			s.wg.Add(1)
			go s.worker(i)
		}
	})
}

// Enqueue schedules t at its current priority.
func (s *Scheduler) Enqueue(t *tile.Tile) error {
	s.Start()

	err := s.queue.Push(t, t.Priority())
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", t.URL(), err)
	}

	metrics.TileRequests.WithLabelValues(t.Priority().String()).Inc()
	return nil
}

// Promote raises a queued low priority tile to high priority. Tiles already
// high or in flight are left alone.
func (s *Scheduler) Promote(t *tile.Tile) bool {
	promoted := s.queue.Promote(t)
	if promoted {
		s.logger.Debug("tile promoted", "url", t.URL())
	}
	return promoted
}

// Cancel removes a tile that has not been picked up yet.
func (s *Scheduler) Cancel(t *tile.Tile) bool {
	return s.queue.Remove(t)
}

func (s *Scheduler) IsQueued(t *tile.Tile) bool {
	return s.queue.Contains(t)
}

func (s *Scheduler) Pending() int {
	return s.queue.Len()
}

// Shutdown stops intake and waits for the workers to drain the queue. When
// ctx expires first, in-flight fetches are cancelled.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.queue.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("fetch workers stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		s.logger.Warn("fetch workers cancelled", "pending", s.queue.Len())
		return ctx.Err()
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		t, err := s.queue.Pop(s.ctx)
		if err != nil {
			s.logger.Debug("fetch worker exiting", "worker", id, "reason", err)
			return
		}
		s.process(t)
	}
}

// process runs the retry loop for one tile. It never panics and never
// returns an error so one tile cannot stop the worker.
func (s *Scheduler) process(t *tile.Tile) {
	defer t.SetLoading(false)

	url := t.URL()
	attempts := s.cfg.Retry.attempts()
	b := s.cfg.Retry.backOff()

	var lastErr error
	for remaining := attempts; remaining > 0; {
		out := s.attempt(t, remaining)
		remaining = out.AttemptsRemaining

		if out.Err == nil {
			t.Complete(out.Image, out.Data)
			s.logger.Debug("tile loaded", "url", url, "size", len(out.Data), "duration", out.Duration)
			return
		}

		lastErr = out.Err
		metrics.FetchFailures.WithLabelValues("attempt").Inc()
		s.logger.Warn("tile fetch attempt failed", "url", url, "remaining", remaining, "error", out.Err)

		if remaining == 0 {
			break
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-s.ctx.Done():
				timer.Stop()
				lastErr = s.ctx.Err()
				remaining = 0
			}
		}
	}

	metrics.FetchFailures.WithLabelValues("exhausted").Inc()
	t.Fail(fmt.Errorf("fetch %s failed after %d attempts: %w", url, attempts, lastErr))
	s.logger.Error("tile fetch exhausted", "url", url, "attempts", attempts, "error", lastErr)
}

func (s *Scheduler) attempt(t *tile.Tile, remaining int) FetchOutcome {
	ctx, span := s.tracer.Start(s.ctx, "tile.fetch",
		trace.WithAttributes(
			attribute.String("tile.url", t.URL()),
			attribute.Int("tile.zoom", t.Zoom()),
			attribute.Int("fetch.attempts_remaining", remaining),
		),
	)
	defer span.End()

	metrics.FetchAttempts.Inc()
	out := attemptFetch(ctx, s.fetcher, t.URL(), remaining)
	metrics.FetchLatency.Observe(out.Duration.Seconds())

	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return out
}

// attemptFetch performs one attempt. A panic inside the fetcher, for
// example while decoding a hostile image, becomes the attempt's error.
func attemptFetch(ctx context.Context, f Fetcher, url string, attemptsRemaining int) (out FetchOutcome) {
	out.AttemptsRemaining = attemptsRemaining - 1
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			out.Image = nil
			out.Data = nil
			out.Err = fmt.Errorf("%w: %v", ErrFetchPanic, r)
		}
		out.Duration = time.Since(start)
	}()

	out.Image, out.Data, out.Err = f.Fetch(ctx, url)
	return out
}
