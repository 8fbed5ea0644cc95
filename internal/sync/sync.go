package sync

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/feed_mirror/internal/fanout"
	"github.com/cybertec-postgresql/feed_mirror/internal/metrics"
	"github.com/cybertec-postgresql/feed_mirror/internal/source"
)

// Service runs catch-up and reconciliation sequentially on a fixed tick
type Service struct {
	catchUp         *CatchUp
	reconciler      *Reconciler
	pollingInterval time.Duration
}

// ServiceOption customizes a Service
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	metrics  *metrics.Metrics
	previous []int64
}

// WithMetrics records engine metrics
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(o *serviceOptions) { o.metrics = m }
}

// WithPreviousChanges seeds the reconciler with an earlier change set observation
func WithPreviousChanges(ids []int64) ServiceOption {
	return func(o *serviceOptions) { o.previous = ids }
}

// NewService creates a new synchronization service
func NewService(src Source, items ItemStore, cursor Cursor, cfg Config, opts ...ServiceOption) *Service {
	cfg = cfg.withDefaults()
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}

	fetcher := fanout.New(src.FetchItem,
		fanout.WithTimeout(cfg.FetchTimeout),
		fanout.WithMaxInFlight(cfg.MaxInFlight),
		fanout.WithObserver(fetchObserver{metrics: o.metrics}),
	)

	catchUp := NewCatchUp(src, fetcher, items, cursor, cfg.BatchSize)
	catchUp.metrics = o.metrics
	reconciler := NewReconciler(src, fetcher, items, o.previous)
	reconciler.metrics = o.metrics

	return &Service{
		catchUp:         catchUp,
		reconciler:      reconciler,
		pollingInterval: cfg.PollingInterval,
	}
}

// Start runs the loop until ctx is cancelled. It waits one polling interval,
// catches up, reconciles and starts over. Only cancellation ends the loop.
func (s *Service) Start(ctx context.Context) error {
	logrus.WithField("polling_interval", s.pollingInterval).Info("Starting feed synchronization")

	wait := time.NewTimer(s.pollingInterval)
	defer wait.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Synchronization stopped due to context cancellation")
			return ctx.Err()
		case <-wait.C:
		}

		if s.Tick(ctx) == Stopped {
			logrus.Info("Synchronization stopped during catch-up")
			return ctx.Err()
		}
		wait.Reset(s.pollingInterval)
	}
}

// Tick runs catch-up and, unless it was asked to stop, one reconciliation pass
func (s *Service) Tick(ctx context.Context) Outcome {
	result := s.catchUp.Run(ctx)
	if result.Outcome == Stopped {
		return Stopped
	}
	if _, err := s.reconciler.Reconcile(ctx); err != nil {
		logrus.WithError(err).WithField("component", "reconciler").Warn("Change reconciliation failed")
	}
	return result.Outcome
}

// fetchObserver maps fan-out events onto metrics
type fetchObserver struct {
	metrics *metrics.Metrics
}

func (o fetchObserver) Fetched(_ int64, err error) {
	switch {
	case err == nil:
		o.metrics.FetchDone(metrics.ResultOK)
	case errors.Is(err, source.ErrMalformed):
		o.metrics.FetchDone(metrics.ResultMalformed)
	default:
		o.metrics.FetchDone(metrics.ResultNetwork)
	}
}

func (o fetchObserver) Finished(_, _ int, elapsed time.Duration, timedOut bool) {
	o.metrics.FanoutDone(elapsed, timedOut)
}
