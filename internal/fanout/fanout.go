// Package fanout implements a bounded-wait scatter/gather over item ids.
//
// FetchMany dispatches one fetch per id and collects whatever succeeded until
// either every fetch reported or the timeout elapsed. Stragglers are never
// cancelled: they finish on their own and their results are dropped.
package fanout

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// DefaultTimeout bounds the wait of a single FetchMany call
const DefaultTimeout = 60 * time.Second

// FetchFunc retrieves a single value by id
type FetchFunc[T any] func(ctx context.Context, id int64) (T, error)

// Observer is notified about collected fetches and finished calls
type Observer interface {
	Fetched(id int64, err error)
	Finished(dispatched, collected int, elapsed time.Duration, timedOut bool)
}

// Fetcher runs FetchFunc concurrently for a set of ids
type Fetcher[T any] struct {
	fetch    FetchFunc[T]
	timeout  time.Duration
	slots    *semaphore.Weighted
	observer Observer
}

// Option customizes a Fetcher
type Option func(*config)

type config struct {
	timeout     time.Duration
	maxInFlight int64
	observer    Observer
}

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxInFlight caps the number of fetches running at once across all
// calls of the Fetcher. Zero leaves concurrency bounded by the number of ids.
func WithMaxInFlight(n int) Option {
	return func(c *config) { c.maxInFlight = int64(n) }
}

// WithObserver registers an observer
func WithObserver(o Observer) Option {
	return func(c *config) { c.observer = o }
}

// New creates a Fetcher around fetch
func New[T any](fetch FetchFunc[T], opts ...Option) *Fetcher[T] {
	cfg := config{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.timeout <= 0 {
		cfg.timeout = DefaultTimeout
	}
	f := &Fetcher[T]{
		fetch:    fetch,
		timeout:  cfg.timeout,
		observer: cfg.observer,
	}
	if cfg.maxInFlight > 0 {
		f.slots = semaphore.NewWeighted(cfg.maxInFlight)
	}
	return f
}

// Timeout returns the bounded wait of FetchMany
func (f *Fetcher[T]) Timeout() time.Duration {
	return f.timeout
}

type outcome[T any] struct {
	id    int64
	value T
	err   error
}

// FetchMany fetches every id concurrently and returns the successful results
// collected before the timeout. Individual failures are swallowed. The order
// of the result is unspecified. Cancelling ctx does not abort dispatched
// fetches.
func (f *Fetcher[T]) FetchMany(ctx context.Context, ids []int64) []T {
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()
	deadline := time.NewTimer(f.timeout)
	defer deadline.Stop()

	fetchCtx := context.WithoutCancel(ctx)
	// only tasks still waiting for a slot are abandoned when collection ends
	slotCtx, abandon := context.WithCancel(fetchCtx)
	defer abandon()

	// buffered to len(ids): late senders never block
	results := make(chan outcome[T], len(ids))
	for _, id := range ids {
		go func() {
			if f.slots != nil {
				if err := f.slots.Acquire(slotCtx, 1); err != nil {
					results <- outcome[T]{id: id, err: err}
					return
				}
				defer f.slots.Release(1)
			}
			value, err := f.fetch(fetchCtx, id)
			results <- outcome[T]{id: id, value: value, err: err}
		}()
	}

	collected := make([]T, 0, len(ids))
	pending := len(ids)
	timedOut := false
	for pending > 0 && !timedOut {
		select {
		case r := <-results:
			pending--
			if f.observer != nil {
				f.observer.Fetched(r.id, r.err)
			}
			if r.err != nil {
				logrus.WithError(r.err).WithField("id", r.id).Debug("Fetch failed, skipping")
				continue
			}
			collected = append(collected, r.value)
		case <-deadline.C:
			timedOut = true
		}
	}

	elapsed := time.Since(start)
	if timedOut {
		logrus.WithFields(logrus.Fields{
			"dispatched": len(ids),
			"collected":  len(collected),
			"pending":    pending,
			"timeout":    f.timeout,
		}).Warn("Fan-out timed out, returning partial results")
	}
	if f.observer != nil {
		f.observer.Finished(len(ids), len(collected), elapsed, timedOut)
	}
	return collected
}
