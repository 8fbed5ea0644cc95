package sync

import (
	"context"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/feed_mirror/internal/fanout"
	"github.com/cybertec-postgresql/feed_mirror/internal/metrics"
	"github.com/cybertec-postgresql/feed_mirror/internal/source"
)

// Reconciler refreshes items the feed reports as recently changed. It keeps
// the last observed change set and only re-fetches when the set differs.
type Reconciler struct {
	source   Source
	fetcher  *fanout.Fetcher[source.Item]
	items    ItemStore
	previous []int64
	metrics  *metrics.Metrics
}

// NewReconciler creates a reconciler seeded with a previous observation, nil for none
func NewReconciler(src Source, fetcher *fanout.Fetcher[source.Item], items ItemStore, previous []int64) *Reconciler {
	return &Reconciler{
		source:   src,
		fetcher:  fetcher,
		items:    items,
		previous: Canonical(previous),
	}
}

// Previous returns the last change set that was successfully applied
func (r *Reconciler) Previous() []int64 {
	return slices.Clone(r.previous)
}

// Reconcile runs one pass. It reports whether items were re-fetched and
// written. On error the previous observation is kept, so the same set is
// retried on the next pass.
func (r *Reconciler) Reconcile(ctx context.Context) (bool, error) {
	ids, err := r.source.FetchChangedIDs(ctx)
	if err != nil {
		r.metrics.ReconcileDone(metrics.ReconcileSourceFailed)
		return false, fmt.Errorf("failed to fetch changed ids: %w", err)
	}

	current := Canonical(ids)
	if slices.Equal(current, r.previous) {
		r.metrics.ReconcileDone(metrics.ReconcileUnchanged)
		return false, nil
	}

	// the whole set is re-fetched: an id can stay listed while its content changes
	items := r.fetcher.FetchMany(ctx, current)
	if err := r.items.UpdateItems(context.WithoutCancel(ctx), items); err != nil {
		r.metrics.ReconcileDone(metrics.ReconcileStoreFailed)
		return false, fmt.Errorf("failed to update %d changed items: %w", len(items), err)
	}

	r.previous = current
	r.metrics.ReconcileDone(metrics.ReconcileUpdated)
	logrus.WithFields(logrus.Fields{
		"component": "reconciler",
		"changed":   len(current),
		"updated":   len(items),
	}).Info("Refreshed recently changed items")
	return true, nil
}

// Canonical returns the sorted, de-duplicated form of a change set
func Canonical(ids []int64) []int64 {
	c := slices.Clone(ids)
	slices.Sort(c)
	return slices.Compact(c)
}
