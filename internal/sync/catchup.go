package sync

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/feed_mirror/internal/fanout"
	"github.com/cybertec-postgresql/feed_mirror/internal/metrics"
	"github.com/cybertec-postgresql/feed_mirror/internal/source"
)

// Outcome summarizes a catch-up invocation
type Outcome int

const (
	// NoProgress means the high-water mark did not move
	NoProgress Outcome = iota
	// Progressed means at least one batch advanced the high-water mark
	Progressed
	// Stopped means the context was cancelled between batches
	Stopped
)

func (o Outcome) String() string {
	switch o {
	case NoProgress:
		return "no_progress"
	case Progressed:
		return "progressed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CatchUpResult reports what a catch-up invocation did
type CatchUpResult struct {
	Outcome Outcome
	From    int64 // high-water mark read at start
	To      int64 // high-water mark after the last advanced batch
	Batches int
}

// CatchUp drives the high-water mark towards the remote max id in fixed-size batches
type CatchUp struct {
	source    Source
	fetcher   *fanout.Fetcher[source.Item]
	items     ItemStore
	cursor    Cursor
	batchSize int64
	metrics   *metrics.Metrics
}

// NewCatchUp creates a catch-up engine
func NewCatchUp(src Source, fetcher *fanout.Fetcher[source.Item], items ItemStore, cursor Cursor, batchSize int64) *CatchUp {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &CatchUp{
		source:    src,
		fetcher:   fetcher,
		items:     items,
		cursor:    cursor,
		batchSize: batchSize,
	}
}

// Run catches up once. Failures are logged and end the invocation without
// advancing past the failed range; the next invocation retries from the
// stored high-water mark.
func (c *CatchUp) Run(ctx context.Context) CatchUpResult {
	logger := logrus.WithField("component", "catchup")

	remoteMax, err := c.source.CurrentMaxID(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to read remote max item id")
		return CatchUpResult{Outcome: NoProgress}
	}

	localMax, err := c.cursor.ReadHighWaterMark(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to read high-water mark")
		return CatchUpResult{Outcome: NoProgress}
	}

	result := CatchUpResult{Outcome: NoProgress, From: localMax, To: localMax}
	if localMax >= remoteMax {
		if localMax > remoteMax {
			logger.WithFields(logrus.Fields{
				"local_max":  localMax,
				"remote_max": remoteMax,
			}).Debug("Remote max id is behind the high-water mark, ignoring")
		}
		return result
	}

	logger.WithFields(logrus.Fields{
		"local_max":  localMax,
		"remote_max": remoteMax,
	}).Debug("Catching up")

	for localMax < remoteMax {
		next := min(localMax+c.batchSize, remoteMax)
		if !c.runBatch(ctx, localMax+1, next) {
			return result
		}
		localMax = next
		result.To = next
		result.Batches++
		result.Outcome = Progressed

		if ctx.Err() != nil {
			logger.WithField("high_water_mark", localMax).Info("Catch-up asked to stop")
			result.Outcome = Stopped
			return result
		}
	}
	return result
}

// runBatch fetches ids from..to, writes them and only then advances the mark
func (c *CatchUp) runBatch(ctx context.Context, from, to int64) bool {
	logger := logrus.WithFields(logrus.Fields{
		"component": "catchup",
		"from":      from,
		"to":        to,
	})

	ids := idRange(from, to)
	items := c.fetcher.FetchMany(ctx, ids)
	c.reportMissing(logger, ids, items)

	// the batch in progress drains even if a stop was requested meanwhile
	writeCtx := context.WithoutCancel(ctx)
	if err := c.items.UpsertItems(writeCtx, items); err != nil {
		logger.WithError(err).Error("Failed to store batch, high-water mark not advanced")
		c.metrics.BatchDone(metrics.BatchStoreFailed)
		return false
	}
	if err := c.cursor.WriteHighWaterMark(writeCtx, to); err != nil {
		logger.WithError(err).Error("Failed to advance high-water mark")
		c.metrics.BatchDone(metrics.BatchStoreFailed)
		return false
	}

	c.metrics.BatchDone(metrics.BatchAdvanced)
	c.metrics.Advanced(to)
	logger.WithField("count", len(items)).Info("Batch stored, high-water mark advanced")
	return true
}

const maxLoggedMissing = 10

func (c *CatchUp) reportMissing(logger *logrus.Entry, ids []int64, items []source.Item) {
	if len(items) == len(ids) {
		return
	}
	got := make(map[int64]struct{}, len(items))
	for _, item := range items {
		got[item.ID] = struct{}{}
	}
	var missing []int64
	for _, id := range ids {
		if _, ok := got[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return
	}
	c.metrics.Missing(len(missing))
	logged := missing
	if len(logged) > maxLoggedMissing {
		logged = logged[:maxLoggedMissing]
	}
	logger.WithFields(logrus.Fields{
		"missing": len(missing),
		"ids":     logged,
	}).Warn("Items missing from batch, they are only picked up again if they show up as changed")
}

func idRange(from, to int64) []int64 {
	if to < from {
		return nil
	}
	ids := make([]int64, 0, to-from+1)
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return ids
}
