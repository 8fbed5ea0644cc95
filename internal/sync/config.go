// Package sync mirrors the remote item feed into the store.
package sync

import (
	"context"
	"time"

	"github.com/cybertec-postgresql/feed_mirror/internal/fanout"
	"github.com/cybertec-postgresql/feed_mirror/internal/source"
)

const (
	// DefaultBatchSize bounds the number of ids fetched concurrently by one catch-up batch
	DefaultBatchSize = 50
	// DefaultPollingInterval is the pause between two ticks of the run loop
	DefaultPollingInterval = time.Second
)

// Config represents the tunables of the sync engine
type Config struct {
	PollingInterval time.Duration
	FetchTimeout    time.Duration
	BatchSize       int64
	MaxInFlight     int
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		PollingInterval: DefaultPollingInterval,
		FetchTimeout:    fanout.DefaultTimeout,
		BatchSize:       DefaultBatchSize,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollingInterval <= 0 {
		c.PollingInterval = d.PollingInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxInFlight < 0 {
		c.MaxInFlight = 0
	}
	return c
}

// Source is the remote item feed
type Source interface {
	CurrentMaxID(ctx context.Context) (int64, error)
	FetchItem(ctx context.Context, id int64) (source.Item, error)
	FetchChangedIDs(ctx context.Context) ([]int64, error)
}

// ItemStore persists mirrored items keyed by id
type ItemStore interface {
	// UpsertItems inserts items and ignores ids already present
	UpsertItems(ctx context.Context, items []source.Item) error
	// UpdateItems inserts items and overwrites ids already present
	UpdateItems(ctx context.Context, items []source.Item) error
}

// Cursor persists the high-water mark
type Cursor interface {
	ReadHighWaterMark(ctx context.Context) (int64, error)
	WriteHighWaterMark(ctx context.Context, maxID int64) error
}
