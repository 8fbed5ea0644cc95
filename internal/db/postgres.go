// Package db provides PostgreSQL storage of mirrored items and the high-water mark.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/feed_mirror/internal/migrations"
	"github.com/cybertec-postgresql/feed_mirror/internal/source"
)

// ErrStore marks writes or reads rejected by PostgreSQL
var ErrStore = errors.New("store failure")

// PgxIface is common interface for every pgx class
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PgxPoolIface is interface representing pgx pool
type PgxPoolIface interface {
	PgxIface
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
	Config() *pgxpool.Config
	Ping(ctx context.Context) error
	Stat() *pgxpool.Stat
}

type ConnConfigCallback = func(*pgxpool.Config) error

// New create a new pool
func New(ctx context.Context, connStr string, callbacks ...ConnConfigCallback) (PgxPoolIface, error) {
	connConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, connConfig, callbacks...)
}

// NewWithConfig creates a new pool with a given config
func NewWithConfig(ctx context.Context, connConfig *pgxpool.Config, callbacks ...ConnConfigCallback) (PgxPoolIface, error) {
	logger := logrus.WithField("component", "postgresql")
	if connConfig.ConnConfig.ConnectTimeout == 0 {
		connConfig.ConnConfig.ConnectTimeout = time.Second * 5
	}
	connConfig.MaxConnIdleTime = 15 * time.Second
	connConfig.ConnConfig.RuntimeParams["application_name"] = "feed_mirror"
	connConfig.ConnConfig.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		logger.WithField("severity", n.Severity).WithField("notice", n.Message).Info("Notice received")
	}
	for _, f := range callbacks {
		if err := f(connConfig); err != nil {
			return nil, err
		}
	}
	return pgxpool.NewWithConfig(ctx, connConfig)
}

// ApplyMigrations checks and applies database migrations if needed
func ApplyMigrations(ctx context.Context, conn *pgx.Conn) error {
	needsMigration, err := migrations.NeedsUpgrade(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}

	if needsMigration {
		logrus.Info("Applying database migrations...")
		err = migrations.Apply(ctx, conn)
		if err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		logrus.Info("Database migrations completed successfully")
	} else {
		logrus.Info("Database schema is up to date")
	}

	return nil
}

// MigratePool acquires a connection from the pool and applies migrations on it
func MigratePool(ctx context.Context, pool PgxPoolIface) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migrations: %w", err)
	}
	defer conn.Release()
	return ApplyMigrations(ctx, conn.Conn())
}

// Store persists mirrored items and the high-water mark
type Store struct {
	pool PgxIface
}

// NewStore creates a store on top of a pool or a single connection
func NewStore(pool PgxIface) *Store {
	return &Store{pool: pool}
}

const (
	readHighWaterMarkSQL = `SELECT maxid FROM maxitem WHERE id = 1`

	// GREATEST keeps the mark monotonic even if a stale writer shows up
	writeHighWaterMarkSQL = `INSERT INTO maxitem (id, maxid) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET maxid = GREATEST(maxitem.maxid, EXCLUDED.maxid)`

	insertItemSQL = `INSERT INTO items (id, deleted, type, who, time, dead, kids, title, content, score, url, parent, descendants)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	upsertItemSQL = insertItemSQL + `
		ON CONFLICT (id) DO NOTHING`

	updateItemSQL = insertItemSQL + `
		ON CONFLICT (id) DO UPDATE SET
		deleted = EXCLUDED.deleted, type = EXCLUDED.type, who = EXCLUDED.who, time = EXCLUDED.time,
		dead = EXCLUDED.dead, kids = EXCLUDED.kids, title = EXCLUDED.title, content = EXCLUDED.content,
		score = EXCLUDED.score, url = EXCLUDED.url, parent = EXCLUDED.parent,
		descendants = EXCLUDED.descendants, synced_at = now()`
)

// ReadHighWaterMark returns the largest item id durably captured, 0 if none
func (s *Store) ReadHighWaterMark(ctx context.Context) (int64, error) {
	var maxID int64
	err := s.pool.QueryRow(ctx, readHighWaterMarkSQL).Scan(&maxID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read high-water mark: %w", ErrStore, err)
	}
	return maxID, nil
}

// WriteHighWaterMark advances the high-water mark, it never moves backwards
func (s *Store) WriteHighWaterMark(ctx context.Context, maxID int64) error {
	if _, err := s.pool.Exec(ctx, writeHighWaterMarkSQL, maxID); err != nil {
		return fmt.Errorf("%w: failed to write high-water mark: %w", ErrStore, err)
	}
	return nil
}

// UpsertItems inserts items, ignoring ids already present
func (s *Store) UpsertItems(ctx context.Context, items []source.Item) error {
	return s.sendItems(ctx, upsertItemSQL, items, "upsert")
}

// UpdateItems inserts items, overwriting rows with the same id
func (s *Store) UpdateItems(ctx context.Context, items []source.Item) error {
	return s.sendItems(ctx, updateItemSQL, items, "update")
}

func (s *Store) sendItems(ctx context.Context, query string, items []source.Item, op string) error {
	if len(items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(query, itemArgs(item)...)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%w: failed to %s %d items: %w", ErrStore, op, len(items), err)
	}

	logrus.WithFields(logrus.Fields{
		"component": "postgresql",
		"operation": op,
		"count":     len(items),
	}).Debug("Wrote items to PostgreSQL")
	return nil
}

func itemArgs(item source.Item) []any {
	kids := item.Kids
	if kids == nil {
		kids = []int64{}
	}
	created := item.CreatedAt()
	return []any{
		item.ID,
		item.Deleted,
		pgText(item.Type),
		pgText(item.By),
		pgtype.Timestamptz{Time: created, Valid: !created.IsZero()},
		item.Dead,
		kids,
		pgText(item.Title),
		pgText(item.Text),
		item.Score,
		pgText(item.URL),
		item.Parent,
		item.Descendants,
	}
}

// pgText drops NUL bytes, PostgreSQL text columns reject them (SQLSTATE 22021)
func pgText(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
