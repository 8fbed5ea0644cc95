// Package migrations contains database migration definitions and functionality for feed_mirror.
package migrations

import (
	"context"
	"fmt"
	"sync"

	migrator "github.com/cybertec-postgresql/pgx-migrator"
	"github.com/jackc/pgx/v5"
)

// createTablesSQL creates the mirrored items table and the single-row high-water mark table
const createTablesSQL = `
-- Mirrored feed items, keyed by the source-assigned id
CREATE TABLE items (
	id bigint PRIMARY KEY,
	deleted boolean NOT NULL DEFAULT false,
	type text NOT NULL,
	who text NOT NULL DEFAULT '',
	time timestamp with time zone,
	dead boolean NOT NULL DEFAULT false,
	kids bigint[] NOT NULL DEFAULT '{}',
	title text NOT NULL DEFAULT '',
	content text NOT NULL DEFAULT '',
	score bigint NOT NULL DEFAULT 0,
	url text NOT NULL DEFAULT '',
	parent bigint NOT NULL DEFAULT 0, -- weak reference, may point to an item not mirrored yet
	descendants bigint NOT NULL DEFAULT 0,
	synced_at timestamp with time zone NOT NULL DEFAULT now()
);

-- High-water mark: the largest item id durably captured
CREATE TABLE maxitem (
	id int PRIMARY KEY CHECK (id = 1),
	maxid bigint NOT NULL DEFAULT 0
);
INSERT INTO maxitem (id, maxid) VALUES (1, 0);

CREATE INDEX idx_items_parent ON items(parent) WHERE parent <> 0;
CREATE INDEX idx_items_type_time ON items(type, time);
`

// migrations holds function returning all upgrade migrations needed
var migrations func() migrator.Option = func() migrator.Option {
	return migrator.Migrations(
		&migrator.Migration{
			Name: "001_create_tables",
			Func: func(ctx context.Context, tx pgx.Tx) error {
				_, err := tx.Exec(ctx, createTablesSQL)
				return err
			},
		},
		// adding new migration here
	)
}

var (
	migratorInstance *migrator.Migrator
	once             sync.Once
)

// getMigrator returns a singleton migrator instance
func getMigrator() (*migrator.Migrator, error) {
	var err error
	once.Do(func() {
		migratorInstance, err = migrator.New(
			migrations(),
			migrator.TableName("feed_mirror_migrations"),
		)
	})
	return migratorInstance, err
}

// Apply applies all pending migrations to the database
func Apply(ctx context.Context, conn *pgx.Conn) error {
	m, err := getMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// NeedsUpgrade checks if the database needs migration
func NeedsUpgrade(ctx context.Context, conn *pgx.Conn) (bool, error) {
	m, err := getMigrator()
	if err != nil {
		return false, fmt.Errorf("failed to create migrator: %w", err)
	}

	needUpgrade, err := m.NeedUpgrade(ctx, conn)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}

	return needUpgrade, nil
}
