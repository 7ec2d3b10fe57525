package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/lib/pq"
)

// migration is one ordered schema step. Statements must be individually
// idempotent (IF NOT EXISTS) so that two processes racing through first-time
// startup both succeed.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "posts",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS posts (
				id BIGSERIAL PRIMARY KEY,
				ig_media_id VARCHAR(64),
				topic TEXT NOT NULL,
				topic_hash VARCHAR(64) NOT NULL,
				caption TEXT,
				virality_score DOUBLE PRECISION,
				status VARCHAR(32) NOT NULL DEFAULT 'generated',
				ig_status VARCHAR(16) NOT NULL DEFAULT 'unknown',
				source_count INTEGER NOT NULL DEFAULT 0,
				publish_attempts INTEGER NOT NULL DEFAULT 0,
				last_publish_attempt_at TIMESTAMPTZ,
				last_error_tag VARCHAR(64),
				last_error_code VARCHAR(64),
				last_error_message TEXT,
				published_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				topic_payload JSONB,
				content_payload JSONB,
				strategy_payload JSONB
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uq_posts_ig_media_id ON posts (ig_media_id) WHERE ig_media_id IS NOT NULL`,
			`CREATE INDEX IF NOT EXISTS idx_posts_topic_hash ON posts (topic_hash)`,
			`CREATE INDEX IF NOT EXISTS idx_posts_status ON posts (status)`,
			`CREATE INDEX IF NOT EXISTS idx_posts_published_at ON posts (published_at)`,
		},
	},
	{
		version: 2,
		name:    "post_sources",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS post_sources (
				id BIGSERIAL PRIMARY KEY,
				post_id BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
				source_url TEXT NOT NULL,
				source_hash VARCHAR(64) NOT NULL,
				domain VARCHAR(255),
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				CONSTRAINT uq_post_sources_source_hash UNIQUE (source_hash)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_post_sources_post_id ON post_sources (post_id)`,
		},
	},
	{
		version: 3,
		name:    "post_metrics_snapshots",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS post_metrics_snapshots (
				id BIGSERIAL PRIMARY KEY,
				post_id BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
				collected_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				impressions BIGINT,
				reach BIGINT,
				likes BIGINT,
				comments BIGINT,
				saves BIGINT,
				shares BIGINT,
				engagement_rate DOUBLE PRECISION,
				raw_payload JSONB
			)`,
			`CREATE INDEX IF NOT EXISTS idx_post_metrics_post_id ON post_metrics_snapshots (post_id)`,
			`CREATE INDEX IF NOT EXISTS idx_post_metrics_collected_at ON post_metrics_snapshots (collected_at)`,
		},
	},
	{
		version: 4,
		name:    "scheduler_config",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS scheduler_config (
				id SMALLINT PRIMARY KEY DEFAULT 1,
				enabled BOOLEAN NOT NULL DEFAULT FALSE,
				schedule JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				CONSTRAINT single_row CHECK (id = 1)
			)`,
		},
	},
	{
		version: 5,
		name:    "content_queue",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS content_queue (
				id BIGSERIAL PRIMARY KEY,
				scheduled_date DATE NOT NULL,
				scheduled_time VARCHAR(5),
				topic TEXT,
				template INTEGER,
				status VARCHAR(16) NOT NULL DEFAULT 'pending',
				runs_total INTEGER NOT NULL DEFAULT 1,
				runs_completed INTEGER NOT NULL DEFAULT 0,
				post_id BIGINT REFERENCES posts(id) ON DELETE SET NULL,
				message TEXT,
				started_at TIMESTAMPTZ,
				completed_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				CONSTRAINT uq_content_queue_date UNIQUE (scheduled_date)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_content_queue_status ON content_queue (status)`,
		},
	},
	{
		version: 6,
		name:    "api_keys",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS api_keys (
				id BIGSERIAL PRIMARY KEY,
				label VARCHAR(64) NOT NULL DEFAULT '',
				api_key VARCHAR(64) NOT NULL UNIQUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
		},
	},
}

var migrateMu sync.Mutex

// RunMigrations applies the ordered migration list once. It is safe to call
// from concurrent first-time starters: "already exists" races are success.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		applied, err := migrationApplied(ctx, db, m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		for _, stmt := range m.stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				if isAlreadyExists(err) {
					slog.Debug("migration object already exists", "version", m.version, "name", m.name)
					continue
				}
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
		}

		_, err = db.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`,
			m.version, m.name)
		if err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		slog.Info("applied migration", "version", m.version, "name", m.name)
	}
	return nil
}

func migrationApplied(ctx context.Context, db *sql.DB, version int) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx,
		`SELECT 1 FROM schema_migrations WHERE version = $1`, version).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check migration %d: %w", version, err)
	}
	return true, nil
}

// isAlreadyExists reports whether err is a schema-creation race: another
// process created the object between our check and our CREATE.
func isAlreadyExists(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 42P07 duplicate_table, 42701 duplicate_column, 42710 duplicate_object
		switch pqErr.Code {
		case "42P07", "42701", "42710":
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
