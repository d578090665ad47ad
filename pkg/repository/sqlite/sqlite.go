package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	_ "modernc.org/sqlite"
)

// SQLite is a single-node Repository. Vector search loads the owner's rows
// and ranks them in process.
type SQLite struct {
	db      *sql.DB
	memory  *memoryRepository
	usage   *usageRepository
	history *historyRepository
}

var _ interfaces.Repository = &SQLite{}

func New(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, goerr.Wrap(err, "failed to create database directory", goerr.V("path", path))
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite database", goerr.V("path", path))
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{
		db:      db,
		memory:  &memoryRepository{db: db},
		usage:   &usageRepository{db: db},
		history: &historyRepository{db: db},
	}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS memories (
		id          TEXT PRIMARY KEY,
		owner       TEXT NOT NULL,
		vector      BLOB NOT NULL,
		ciphertext  BLOB NOT NULL,
		kind        TEXT NOT NULL,
		channel_ref TEXT NOT NULL DEFAULT '',
		supersedes  TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner, created_at DESC);

	CREATE TABLE IF NOT EXISTS usage_records (
		id          TEXT PRIMARY KEY,
		ts          INTEGER NOT NULL,
		owner       TEXT NOT NULL DEFAULT '',
		provider_id TEXT NOT NULL,
		task        TEXT NOT NULL DEFAULT '',
		tokens_in   INTEGER NOT NULL DEFAULT 0,
		tokens_out  INTEGER NOT NULL DEFAULT 0,
		cost_usd    REAL NOT NULL DEFAULT 0,
		success     INTEGER NOT NULL,
		attempts    INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_usage_ts ON usage_records(ts);

	CREATE TABLE IF NOT EXISTS history_entries (
		id         TEXT PRIMARY KEY,
		owner      TEXT NOT NULL,
		channel    TEXT NOT NULL,
		role       TEXT NOT NULL,
		ciphertext BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_owner_channel ON history_entries(owner, channel, created_at DESC);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return goerr.Wrap(err, "failed to migrate sqlite schema")
	}
	return nil
}

func (s *SQLite) Memory() interfaces.MemoryRepository {
	return s.memory
}

func (s *SQLite) Usage() interfaces.UsageRepository {
	return s.usage
}

func (s *SQLite) History() interfaces.HistoryRepository {
	return s.history
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
