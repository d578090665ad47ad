package postgres

import (
	"context"
	"embed"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/interfaces"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is a Repository on PostgreSQL with the pgvector extension.
type Postgres struct {
	pool    *pgxpool.Pool
	memory  *memoryRepository
	usage   *usageRepository
	history *historyRepository
}

var _ interfaces.Repository = &Postgres{}

// New connects to dsn and applies pending migrations.
func New(ctx context.Context, dsn string) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse database URL")
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, goerr.Wrap(err, "failed to connect to database")
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{
		pool:    pool,
		memory:  &memoryRepository{pool: pool},
		usage:   &usageRepository{pool: pool},
		history: &historyRepository{pool: pool},
	}, nil
}

func (p *Postgres) Memory() interfaces.MemoryRepository {
	return p.memory
}

func (p *Postgres) Usage() interfaces.UsageRepository {
	return p.usage
}

func (p *Postgres) History() interfaces.HistoryRepository {
	return p.history
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return goerr.Wrap(err, "failed to create migrations table")
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return goerr.Wrap(err, "failed to read migrations")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		version := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(version, ".sql") {
			continue
		}

		var exists bool
		if err := pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&exists); err != nil {
			return goerr.Wrap(err, "failed to check migration", goerr.V("version", version))
		}
		if exists {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + version)
		if err != nil {
			return goerr.Wrap(err, "failed to read migration", goerr.V("version", version))
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return goerr.Wrap(err, "failed to begin migration", goerr.V("version", version))
		}
		if _, err := tx.Exec(ctx, string(content)); err != nil {
			_ = tx.Rollback(ctx)
			return goerr.Wrap(err, "failed to execute migration", goerr.V("version", version))
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			_ = tx.Rollback(ctx)
			return goerr.Wrap(err, "failed to record migration", goerr.V("version", version))
		}
		if err := tx.Commit(ctx); err != nil {
			return goerr.Wrap(err, "failed to commit migration", goerr.V("version", version))
		}

		logging.From(ctx).Info("applied migration", "version", version)
	}

	return nil
}
