package postgres

import (
	"context"
	"slices"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

type historyRepository struct {
	pool *pgxpool.Pool
}

func (r *historyRepository) Append(ctx context.Context, e *model.HistoryEntry) error {
	if err := e.Owner.Validate(); err != nil {
		return goerr.Wrap(err, "invalid history owner")
	}
	if len(e.Ciphertext) == 0 {
		return goerr.New("history entry has no content", goerr.V("id", e.ID))
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO history_entries (id, owner, channel, role, ciphertext, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Owner, e.Channel, e.Role, e.Ciphertext, e.CreatedAt,
	)
	if err != nil {
		return goerr.Wrap(err, "failed to append history", goerr.V("id", e.ID))
	}
	return nil
}

func (r *historyRepository) ListRecent(ctx context.Context, owner types.OwnerID, channel types.ChannelRef, limit int) ([]*model.HistoryEntry, error) {
	query := `SELECT id, owner, channel, role, ciphertext, created_at FROM history_entries
		WHERE owner = $1 AND channel = $2 ORDER BY created_at DESC`
	args := []any{owner, channel}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list history", goerr.V("owner", owner))
	}
	defer rows.Close()

	entries := make([]*model.HistoryEntry, 0)
	for rows.Next() {
		var e model.HistoryEntry
		if err := rows.Scan(&e.ID, &e.Owner, &e.Channel, &e.Role, &e.Ciphertext, &e.CreatedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan history")
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate history")
	}

	slices.Reverse(entries)
	return entries, nil
}

func (r *historyRepository) DeleteAll(ctx context.Context, owner types.OwnerID) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM history_entries WHERE owner = $1`, owner)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete history", goerr.V("owner", owner))
	}
	return int(tag.RowsAffected()), nil
}
