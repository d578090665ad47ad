package sqlite

import (
	"context"
	"database/sql"
	"slices"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

type historyRepository struct {
	db *sql.DB
}

func (r *historyRepository) Append(ctx context.Context, e *model.HistoryEntry) error {
	if err := e.Owner.Validate(); err != nil {
		return goerr.Wrap(err, "invalid history owner")
	}
	if len(e.Ciphertext) == 0 {
		return goerr.New("history entry has no content", goerr.V("id", e.ID))
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO history_entries (id, owner, channel, role, ciphertext, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.Owner), string(e.Channel), string(e.Role), e.Ciphertext, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to append history", goerr.V("id", e.ID))
	}
	return nil
}

func (r *historyRepository) ListRecent(ctx context.Context, owner types.OwnerID, channel types.ChannelRef, limit int) ([]*model.HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner, channel, role, ciphertext, created_at FROM history_entries
		WHERE owner = ? AND channel = ? ORDER BY created_at DESC LIMIT ?`,
		string(owner), string(channel), limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list history", goerr.V("owner", owner))
	}
	defer rows.Close()

	entries := make([]*model.HistoryEntry, 0)
	for rows.Next() {
		var (
			e         model.HistoryEntry
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.Owner, &e.Channel, &e.Role, &e.Ciphertext, &createdAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan history")
		}
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate history")
	}

	slices.Reverse(entries)
	return entries, nil
}

func (r *historyRepository) DeleteAll(ctx context.Context, owner types.OwnerID) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM history_entries WHERE owner = ?`, string(owner))
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete history", goerr.V("owner", owner))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
