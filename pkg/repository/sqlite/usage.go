package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

type usageRepository struct {
	db *sql.DB
}

func (r *usageRepository) Append(ctx context.Context, rec *model.UsageRecord) error {
	if rec.ID == "" {
		return goerr.New("usage record ID is required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, ts, owner, provider_id, task, tokens_in, tokens_out, cost_usd, success, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rec.ID), rec.Timestamp.UnixNano(), string(rec.Owner), string(rec.ProviderID), string(rec.Task),
		rec.TokensIn, rec.TokensOut, rec.CostUSD, rec.Success, rec.Attempts,
	)
	if err != nil {
		return goerr.Wrap(err, "failed to append usage record", goerr.V("id", rec.ID))
	}
	return nil
}

func (r *usageRepository) ListSince(ctx context.Context, since time.Time) ([]*model.UsageRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ts, owner, provider_id, task, tokens_in, tokens_out, cost_usd, success, attempts
		FROM usage_records WHERE ts >= ? ORDER BY ts, id`, since.UnixNano())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list usage records")
	}
	defer rows.Close()

	records := make([]*model.UsageRecord, 0)
	for rows.Next() {
		var (
			rec model.UsageRecord
			ts  int64
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Owner, &rec.ProviderID, &rec.Task,
			&rec.TokensIn, &rec.TokensOut, &rec.CostUSD, &rec.Success, &rec.Attempts); err != nil {
			return nil, goerr.Wrap(err, "failed to scan usage record")
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate usage records")
	}
	return records, nil
}

func (r *usageRepository) DeleteOwner(ctx context.Context, owner types.OwnerID) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM usage_records WHERE owner = ?`, string(owner))
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete usage records", goerr.V("owner", owner))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
