package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

type usageRepository struct {
	pool *pgxpool.Pool
}

func (r *usageRepository) Append(ctx context.Context, rec *model.UsageRecord) error {
	if rec.ID == "" {
		return goerr.New("usage record ID is required")
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO usage_records (id, ts, owner, provider_id, task, tokens_in, tokens_out, cost_usd, success, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Timestamp, rec.Owner, rec.ProviderID, rec.Task,
		rec.TokensIn, rec.TokensOut, rec.CostUSD, rec.Success, rec.Attempts,
	)
	if err != nil {
		return goerr.Wrap(err, "failed to append usage record", goerr.V("id", rec.ID))
	}
	return nil
}

func (r *usageRepository) ListSince(ctx context.Context, since time.Time) ([]*model.UsageRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, ts, owner, provider_id, task, tokens_in, tokens_out, cost_usd, success, attempts
		FROM usage_records WHERE ts >= $1 ORDER BY ts, id`, since)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list usage records")
	}
	defer rows.Close()

	records := make([]*model.UsageRecord, 0)
	for rows.Next() {
		var rec model.UsageRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Owner, &rec.ProviderID, &rec.Task,
			&rec.TokensIn, &rec.TokensOut, &rec.CostUSD, &rec.Success, &rec.Attempts); err != nil {
			return nil, goerr.Wrap(err, "failed to scan usage record")
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate usage records")
	}
	return records, nil
}

func (r *usageRepository) DeleteOwner(ctx context.Context, owner types.OwnerID) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM usage_records WHERE owner = $1`, owner)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete usage records", goerr.V("owner", owner))
	}
	return int(tag.RowsAffected()), nil
}
