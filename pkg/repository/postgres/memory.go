package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pgvector/pgvector-go"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

const memoryColumns = `id, owner, embedding, ciphertext, kind, channel_ref, supersedes, created_at`

type memoryRepository struct {
	pool *pgxpool.Pool
}

func scanMemory(row pgx.Row, extra ...any) (*model.MemoryRecord, error) {
	var (
		rec model.MemoryRecord
		vec pgvector.Vector
	)
	dest := []any{
		&rec.ID, &rec.Owner, &vec, &rec.Ciphertext,
		&rec.Metadata.Kind, &rec.Metadata.ChannelRef, &rec.Metadata.Supersedes, &rec.Metadata.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	rec.Vector = vec.Slice()
	return &rec, nil
}

func (r *memoryRepository) Put(ctx context.Context, record *model.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return goerr.Wrap(err, "refusing to store memory record")
	}

	_, err := r.pool.Exec(ctx, `INSERT INTO memories (`+memoryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID, record.Owner, pgvector.NewVector(record.Vector), record.Ciphertext,
		record.Metadata.Kind, record.Metadata.ChannelRef, record.Metadata.Supersedes, record.Metadata.CreatedAt,
	)
	if err != nil {
		return goerr.Wrap(err, "failed to insert memory", goerr.V("id", record.ID))
	}
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, owner types.OwnerID, id model.MemoryID) (*model.MemoryRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+memoryColumns+` FROM memories WHERE owner = $1 AND id = $2`, owner, id)
	rec, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, goerr.Wrap(model.ErrNotFound, "memory not found", goerr.V("owner", owner), goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get memory", goerr.V("id", id))
	}
	return rec, nil
}

func (r *memoryRepository) Delete(ctx context.Context, owner types.OwnerID, id model.MemoryID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM memories WHERE owner = $1 AND id = $2`, owner, id); err != nil {
		return goerr.Wrap(err, "failed to delete memory", goerr.V("id", id))
	}
	return nil
}

func (r *memoryRepository) DeleteAll(ctx context.Context, owner types.OwnerID) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM memories WHERE owner = $1`, owner)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete memories", goerr.V("owner", owner))
	}
	return int(tag.RowsAffected()), nil
}

func (r *memoryRepository) List(ctx context.Context, owner types.OwnerID, limit int) ([]*model.MemoryRecord, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE owner = $1 ORDER BY created_at DESC`
	args := []any{owner}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memories", goerr.V("owner", owner))
	}
	defer rows.Close()

	records := make([]*model.MemoryRecord, 0)
	for rows.Next() {
		rec, err := scanMemory(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan memory")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate memories")
	}
	return records, nil
}

// FindByVector orders by pgvector cosine distance. Rows of another dimension
// are excluded in SQL because <=> rejects mismatched dimensions.
func (r *memoryRepository) FindByVector(ctx context.Context, owner types.OwnerID, vector []float32, limit int) ([]*model.ScoredRecord, error) {
	if limit <= 0 || len(vector) == 0 {
		return []*model.ScoredRecord{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+memoryColumns+`, 1 - (embedding <=> $2) AS score
		FROM memories
		WHERE owner = $1 AND vector_dims(embedding) = $3
		ORDER BY embedding <=> $2
		LIMIT $4`,
		owner, pgvector.NewVector(vector), len(vector), limit,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search memories", goerr.V("owner", owner))
	}
	defer rows.Close()

	hits := make([]*model.ScoredRecord, 0, limit)
	for rows.Next() {
		var score float64
		rec, err := scanMemory(rows, &score)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan memory search result")
		}
		hits = append(hits, &model.ScoredRecord{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate memory search results")
	}
	return hits, nil
}
