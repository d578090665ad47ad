package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model"
	"github.com/secmon-lab/concierge/pkg/domain/types"
)

const memoryColumns = `id, owner, vector, ciphertext, kind, channel_ref, supersedes, created_at`

type memoryRepository struct {
	db *sql.DB
}

// encodeVector packs float32 values little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, goerr.New("corrupt vector blob", goerr.V("length", len(b)))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (*model.MemoryRecord, error) {
	var (
		rec       model.MemoryRecord
		vec       []byte
		createdAt int64
	)
	if err := row.Scan(&rec.ID, &rec.Owner, &vec, &rec.Ciphertext,
		&rec.Metadata.Kind, &rec.Metadata.ChannelRef, &rec.Metadata.Supersedes, &createdAt); err != nil {
		return nil, err
	}
	v, err := decodeVector(vec)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode vector", goerr.V("id", rec.ID))
	}
	rec.Vector = v
	rec.Metadata.CreatedAt = time.Unix(0, createdAt).UTC()
	return &rec, nil
}

func (r *memoryRepository) Put(ctx context.Context, record *model.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return goerr.Wrap(err, "refusing to store memory record")
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO memories (`+memoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(record.ID), string(record.Owner), encodeVector(record.Vector), record.Ciphertext,
		string(record.Metadata.Kind), string(record.Metadata.ChannelRef), string(record.Metadata.Supersedes),
		record.Metadata.CreatedAt.UnixNano(),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to insert memory", goerr.V("id", record.ID))
	}
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, owner types.OwnerID, id model.MemoryID) (*model.MemoryRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE owner = ? AND id = ?`, string(owner), string(id))
	rec, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goerr.Wrap(model.ErrNotFound, "memory not found", goerr.V("owner", owner), goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get memory", goerr.V("id", id))
	}
	return rec, nil
}

func (r *memoryRepository) Delete(ctx context.Context, owner types.OwnerID, id model.MemoryID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM memories WHERE owner = ? AND id = ?`, string(owner), string(id)); err != nil {
		return goerr.Wrap(err, "failed to delete memory", goerr.V("id", id))
	}
	return nil
}

func (r *memoryRepository) DeleteAll(ctx context.Context, owner types.OwnerID) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM memories WHERE owner = ?`, string(owner))
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete memories", goerr.V("owner", owner))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *memoryRepository) query(ctx context.Context, query string, args ...any) ([]*model.MemoryRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query memories")
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

func (r *memoryRepository) List(ctx context.Context, owner types.OwnerID, limit int) ([]*model.MemoryRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.query(ctx, `SELECT `+memoryColumns+` FROM memories WHERE owner = ? ORDER BY created_at DESC LIMIT ?`, string(owner), limit)
}

func (r *memoryRepository) FindByVector(ctx context.Context, owner types.OwnerID, vector []float32, limit int) ([]*model.ScoredRecord, error) {
	if limit <= 0 {
		return []*model.ScoredRecord{}, nil
	}
	// The WHERE clause is the isolation boundary; ranking happens after it.
	records, err := r.query(ctx, `SELECT `+memoryColumns+` FROM memories WHERE owner = ?`, string(owner))
	if err != nil {
		return nil, err
	}
	return model.RankBySimilarity(vector, records, limit), nil
}
