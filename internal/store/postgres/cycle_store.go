package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

const cycleColumns = `id, pair, as_of, median_mid, spread_max_bps, provisional_median,
	accepted, dropped, failed, messages`

// CycleStore implements domain.CycleStore using PostgreSQL.
type CycleStore struct {
	pool *pgxpool.Pool
}

// NewCycleStore creates a new CycleStore backed by the given connection pool.
func NewCycleStore(pool *pgxpool.Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

// Insert stores one cycle summary. Re-inserting the same cycle id is a no-op.
func (s *CycleStore) Insert(ctx context.Context, rec domain.CycleRecord) error {
	lists := make([][]byte, 0, 4)
	for _, l := range [][]string{rec.Accepted, rec.Dropped, rec.Failed, rec.Messages} {
		if l == nil {
			l = []string{}
		}
		b, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("postgres: marshal cycle %s: %w", rec.ID, err)
		}
		lists = append(lists, b)
	}

	const query = `INSERT INTO consensus_cycles (` + cycleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Pair, rec.AsOf, rec.MedianMid, rec.SpreadMaxBps, rec.ProvisionalMedian,
		lists[0], lists[1], lists[2], lists[3],
	)
	if err != nil {
		return fmt.Errorf("postgres: insert cycle %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns cycle summaries newest first.
func (s *CycleStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.CycleRecord, error) {
	query, args := listClause(`SELECT `+cycleColumns+` FROM consensus_cycles WHERE 1=1`, nil, "as_of", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cycles: %w", err)
	}
	return scanCycles(rows)
}

// ListBefore returns every cycle older than before, oldest first.
func (s *CycleStore) ListBefore(ctx context.Context, before time.Time) ([]domain.CycleRecord, error) {
	const query = `SELECT ` + cycleColumns + ` FROM consensus_cycles WHERE as_of < $1 ORDER BY as_of ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cycles before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanCycles(rows)
}

// DeleteBefore removes cycles older than before and returns how many were
// deleted.
func (s *CycleStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM consensus_cycles WHERE as_of < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete cycles before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func scanCycles(rows pgx.Rows) ([]domain.CycleRecord, error) {
	defer rows.Close()

	var out []domain.CycleRecord
	for rows.Next() {
		var rec domain.CycleRecord
		var accepted, dropped, failed, messages []byte
		if err := rows.Scan(
			&rec.ID, &rec.Pair, &rec.AsOf, &rec.MedianMid, &rec.SpreadMaxBps, &rec.ProvisionalMedian,
			&accepted, &dropped, &failed, &messages,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan cycle: %w", err)
		}
		for _, f := range []struct {
			raw []byte
			dst *[]string
		}{
			{accepted, &rec.Accepted},
			{dropped, &rec.Dropped},
			{failed, &rec.Failed},
			{messages, &rec.Messages},
		} {
			if err := json.Unmarshal(f.raw, f.dst); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal cycle %s: %w", rec.ID, err)
			}
		}
		rec.AsOf = rec.AsOf.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list cycles rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.CycleStore = (*CycleStore)(nil)
