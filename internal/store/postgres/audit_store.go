package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// AuditStore implements domain.AuditStore over the audit_log table. A
// string "cycle_id" in the detail is also stored in its own column so a
// cycle's audit trail can be looked up directly.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an audit entry.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	var cycleID *string
	if id, ok := detail["cycle_id"].(string); ok && id != "" {
		cycleID = &id
	}

	const query = `INSERT INTO audit_log (event, cycle_id, detail) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, event, cycleID, detailJSON); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := listClause(`SELECT id, event, cycle_id, detail, created_at FROM audit_log WHERE 1=1`, nil, "created_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	return scanAudit(rows)
}

// ListByCycle returns every audit entry recorded for one cycle, oldest
// first.
func (s *AuditStore) ListByCycle(ctx context.Context, cycleID string) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event, cycle_id, detail, created_at FROM audit_log WHERE cycle_id = $1 ORDER BY id`,
		cycleID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries for cycle %s: %w", cycleID, err)
	}
	return scanAudit(rows)
}

func scanAudit(rows pgx.Rows) ([]domain.AuditEntry, error) {
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var (
			e          domain.AuditEntry
			cycleID    *string
			detailJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &cycleID, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if cycleID != nil {
			e.CycleID = *cycleID
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: audit rows: %w", err)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
