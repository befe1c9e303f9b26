package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/homecare-scheduling/internal/scheduling"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, ev scheduling.AuditEvent) error {
	meta := ev.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal audit meta: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_events (action, entity_type, entity_id, actor_id, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.Action, ev.EntityType, ev.EntityID, ev.ActorID, raw, ev.At)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Record is a stored audit row awaiting relay.
type Record struct {
	ID         int64
	Action     string
	EntityType string
	EntityID   *int64
	ActorID    int64
	Meta       json.RawMessage
	OccurredAt time.Time
}

// FetchUnpublished locks up to limit pending rows. Concurrent relays skip
// rows another relay already holds.
func (r *Repository) FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, action, entity_type, entity_id, actor_id, meta, occurred_at
		FROM audit_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unpublished audit events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.EntityType, &rec.EntityID, &rec.ActorID, &rec.Meta, &rec.OccurredAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE audit_events
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("mark audit events published: %w", err)
	}
	return nil
}
