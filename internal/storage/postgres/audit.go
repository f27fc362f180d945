package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/arena/internal/game/router"
)

// AuditRepository persists one row per routing operation: the original
// message, the per-target post-effect payloads, and the effect snapshot.
type AuditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository creates an AuditRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// RecordMessage inserts one audit row. Callers treat failure as best-effort;
// the router logs and continues.
//
// Precondition: rec.ID must be a non-zero UUID.
func (r *AuditRepository) RecordMessage(ctx context.Context, rec router.AuditRecord) error {
	deliveries, err := json.Marshal(rec.Deliveries)
	if err != nil {
		return fmt.Errorf("marshalling deliveries: %w", err)
	}
	effects, err := json.Marshal(rec.Effects)
	if err != nil {
		return fmt.Errorf("marshalling effects: %w", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO message_audit
		   (id, kind, room_id, round_id, sender, original, deliveries, effects, logical_ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, string(rec.Kind), rec.RoomID, rec.RoundID, rec.Sender,
		[]byte(rec.Original), deliveries, effects, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting audit record: %w", err)
	}
	return nil
}
