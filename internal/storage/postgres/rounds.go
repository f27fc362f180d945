package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/arena/internal/game/round"
)

// RoundRepository reads round and room state for message preflight and
// connection subscription checks.
type RoundRepository struct {
	db *pgxpool.Pool
}

// NewRoundRepository creates a RoundRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewRoundRepository(db *pgxpool.Pool) *RoundRepository {
	return &RoundRepository{db: db}
}

// FetchRound loads one round and its full participant list.
//
// Postcondition: Returns round.ErrRoundNotFound (wrapped) for an unknown id;
// any other error indicates a backend failure.
func (r *RoundRepository) FetchRound(ctx context.Context, roundID string) (round.Round, error) {
	var rnd round.Round
	err := r.db.QueryRow(ctx,
		`SELECT id, room_id, active FROM rounds WHERE id = $1`,
		roundID,
	).Scan(&rnd.ID, &rnd.RoomID, &rnd.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return round.Round{}, fmt.Errorf("%w: %q", round.ErrRoundNotFound, roundID)
		}
		return round.Round{}, fmt.Errorf("querying round: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT agent_id, address, COALESCE(endpoint, ''), kicked
		 FROM round_participants
		 WHERE round_id = $1
		 ORDER BY joined_at`,
		roundID,
	)
	if err != nil {
		return round.Round{}, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p round.Participant
		if err := rows.Scan(&p.AgentID, &p.Address, &p.Endpoint, &p.Kicked); err != nil {
			return round.Round{}, fmt.Errorf("scanning participant: %w", err)
		}
		rnd.Participants = append(rnd.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return round.Round{}, fmt.Errorf("iterating participants: %w", err)
	}

	return rnd, nil
}

// RoomExists reports whether a room row exists.
func (r *RoundRepository) RoomExists(ctx context.Context, roomID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1)`,
		roomID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking room: %w", err)
	}
	return exists, nil
}

// UpdateParticipantCount persists the current spectator count for a room.
//
// Precondition: count must be >= 0.
func (r *RoundRepository) UpdateParticipantCount(ctx context.Context, roomID string, count int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE rooms SET participant_count = $2, updated_at = NOW() WHERE id = $1`,
		roomID, count,
	)
	if err != nil {
		return fmt.Errorf("updating participant count: %w", err)
	}
	return nil
}
