// Package round provides the per-message eligibility preflight over the
// round record store.
package round

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrRoundNotFound is returned by a Store when the round id is unknown.
var ErrRoundNotFound = errors.New("round not found")

// Participant is an agent bound to a round.
type Participant struct {
	// AgentID is the agent's identifier within the game.
	AgentID string
	// Address is the agent's effect-identity (wallet) address used for
	// status-effect lookups.
	Address string
	// Endpoint is the agent's delivery URL. May be empty for agents that
	// only observe.
	Endpoint string
	// Kicked marks an agent excluded from both sending and receiving.
	Kicked bool
}

// Round is a read snapshot of one play session.
type Round struct {
	ID           string
	RoomID       string
	Active       bool
	Participants []Participant
}

// Store fetches round state. Implementations must return ErrRoundNotFound
// (possibly wrapped) for unknown ids and any other error for backend failures.
type Store interface {
	FetchRound(ctx context.Context, roundID string) (Round, error)
}

// FailureKind classifies why a preflight declared a round ineligible.
type FailureKind string

const (
	FailureNone     FailureKind = ""
	FailureNotFound FailureKind = "round_not_found"
	FailureInactive FailureKind = "round_not_active"
	FailureBackend  FailureKind = "round_lookup_failed"
)

// Result is the outcome of one preflight check. Participants excludes kicked
// agents.
type Result struct {
	Valid        bool
	Failure      FailureKind
	Reason       string
	RoomID       string
	Participants []Participant
}

// Registry validates that a round can receive a message right now. Every
// check fetches fresh state; kicked and active flags can change between
// messages within the same round, so nothing is cached.
type Registry struct {
	store  Store
	logger *zap.Logger
}

// NewRegistry creates a Registry over the given store.
//
// Precondition: store and logger must be non-nil.
func NewRegistry(store Store, logger *zap.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

// Preflight reports whether the round exists, is active, and which non-kicked
// participants it currently has.
//
// Postcondition: Result.Valid is true iff the round exists and is active.
// Not-found and backend failures are distinguishable via Result.Failure; both
// yield Valid == false.
func (r *Registry) Preflight(ctx context.Context, roundID string) Result {
	rnd, err := r.store.FetchRound(ctx, roundID)
	if err != nil {
		if errors.Is(err, ErrRoundNotFound) {
			return Result{
				Failure: FailureNotFound,
				Reason:  fmt.Sprintf("round %q does not exist", roundID),
			}
		}
		r.logger.Error("round lookup failed",
			zap.String("round_id", roundID),
			zap.Error(err),
		)
		return Result{
			Failure: FailureBackend,
			Reason:  fmt.Sprintf("fetching round %q: %v", roundID, err),
		}
	}

	if !rnd.Active {
		return Result{
			Failure: FailureInactive,
			Reason:  fmt.Sprintf("round %q is not active", roundID),
			RoomID:  rnd.RoomID,
		}
	}

	eligible := make([]Participant, 0, len(rnd.Participants))
	for _, p := range rnd.Participants {
		if p.Kicked {
			continue
		}
		eligible = append(eligible, p)
	}

	return Result{
		Valid:        true,
		RoomID:       rnd.RoomID,
		Participants: eligible,
	}
}
