// Package router orchestrates message processing: round preflight, status
// effect application, per-target delivery, audit, and spectator fan-out.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/game/effect"
	"github.com/cory-johannsen/arena/internal/game/message"
	"github.com/cory-johannsen/arena/internal/game/round"
)

// EffectSource exposes the chain oracle: live effects per identity address
// and the shared logical clock.
type EffectSource interface {
	// CurrentTimestamp returns the logical timestamp used for every expiry
	// comparison within one message-processing operation.
	CurrentTimestamp(ctx context.Context) (int64, error)
	// ParticipantEffects returns the active effect list for one address.
	ParticipantEffects(ctx context.Context, address string) ([]effect.StatusEffect, error)
}

// Deliverer pushes one message to a single agent endpoint. Implementations
// are fire-and-forget tolerant: Submit must not block message processing, and
// delivery failures surface only in logs.
type Deliverer interface {
	Submit(endpoint string, payload message.Outbound) error
}

// AuditStore persists one audit record per routing operation (best-effort).
type AuditStore interface {
	RecordMessage(ctx context.Context, rec AuditRecord) error
}

// Broadcaster fans a payload out to every live spectator connection in a room.
type Broadcaster interface {
	Broadcast(roomID string, payload any)
}

// Signer re-signs outbound content on behalf of the router. Downstream agents
// trust the router's signature, not the original sender's.
type Signer interface {
	Sign(content []byte) (string, error)
}

// Verifier checks an inbound envelope's signature against the configured
// timestamp window.
type Verifier interface {
	Verify(content []byte, signature, sender string, timestamp int64, window time.Duration) error
}

// AuditRecord captures one routing operation: the original message, what each
// target actually received, and the effect snapshot consulted.
type AuditRecord struct {
	ID         uuid.UUID
	Kind       message.Kind
	RoomID     string
	RoundID    string
	Sender     string
	Original   json.RawMessage
	Deliveries map[string]string
	Effects    []effect.StatusEffect
	Timestamp  int64
}

// Result is the structured outcome returned to the transport layer. No
// errors cross the router boundary unwrapped.
type Result struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error,omitempty"`
	Data       any    `json:"data,omitempty"`
}

func ok(data any) Result {
	return Result{StatusCode: http.StatusOK, Data: data}
}

func invalid(reason string) Result {
	return Result{StatusCode: http.StatusBadRequest, Error: reason}
}

func dependencyFailure(reason string) Result {
	return Result{StatusCode: http.StatusInternalServerError, Error: reason}
}

// Router is the single orchestration point for all message categories.
type Router struct {
	rounds    *round.Registry
	effects   EffectSource
	deliverer Deliverer
	audit     AuditStore
	chat      Broadcaster
	signer    Signer
	verifier  Verifier
	window    time.Duration
	logger    *zap.Logger
}

// New creates a Router with the given collaborators.
//
// Precondition: all collaborators and logger must be non-nil; window must be positive.
func New(
	rounds *round.Registry,
	effects EffectSource,
	deliverer Deliverer,
	audit AuditStore,
	chat Broadcaster,
	signer Signer,
	verifier Verifier,
	window time.Duration,
	logger *zap.Logger,
) *Router {
	return &Router{
		rounds:    rounds,
		effects:   effects,
		deliverer: deliverer,
		audit:     audit,
		chat:      chat,
		signer:    signer,
		verifier:  verifier,
		window:    window,
		logger:    logger,
	}
}

// ProcessAgentMessage routes one agent-to-room message through the full
// pipeline: preflight, effect snapshot, delivery plan, per-target delivery,
// audit, and spectator broadcast.
//
// Postcondition: Validation failures return a 400-class Result with no side
// effects. A spectator broadcast and an audit attempt happen on every
// accepted message, even when the plan suppressed all deliveries.
func (r *Router) ProcessAgentMessage(ctx context.Context, env message.Envelope) Result {
	content, res, okDecode := decodeContent[message.AgentContent](env, message.KindAgentMessage)
	if !okDecode {
		return res
	}
	if content.RoomID == "" || content.RoundID == "" || content.AgentID == "" {
		return invalid("agent message requires roomId, roundId, and agentId")
	}
	if err := r.verifier.Verify(env.Content, env.Signature, env.Sender, content.Timestamp, r.window); err != nil {
		return invalid(fmt.Sprintf("signature verification failed: %v", err))
	}

	pre := r.rounds.Preflight(ctx, content.RoundID)
	if !pre.Valid {
		if pre.Failure == round.FailureBackend {
			return dependencyFailure(pre.Reason)
		}
		return invalid(pre.Reason)
	}

	sender, found := findParticipant(pre.Participants, content.AgentID)
	if !found {
		return invalid(fmt.Sprintf("agent %q is not a participant of round %q", content.AgentID, content.RoundID))
	}

	targets := make([]effect.Target, 0, len(pre.Participants))
	for _, p := range pre.Participants {
		if p.AgentID == sender.AgentID {
			continue
		}
		targets = append(targets, effect.Target{AgentID: p.AgentID, Address: p.Address})
	}

	now, err := r.effects.CurrentTimestamp(ctx)
	if err != nil {
		// Without a consistent clock no expiry comparison is meaningful.
		return dependencyFailure(fmt.Sprintf("reading logical timestamp: %v", err))
	}

	snap := r.fetchSnapshot(ctx, sender.Address, targets)
	plan := effect.BuildPlan(content.Text, sender.Address, targets, snap, now, r.logger)

	endpoints := endpointsByAgent(pre.Participants)
	r.deliverPlan(content, plan, endpoints)

	rec := AuditRecord{
		ID:         uuid.New(),
		Kind:       message.KindAgentMessage,
		RoomID:     content.RoomID,
		RoundID:    content.RoundID,
		Sender:     content.AgentID,
		Original:   append(json.RawMessage(nil), env.Content...),
		Deliveries: plan.TargetMessages,
		Effects:    plan.Effects,
		Timestamp:  now,
	}
	r.writeAudit(ctx, rec)
	r.broadcastChat(rec, content.Text, content.Timestamp)

	return ok(map[string]any{
		"messageId": rec.ID.String(),
		"delivered": len(plan.TargetMessages),
		"targets":   len(targets),
	})
}

// ProcessGmMessage routes a game-master message to its explicit targets. GM
// messages never pass through the effect engine; they are the override
// channel. With IgnoreErrors set, eligibility failures are logged and the
// send proceeds to whatever targets can still be resolved.
func (r *Router) ProcessGmMessage(ctx context.Context, env message.Envelope) Result {
	content, res, okDecode := decodeContent[message.GmContent](env, message.KindGmMessage)
	if !okDecode {
		return res
	}
	if content.RoomID == "" || content.RoundID == "" || content.GmID == "" {
		return invalid("gm message requires roomId, roundId, and gmId")
	}
	if len(content.Targets) == 0 {
		return invalid("gm message requires at least one target")
	}
	if err := r.verifier.Verify(env.Content, env.Signature, env.Sender, content.Timestamp, r.window); err != nil {
		return invalid(fmt.Sprintf("signature verification failed: %v", err))
	}

	pre := r.rounds.Preflight(ctx, content.RoundID)
	if !pre.Valid {
		if !content.IgnoreErrors {
			if pre.Failure == round.FailureBackend {
				return dependencyFailure(pre.Reason)
			}
			return invalid(pre.Reason)
		}
		r.logger.Warn("gm message bypassing preflight failure",
			zap.String("round_id", content.RoundID),
			zap.String("reason", pre.Reason),
		)
	}

	endpoints := endpointsByAgent(pre.Participants)
	deliveries := make(map[string]string, len(content.Targets))
	for _, target := range content.Targets {
		endpoint, found := endpoints[target]
		if !found {
			if !content.IgnoreErrors {
				return invalid(fmt.Sprintf("target %q is not a participant of round %q", target, content.RoundID))
			}
			r.logger.Warn("gm target not resolvable, skipping",
				zap.String("target", target),
				zap.String("round_id", content.RoundID),
			)
			continue
		}
		deliveries[target] = content.Text
		r.submitDelivery(endpoint, target, message.GmContent{
			RoomID:    content.RoomID,
			RoundID:   content.RoundID,
			GmID:      content.GmID,
			Targets:   []string{target},
			Text:      content.Text,
			Timestamp: content.Timestamp,
		})
	}

	rec := AuditRecord{
		ID:         uuid.New(),
		Kind:       message.KindGmMessage,
		RoomID:     content.RoomID,
		RoundID:    content.RoundID,
		Sender:     content.GmID,
		Original:   append(json.RawMessage(nil), env.Content...),
		Deliveries: deliveries,
		Timestamp:  content.Timestamp,
	}
	r.writeAudit(ctx, rec)
	r.broadcastChat(rec, content.Text, content.Timestamp)

	return ok(map[string]any{
		"messageId": rec.ID.String(),
		"delivered": len(deliveries),
	})
}

// ProcessObservationMessage fans an informational message out to all current
// round participants without effect processing.
func (r *Router) ProcessObservationMessage(ctx context.Context, env message.Envelope) Result {
	content, res, okDecode := decodeContent[message.ObservationContent](env, message.KindObservationMessage)
	if !okDecode {
		return res
	}
	if content.RoomID == "" || content.RoundID == "" {
		return invalid("observation message requires roomId and roundId")
	}
	if err := r.verifier.Verify(env.Content, env.Signature, env.Sender, content.Timestamp, r.window); err != nil {
		return invalid(fmt.Sprintf("signature verification failed: %v", err))
	}

	pre := r.rounds.Preflight(ctx, content.RoundID)
	if !pre.Valid {
		if pre.Failure == round.FailureBackend {
			return dependencyFailure(pre.Reason)
		}
		return invalid(pre.Reason)
	}

	text := string(content.Data)
	deliveries := make(map[string]string, len(pre.Participants))
	for _, p := range pre.Participants {
		if p.AgentID == content.AgentID || p.Endpoint == "" {
			continue
		}
		deliveries[p.AgentID] = text
		r.submitDelivery(p.Endpoint, p.AgentID, content)
	}

	rec := AuditRecord{
		ID:         uuid.New(),
		Kind:       message.KindObservationMessage,
		RoomID:     content.RoomID,
		RoundID:    content.RoundID,
		Sender:     content.AgentID,
		Original:   append(json.RawMessage(nil), env.Content...),
		Deliveries: deliveries,
		Timestamp:  content.Timestamp,
	}
	r.writeAudit(ctx, rec)
	r.broadcastChat(rec, text, content.Timestamp)

	return ok(map[string]any{
		"messageId": rec.ID.String(),
		"delivered": len(deliveries),
	})
}

// fetchSnapshot loads effect lists for the sender and every target
// concurrently. A failed lookup defaults that participant to no effects
// (fail-open): an oracle hiccup must not block unaffected traffic.
func (r *Router) fetchSnapshot(ctx context.Context, senderAddr string, targets []effect.Target) effect.Snapshot {
	addrs := make([]string, 0, len(targets)+1)
	addrs = append(addrs, senderAddr)
	for _, t := range targets {
		if t.Address != senderAddr {
			addrs = append(addrs, t.Address)
		}
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		snap = make(effect.Snapshot, len(addrs))
	)
	for _, addr := range addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			effects, err := r.effects.ParticipantEffects(ctx, addr)
			if err != nil {
				r.logger.Warn("effect lookup failed, defaulting to no effects",
					zap.String("address", addr),
					zap.Error(err),
				)
				return
			}
			mu.Lock()
			snap[addr] = effects
			mu.Unlock()
		}(addr)
	}
	wg.Wait()
	return snap
}

// deliverPlan submits one delivery per plan entry, re-signed as coming from
// the router. A target that cannot be signed or enqueued is logged and
// skipped; delivery to the remaining targets proceeds.
func (r *Router) deliverPlan(content message.AgentContent, plan effect.DeliveryPlan, endpoints map[string]string) {
	for agentID, text := range plan.TargetMessages {
		endpoint := endpoints[agentID]
		if endpoint == "" {
			r.logger.Debug("target has no delivery endpoint",
				zap.String("agent_id", agentID),
			)
			continue
		}
		r.submitDelivery(endpoint, agentID, message.AgentContent{
			RoomID:    content.RoomID,
			RoundID:   content.RoundID,
			AgentID:   content.AgentID,
			Text:      text,
			Timestamp: content.Timestamp,
		})
	}
}

func (r *Router) submitDelivery(endpoint, agentID string, content message.Message) {
	out := message.NewOutbound("router", content)
	payload, err := json.Marshal(out.Content)
	if err != nil {
		r.logger.Error("marshalling delivery payload",
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		return
	}
	sig, err := r.signer.Sign(payload)
	if err != nil {
		r.logger.Error("signing delivery payload",
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		return
	}
	out.Signature = sig
	if err := r.deliverer.Submit(endpoint, out); err != nil {
		r.logger.Warn("delivery submission failed",
			zap.String("agent_id", agentID),
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
	}
}

// writeAudit persists the audit row best-effort. Failure is logged and never
// aborts the operation.
func (r *Router) writeAudit(ctx context.Context, rec AuditRecord) {
	if err := r.audit.RecordMessage(ctx, rec); err != nil {
		r.logger.Error("audit write failed",
			zap.String("message_id", rec.ID.String()),
			zap.String("round_id", rec.RoundID),
			zap.Error(err),
		)
	}
}

// broadcastChat pushes the spectator-facing record for one operation to the
// room fan-out. This happens regardless of how many agents received the
// message.
func (r *Router) broadcastChat(rec AuditRecord, originalText string, sentAt int64) {
	effectsJSON, err := json.Marshal(rec.Effects)
	if err != nil {
		r.logger.Error("marshalling effect snapshot for broadcast", zap.Error(err))
		effectsJSON = nil
	}
	chat := message.PublicChatContent{
		MessageID:      rec.ID.String(),
		RoomID:         rec.RoomID,
		RoundID:        rec.RoundID,
		Sender:         rec.Sender,
		Text:           originalText,
		Timestamp:      sentAt,
		PostEffectText: rec.Deliveries,
		Effects:        effectsJSON,
	}
	r.chat.Broadcast(rec.RoomID, message.NewOutbound("router", chat))
}

func decodeContent[T message.Message](env message.Envelope, want message.Kind) (T, Result, bool) {
	var zero T
	if env.Kind != want {
		return zero, invalid(fmt.Sprintf("expected messageKind %q, got %q", want, env.Kind)), false
	}
	decoded, err := message.Decode(env)
	if err != nil {
		return zero, invalid(err.Error()), false
	}
	content, okCast := decoded.(T)
	if !okCast {
		return zero, invalid(fmt.Sprintf("content does not match kind %q", want)), false
	}
	return content, Result{}, true
}

func findParticipant(participants []round.Participant, agentID string) (round.Participant, bool) {
	for _, p := range participants {
		if p.AgentID == agentID {
			return p, true
		}
	}
	return round.Participant{}, false
}

func endpointsByAgent(participants []round.Participant) map[string]string {
	out := make(map[string]string, len(participants))
	for _, p := range participants {
		out[p.AgentID] = p.Endpoint
	}
	return out
}
