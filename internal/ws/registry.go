// Package ws maintains live spectator connections grouped by room: subscribe,
// unsubscribe, heartbeats, and best-effort room fan-out.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/message"
)

// ErrUnknownRoom is returned when a subscribe names a room that does not exist.
var ErrUnknownRoom = errors.New("unknown room")

// ErrConnClosed is returned when an operation references a connection that
// has already been removed from the registry.
var ErrConnClosed = errors.New("connection closed")

// Conn is one live bidirectional spectator channel. Implementations must be
// safe for concurrent Send/Ping/Close.
type Conn interface {
	// ID returns the connection's unique identifier.
	ID() string
	// Send writes one JSON payload to the peer.
	Send(payload any) error
	// Ping sends a liveness probe that the peer answers with a pong.
	Ping(deadline time.Time) error
	// Close tears down the transport.
	Close() error
}

// CountStore persists per-room spectator counts.
type CountStore interface {
	UpdateParticipantCount(ctx context.Context, roomID string, count int) error
}

// RoomChecker validates room existence on subscribe.
type RoomChecker interface {
	RoomExists(ctx context.Context, roomID string) (bool, error)
}

type connState struct {
	conn   Conn
	roomID string // empty while connected but unsubscribed
	// pending is the armed pong-timeout timer, nil when no ping is
	// outstanding.
	pending *time.Timer
}

// Registry tracks which connection is subscribed to which room and drives the
// heartbeat and reconciliation loops. All methods are safe for concurrent
// use; the registry is injected, never a process-wide singleton.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn // roomID -> connID -> conn
	conns map[string]*connState      // connID -> state

	cfg       config.HeartbeatConfig
	counts    CountStore
	roomCheck RoomChecker
	logger    *zap.Logger
}

// NewRegistry creates an empty connection Registry.
//
// Precondition: counts, roomCheck, and logger must be non-nil; cfg must be validated.
func NewRegistry(cfg config.HeartbeatConfig, counts CountStore, roomCheck RoomChecker, logger *zap.Logger) *Registry {
	return &Registry{
		rooms:     make(map[string]map[string]Conn),
		conns:     make(map[string]*connState),
		cfg:       cfg,
		counts:    counts,
		roomCheck: roomCheck,
		logger:    logger,
	}
}

// Register adds a connected-but-unsubscribed connection. The connection is
// heartbeated from this point on.
//
// Precondition: conn must be non-nil with a unique ID.
func (r *Registry) Register(conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[conn.ID()]; exists {
		return fmt.Errorf("connection %q already registered", conn.ID())
	}
	r.conns[conn.ID()] = &connState{conn: conn}
	return nil
}

// Subscribe binds a connection to a room, implicitly leaving any previous
// room. The new spectator count is persisted and broadcast to the room.
//
// Postcondition: The connection belongs to exactly the given room, or
// ErrUnknownRoom / ErrConnClosed is returned and membership is unchanged.
func (r *Registry) Subscribe(ctx context.Context, connID, roomID string) error {
	exists, err := r.roomCheck.RoomExists(ctx, roomID)
	if err != nil {
		return fmt.Errorf("checking room %q: %w", roomID, err)
	}
	if !exists {
		return fmt.Errorf("%w: %q", ErrUnknownRoom, roomID)
	}

	r.mu.Lock()
	state, okConn := r.conns[connID]
	if !okConn {
		r.mu.Unlock()
		return ErrConnClosed
	}

	oldRoom := state.roomID
	if oldRoom == roomID {
		r.mu.Unlock()
		return nil
	}
	if oldRoom != "" {
		r.removeFromRoomLocked(connID, oldRoom)
	}
	state.roomID = roomID
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]Conn)
	}
	r.rooms[roomID][connID] = state.conn
	newCount := len(r.rooms[roomID])
	oldCount := len(r.rooms[oldRoom])
	r.mu.Unlock()

	if oldRoom != "" {
		r.publishCount(ctx, oldRoom, oldCount)
	}
	r.publishCount(ctx, roomID, newCount)
	return nil
}

// Unsubscribe detaches a connection from its room without closing it.
func (r *Registry) Unsubscribe(ctx context.Context, connID string) {
	r.mu.Lock()
	state, okConn := r.conns[connID]
	if !okConn || state.roomID == "" {
		r.mu.Unlock()
		return
	}
	roomID := state.roomID
	state.roomID = ""
	r.removeFromRoomLocked(connID, roomID)
	count := len(r.rooms[roomID])
	r.mu.Unlock()

	r.publishCount(ctx, roomID, count)
}

// CloseConn removes a connection entirely: room membership, heartbeat timer,
// and transport. Safe to call more than once; cleanup runs exactly once.
func (r *Registry) CloseConn(ctx context.Context, connID string) {
	r.mu.Lock()
	state, okConn := r.conns[connID]
	if !okConn {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	if state.pending != nil {
		state.pending.Stop()
		state.pending = nil
	}
	roomID := state.roomID
	var count int
	if roomID != "" {
		r.removeFromRoomLocked(connID, roomID)
		count = len(r.rooms[roomID])
	}
	r.mu.Unlock()

	if err := state.conn.Close(); err != nil {
		r.logger.Debug("closing connection transport",
			zap.String("conn_id", connID),
			zap.Error(err),
		)
	}
	if roomID != "" {
		r.publishCount(ctx, roomID, count)
	}
}

// HandlePong cancels the pending heartbeat timeout for a connection.
func (r *Registry) HandlePong(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, okConn := r.conns[connID]
	if !okConn || state.pending == nil {
		return
	}
	state.pending.Stop()
	state.pending = nil
}

// Broadcast sends a payload to every connection in the room. Per-connection
// send failures are logged and never abort the fan-out. Broadcasting to a
// missing room is a logged no-op.
func (r *Registry) Broadcast(roomID string, payload any) {
	r.BroadcastExcept(roomID, payload, "")
}

// BroadcastExcept is Broadcast minus one excluded connection, used to avoid
// echoing a sender's own message back to itself.
func (r *Registry) BroadcastExcept(roomID string, payload any, excludeConnID string) {
	r.mu.RLock()
	set, okRoom := r.rooms[roomID]
	targets := make([]Conn, 0, len(set))
	for id, c := range set {
		if id == excludeConnID {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	if !okRoom {
		r.logger.Debug("broadcast to room with no connections",
			zap.String("room_id", roomID),
		)
		return
	}

	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			r.logger.Warn("broadcast send failed",
				zap.String("room_id", roomID),
				zap.String("conn_id", c.ID()),
				zap.Error(err),
			)
		}
	}
}

// RoomSize returns the number of connections currently subscribed to a room.
func (r *Registry) RoomSize(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// ConnCount returns the total number of registered connections.
func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RunHeartbeat pings every connection on each interval tick and arms the
// pong-timeout timer. A connection that misses the timeout is force-closed
// and cleaned up. Blocks until ctx is cancelled.
func (r *Registry) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.PingAll(ctx)
		}
	}
}

// PingAll sends one heartbeat round: every registered connection is pinged
// and given cfg.Timeout to answer.
func (r *Registry) PingAll(ctx context.Context) {
	r.mu.Lock()
	type probe struct {
		id   string
		conn Conn
	}
	probes := make([]probe, 0, len(r.conns))
	deadline := time.Now().Add(r.cfg.Timeout)
	for id, state := range r.conns {
		if state.pending != nil {
			// Previous ping still outstanding; the armed timer will
			// handle it.
			continue
		}
		id := id
		state.pending = time.AfterFunc(r.cfg.Timeout, func() {
			r.expireConn(ctx, id)
		})
		probes = append(probes, probe{id: id, conn: state.conn})
	}
	r.mu.Unlock()

	for _, p := range probes {
		if err := p.conn.Ping(deadline); err != nil {
			r.logger.Debug("heartbeat ping failed",
				zap.String("conn_id", p.id),
				zap.Error(err),
			)
		}
	}
}

// expireConn force-closes a connection whose pong never arrived.
func (r *Registry) expireConn(ctx context.Context, connID string) {
	r.mu.RLock()
	_, stillThere := r.conns[connID]
	r.mu.RUnlock()
	if !stillThere {
		return
	}
	r.logger.Info("closing connection after heartbeat timeout",
		zap.String("conn_id", connID),
	)
	r.CloseConn(ctx, connID)
}

// RunReconciler periodically rewrites persisted participant counts from the
// actual in-memory room sizes, self-healing drift from missed updates.
// Blocks until ctx is cancelled.
func (r *Registry) RunReconciler(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile persists the current size of every room.
func (r *Registry) Reconcile(ctx context.Context) {
	r.mu.RLock()
	sizes := make(map[string]int, len(r.rooms))
	for roomID, set := range r.rooms {
		sizes[roomID] = len(set)
	}
	r.mu.RUnlock()

	for roomID, count := range sizes {
		if err := r.counts.UpdateParticipantCount(ctx, roomID, count); err != nil {
			r.logger.Warn("reconciling participant count failed",
				zap.String("room_id", roomID),
				zap.Error(err),
			)
		}
	}
}

// removeFromRoomLocked deletes the connection from the room set, dropping the
// room entry when it empties. Caller holds r.mu.
func (r *Registry) removeFromRoomLocked(connID, roomID string) {
	set, okRoom := r.rooms[roomID]
	if !okRoom {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.rooms, roomID)
	}
}

// publishCount persists the room's spectator count and broadcasts it to the
// room. Both are best-effort.
func (r *Registry) publishCount(ctx context.Context, roomID string, count int) {
	if err := r.counts.UpdateParticipantCount(ctx, roomID, count); err != nil {
		r.logger.Warn("persisting participant count failed",
			zap.String("room_id", roomID),
			zap.Int("count", count),
			zap.Error(err),
		)
	}
	r.Broadcast(roomID, message.NewOutbound("server", message.ParticipantCountContent{
		RoomID: roomID,
		Count:  count,
	}))
}
