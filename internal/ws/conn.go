package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

// gorillaConn adapts a gorilla websocket connection to the Conn interface.
// gorilla permits one concurrent writer, so every write holds the mutex.
type gorillaConn struct {
	id string
	mu sync.Mutex
	ws *websocket.Conn
}

func newGorillaConn(ws *websocket.Conn) *gorillaConn {
	return &gorillaConn{id: uuid.NewString(), ws: ws}
}

func (c *gorillaConn) ID() string { return c.id }

func (c *gorillaConn) Send(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(payload)
}

func (c *gorillaConn) Ping(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

func (c *gorillaConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// clientCommand is the inbound control frame from a spectator connection.
type clientCommand struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`
	SentAt int64  `json:"sentAt,omitempty"`
}

// heartbeatAck mirrors a client heartbeat back with the server clock.
type heartbeatAck struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
}

// Server upgrades spectator HTTP requests to websocket connections and feeds
// their subscribe/unsubscribe/heartbeat commands into the Registry.
type Server struct {
	registry *Registry
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates a websocket Server over the given registry.
//
// Precondition: registry and logger must be non-nil.
func NewServer(registry *Registry, logger *zap.Logger) *Server {
	return &Server{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler that upgrades and services one spectator
// connection until it closes.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		wsConn, err := s.upgrader.Upgrade(rw, req, nil)
		if err != nil {
			s.logger.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		conn := newGorillaConn(wsConn)
		if err := s.registry.Register(conn); err != nil {
			s.logger.Error("registering connection", zap.Error(err))
			_ = wsConn.Close()
			return
		}

		wsConn.SetPongHandler(func(string) error {
			s.registry.HandlePong(conn.ID())
			return nil
		})

		s.readLoop(req.Context(), conn, wsConn)
	}
}

// readLoop services inbound control frames until the transport closes, then
// removes the connection from the registry.
func (s *Server) readLoop(ctx context.Context, conn *gorillaConn, wsConn *websocket.Conn) {
	defer s.registry.CloseConn(ctx, conn.ID())

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("connection read failed",
					zap.String("conn_id", conn.ID()),
					zap.Error(err),
				)
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.logger.Debug("ignoring malformed client command",
				zap.String("conn_id", conn.ID()),
			)
			continue
		}

		switch cmd.Type {
		case "subscribe":
			if err := s.registry.Subscribe(ctx, conn.ID(), cmd.RoomID); err != nil {
				s.logger.Info("subscribe rejected",
					zap.String("conn_id", conn.ID()),
					zap.String("room_id", cmd.RoomID),
					zap.Error(err),
				)
			}
		case "unsubscribe":
			s.registry.Unsubscribe(ctx, conn.ID())
		case "heartbeat":
			// Application-level heartbeat doubles as a pong for clients
			// that cannot answer control frames.
			s.registry.HandlePong(conn.ID())
			ack := heartbeatAck{
				Type:       "heartbeat",
				ServerTime: time.Now().UnixMilli(),
				ClientTime: cmd.SentAt,
			}
			if err := conn.Send(ack); err != nil {
				s.logger.Debug("heartbeat ack failed",
					zap.String("conn_id", conn.ID()),
					zap.Error(err),
				)
			}
		default:
			s.logger.Debug("ignoring unknown client command",
				zap.String("type", cmd.Type),
			)
		}
	}
}
