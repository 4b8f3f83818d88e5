package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Csepi/cal3-sub003/pkg/apperror"
	"github.com/Csepi/cal3-sub003/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the CORS allow-list on the HTTP side
	},
}

// ErrUnauthenticated is returned by an Authorizer when the token is not valid.
var ErrUnauthenticated = errors.New("realtime: invalid token")

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Authorizer validates token and checks that its subject may watch resourceID.
// It returns ErrUnauthenticated for bad tokens and an apperror for denied access.
type Authorizer func(ctx context.Context, token string, resourceID uuid.UUID) (userID uuid.UUID, err error)

// Client represents a single WebSocket connection watching one resource.
type Client struct {
	ID         string
	ResourceID uuid.UUID
	UserID     uuid.UUID
	JoinedAt   time.Time
	hub        *Hub
	conn       *websocket.Conn
	send       chan WSMessage
	logger     *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, logger *zap.Logger, authorize Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		resourceIDStr := c.Query("resource_id")
		token := c.Query("token")
		if resourceIDStr == "" || token == "" {
			response.BadRequest(c, "resource_id and token required")
			return
		}
		resourceID, err := uuid.Parse(resourceIDStr)
		if err != nil {
			response.BadRequest(c, "invalid resource_id")
			return
		}
		userID, err := authorize(c.Request.Context(), token, resourceID)
		if err != nil {
			if errors.Is(err, ErrUnauthenticated) {
				response.Unauthorized(c, "invalid token")
				return
			}
			if apperror.KindOf(err) == apperror.KindInternal {
				logger.Error("authorize websocket", zap.Error(err))
			}
			response.Error(c, err)
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:         uuid.New().String(),
			ResourceID: resourceID,
			UserID:     userID,
			JoinedAt:   time.Now(),
			hub:        hub,
			conn:       conn,
			send:       make(chan WSMessage, 256),
			logger:     logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// readPump keeps the connection alive. Clients only listen; the one inbound
// event answered is "ping".
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		if msg.Event == "ping" {
			select {
			case c.send <- WSMessage{Event: "pong"}:
			default:
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
