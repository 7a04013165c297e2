package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"casino-settlement/internal/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler feeds settlement events to connected clients. Events
// arrive over redis pub/sub, so every API instance delivers to its own
// connections regardless of which instance settled the deposit or
// withdrawal.
type WebSocketHandler struct {
	accounts *services.AccountService
	redis    *services.RedisService
	hub      *webSocketHub
	log      *logrus.Logger
}

type webSocketHub struct {
	clients    map[int64][]*websocket.Conn
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan *services.Event
	log        *logrus.Logger
}

type wsClient struct {
	userID int64
	conn   *websocket.Conn
}

func NewWebSocketHandler(accounts *services.AccountService, redis *services.RedisService, log *logrus.Logger) *WebSocketHandler {
	hub := &webSocketHub{
		clients:    make(map[int64][]*websocket.Conn),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan *services.Event, 100),
		log:        log,
	}

	return &WebSocketHandler{
		accounts: accounts,
		redis:    redis,
		hub:      hub,
		log:      log,
	}
}

// Run drives the hub and the redis subscription until ctx is cancelled.
func (h *WebSocketHandler) Run(ctx context.Context) {
	go h.hub.run(ctx)

	sub := h.redis.SubscribeEvents(ctx)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var event services.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.log.WithError(err).Warn("malformed event on pub/sub channel")
				continue
			}
			h.hub.broadcast <- &event
		}
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := c.GetInt64("user_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &wsClient{userID: userID, conn: conn}
	h.hub.register <- client

	defer func() {
		h.hub.unregister <- client
		conn.Close()
	}()

	h.sendBalance(c.Request.Context(), client)

	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Debug("websocket read error")
			}
			break
		}
		if msg.Type == "PING" {
			conn.WriteJSON(gin.H{"type": "PONG", "timestamp": time.Now().Unix()})
		}
	}
}

func (h *WebSocketHandler) sendBalance(ctx context.Context, client *wsClient) {
	acct, err := h.accounts.GetOrCreate(ctx, client.userID)
	if err != nil {
		h.log.WithError(err).WithField("user_id", client.userID).Warn("failed to load balance for websocket")
		return
	}
	client.conn.WriteJSON(gin.H{
		"type": "BALANCE_UPDATE",
		"data": acct.BalanceResponse(),
	})
}

func (hub *webSocketHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-hub.register:
			hub.clients[client.userID] = append(hub.clients[client.userID], client.conn)
			hub.log.WithField("user_id", client.userID).Debug("websocket client registered")

		case client := <-hub.unregister:
			conns := hub.clients[client.userID]
			for i, conn := range conns {
				if conn == client.conn {
					hub.clients[client.userID] = append(conns[:i], conns[i+1:]...)
					break
				}
			}
			if len(hub.clients[client.userID]) == 0 {
				delete(hub.clients, client.userID)
			}
			hub.log.WithField("user_id", client.userID).Debug("websocket client unregistered")

		case event := <-hub.broadcast:
			for _, conn := range hub.clients[event.UserID] {
				if err := conn.WriteJSON(event); err != nil {
					hub.log.WithError(err).WithField("user_id", event.UserID).Debug("websocket write failed")
				}
			}
		}
	}
}
