package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/apperr"
	"github.com/xkilldash9x/linkedin-inbox/internal/governor"
	"github.com/xkilldash9x/linkedin-inbox/internal/inbox"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Clients only send control frames.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API already answers any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// statusFrame is one pushed snapshot.
type statusFrame struct {
	Type      string          `json:"type"`
	Data      governor.Status `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (c *client) stop() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// hub tracks the open status streams per session key.
type hub struct {
	mu         sync.Mutex
	clients    map[string]map[*client]struct{}
	maxPerUser int
}

func newHub(maxPerUser int) *hub {
	if maxPerUser <= 0 {
		maxPerUser = 5
	}
	return &hub{clients: make(map[string]map[*client]struct{}), maxPerUser: maxPerUser}
}

// register adds conn under key, or closes it with a policy violation when
// key already holds the maximum.
func (h *hub) register(key string, conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[key]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[key] = set
	}
	if len(set) >= h.maxPerUser {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this user"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return nil
	}
	c := &client{conn: conn, done: make(chan struct{})}
	set[c] = struct{}{}
	return c
}

func (h *hub) unregister(key string, c *client) {
	h.mu.Lock()
	if set, ok := h.clients[key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, key)
		}
	}
	h.mu.Unlock()
	c.stop()
}

func (h *hub) count(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[key])
}

func (h *hub) closeAll() {
	h.mu.Lock()
	var all []*client
	for key, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
		delete(h.clients, key)
	}
	h.mu.Unlock()
	for _, c := range all {
		c.stop()
	}
}

// handleStatusStream upgrades to a websocket that receives the caller's
// governor status every StatusInterval. Browsers cannot set headers on the
// handshake so the token may come as ?token=.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = tokenFrom(r)
	}
	if token == "" {
		s.fail(w, r, "", apperr.New(apperr.KindUnauthorized, "api.ws", "authentication required"))
		return
	}
	u, err := s.store.UserByToken(r.Context(), token)
	if err != nil {
		s.fail(w, r, "", err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		s.logger.Warn("Websocket upgrade failed.", zap.Int64("user_id", u.ID), zap.Error(err))
		return
	}
	key := inbox.SessionKey(u.ID)
	c := s.hub.register(key, conn)
	if c == nil {
		s.logger.Warn("Websocket rejected, connection limit reached.", zap.String("account", key))
		return
	}
	s.logger.Debug("Status stream opened.", zap.String("account", key))

	s.goBackground(func(context.Context) { s.readPump(key, c) })
	s.goBackground(func(ctx context.Context) { s.writePump(ctx, key, c) })
}

// readPump discards client frames and tears the stream down when the peer
// goes away.
func (s *Server) readPump(key string, c *client) {
	defer s.hub.unregister(key, c)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Status stream read failed.", zap.String("account", key), zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) writePump(ctx context.Context, key string, c *client) {
	defer s.hub.unregister(key, c)
	status := time.NewTicker(s.cfg.StatusInterval)
	ping := time.NewTicker(pingPeriod)
	defer status.Stop()
	defer ping.Stop()

	push := func() error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteJSON(statusFrame{Type: "rate_limit_status", Data: s.gov.Status(key), Timestamp: time.Now().UTC()})
	}
	if err := push(); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case <-c.done:
			return
		case <-status.C:
			if err := push(); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
