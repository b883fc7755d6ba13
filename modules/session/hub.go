package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"nanostyle-server/modules/common/middleware"
)

const (
	MessageSessionState  = "session_state"
	MessageSessionClosed = "session_closed"

	sendBufferSize = 16
)

// Message - WebSocket push 메시지
type Message struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Session   *View  `json:"session,omitempty"`
}

type client struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
}

// Hub - 세션별 WebSocket 연결 관리, 상태 변경을 push
type Hub struct {
	manager  *Manager
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]map[*client]struct{}
}

// NewHub - Hub 생성 후 manager observer로 등록
func NewHub(manager *Manager, allowedOrigins []string) *Hub {
	h := &Hub{
		manager: manager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		clients: make(map[string]map[*client]struct{}),
	}
	manager.AddObserver(h)
	return h
}

// ServeWS - GET /ws?session={id}
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if _, err := h.manager.Get(sessionID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, sendBufferSize),
	}
	if err := h.register(c); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("WebSocket session vanished before registration")
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// SessionChanged - Observer
func (h *Hub) SessionChanged(v View) {
	msg, err := encodeMessage(Message{Type: MessageSessionState, SessionID: v.ID, Session: &v})
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling message")
		return
	}
	h.broadcast(v.ID, msg)
}

// SessionRemoved - Observer, 종료 알림 후 연결 정리
func (h *Hub) SessionRemoved(id string) {
	msg, err := encodeMessage(Message{Type: MessageSessionClosed, SessionID: id})
	if err == nil {
		h.broadcast(id, msg)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[id] {
		h.unregisterLocked(c)
	}
}

// Close - 모든 연결 종료 (shutdown 용)
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			h.unregisterLocked(c)
		}
	}
}

func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[sessionID])
}

func (h *Hub) broadcast(sessionID string, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients[sessionID] {
		select {
		case c.send <- msg:
		default:
			// 느린 클라이언트는 끊음
			log.Warn().Str("session", sessionID).Msg("⚠️  Dropping slow WebSocket client")
			h.unregisterLocked(c)
		}
	}
}

// register - 현재 상태를 첫 메시지로 넣고 등록
// h.mu 안에서 스냅샷을 잡으므로 이후 broadcast는 항상 그 뒤에 도착
func (h *Hub) register(c *client) error {
	h.mu.Lock()
	view, err := h.manager.Get(c.sessionID)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	msg, err := encodeMessage(Message{Type: MessageSessionState, SessionID: c.sessionID, Session: &view})
	if err != nil {
		h.mu.Unlock()
		return err
	}
	c.send <- msg

	set, ok := h.clients[c.sessionID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.sessionID] = set
	}
	set[c] = struct{}{}
	count := len(set)
	h.mu.Unlock()

	h.manager.metrics.connectionOpened()
	log.Info().Str("session", c.sessionID).Int("clients", count).Msg("👤 Client connected")
	return nil
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(c)
}

// unregisterLocked - h.mu 잡은 상태에서 호출, send 채널은 여기서만 닫음
func (h *Hub) unregisterLocked(c *client) {
	set, ok := h.clients[c.sessionID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}

	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.sessionID)
	}
	close(c.send)
	h.manager.metrics.connectionClosed()
	log.Info().Str("session", c.sessionID).Int("remaining", len(set)).Msg("👋 Client disconnected")
}

// readPump - 클라이언트 메시지는 사용하지 않음, 연결 종료 감지용
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("session", c.sessionID).Msg("WebSocket error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				log.Warn().Err(err).Str("session", c.sessionID).Msg("WebSocket write error")
			}
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func encodeMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}
