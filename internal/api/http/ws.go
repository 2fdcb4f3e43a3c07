package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"storesearch/searchclient/internal/domain"
	"storesearch/searchclient/internal/metrics"
	"storesearch/searchclient/internal/search"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 4096
	wsSendBuffer   = 8
)

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// wsInput is a message from the client. Type "input" is debounced like
// keystrokes; "submit" dispatches at once.
type wsInput struct {
	Type  string `json:"type"`
	Term  string `json:"term"`
	Scope string `json:"scope"`
}

type sessionInfo struct {
	ID     string             `json:"id"`
	Scopes []domain.ScopeInfo `json:"scopes"`
}

// wsSession is one connected search renderer with its own orchestrator.
type wsSession struct {
	id           string
	hub          *sessionHub
	conn         *websocket.Conn
	send         chan []byte
	snapshot     chan []byte
	closed       chan struct{}
	closeOnce    sync.Once
	orchestrator *search.Orchestrator
	logger       *slog.Logger
}

type sessionHub struct {
	sessions   map[string]*wsSession
	register   chan *wsSession
	unregister chan *wsSession
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
	total      int
	logger     *slog.Logger
}

func newSessionHub(logger *slog.Logger) *sessionHub {
	return &sessionHub{
		sessions:   make(map[string]*wsSession),
		register:   make(chan *wsSession),
		unregister: make(chan *wsSession),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *sessionHub) run() {
	for {
		select {
		case <-h.done:
			for id, session := range h.sessions {
				_ = session.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(2*time.Second),
				)
				session.shutdown()
				delete(h.sessions, id)
			}
			h.setCount(0)
			h.logger.Debug("ws session hub stopped, all sessions disconnected")
			return
		case session := <-h.register:
			h.sessions[session.id] = session
			h.setCount(len(h.sessions))
			h.logger.Debug("ws session connected", slog.String("sessionId", session.id), slog.Int("total", len(h.sessions)))
		case session := <-h.unregister:
			if _, ok := h.sessions[session.id]; ok {
				delete(h.sessions, session.id)
				h.setCount(len(h.sessions))
				h.logger.Debug("ws session disconnected", slog.String("sessionId", session.id), slog.Int("total", len(h.sessions)))
			}
		}
	}
}

func (h *sessionHub) setCount(total int) {
	h.mu.Lock()
	h.total = total
	h.mu.Unlock()
	metrics.SessionsActive.Set(float64(total))
}

func (h *sessionHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

func (h *sessionHub) add(session *wsSession) bool {
	select {
	case h.register <- session:
		return true
	case <-h.done:
		return false
	}
}

func (h *sessionHub) remove(session *wsSession) {
	select {
	case h.unregister <- session:
	case <-h.done:
	}
}

// Close signals the hub to stop and disconnect all sessions.
func (h *sessionHub) Close() {
	h.stopOnce.Do(func() { close(h.done) })
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleSearchSocket(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/ws" {
		http.NotFound(w, r)
		return
	}
	if s.catalog == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search catalog is not configured")
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	id := uuid.NewString()
	annotate(r.Context(), slog.String("sessionId", id))
	logger := s.logger.With(slog.String("sessionId", id))
	session := &wsSession{
		id:       id,
		hub:      s.sessions,
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		snapshot: make(chan []byte, 1),
		closed:   make(chan struct{}),
		orchestrator: search.NewOrchestrator(s.catalog, s.searchCfg,
			search.WithLogger(logger),
			search.WithHealth(s.health),
		),
		logger: logger,
	}
	if !s.sessions.add(session) {
		session.shutdown()
		_ = conn.Close()
		return
	}

	scopes := domain.Scopes()
	info := sessionInfo{ID: id, Scopes: make([]domain.ScopeInfo, 0, len(scopes))}
	for _, scope := range scopes {
		info.Scopes = append(info.Scopes, scope.Info())
	}
	session.enqueue(wsMessage{Type: "session", Data: info})

	go session.writePump()
	go session.forwardSnapshots()
	go session.readPump()
}

// shutdown stops the session's orchestrator and its write pump.
func (c *wsSession) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.orchestrator.Close()
	})
}

// enqueue queues a control message, dropping it when the client is not
// keeping up.
func (c *wsSession) enqueue(msg wsMessage) {
	payload, ok := c.marshal(msg)
	if !ok {
		return
	}
	select {
	case <-c.closed:
	case c.send <- payload:
	default:
		c.logger.Debug("ws send buffer full, message dropped", slog.String("type", msg.Type))
	}
}

// enqueueSnapshot replaces any snapshot the write pump has not sent yet.
// Snapshots carry full state, so the newest one, and with it the final
// one of a generation, always reaches the client.
func (c *wsSession) enqueueSnapshot(snapshot domain.Snapshot) {
	payload, ok := c.marshal(wsMessage{Type: "snapshot", Data: snapshot})
	if !ok {
		return
	}
	for {
		select {
		case <-c.closed:
			return
		case c.snapshot <- payload:
			return
		default:
		}
		select {
		case <-c.snapshot:
		default:
		}
	}
}

func (c *wsSession) marshal(msg wsMessage) ([]byte, bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("ws marshal failed", slog.String("type", msg.Type), slog.String("error", err.Error()))
		return nil, false
	}
	return payload, true
}

func (c *wsSession) forwardSnapshots() {
	for snapshot := range c.orchestrator.Snapshots() {
		c.enqueueSnapshot(snapshot)
	}
}

func (c *wsSession) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.closed:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		case msg := <-c.snapshot:
			if err := c.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsSession) write(msg []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *wsSession) readPump() {
	defer func() {
		c.hub.remove(c)
		c.shutdown()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("ws read failed", slog.String("error", err.Error()))
			}
			return
		}
		c.handleInput(raw)
	}
}

func (c *wsSession) handleInput(raw []byte) {
	var input wsInput
	if err := json.Unmarshal(raw, &input); err != nil {
		c.sendError("invalid_message", "message must be a JSON object")
		return
	}
	if len(input.Term) > maxQueryLength {
		c.sendError("invalid_request", "query too long (max 500 characters)")
		return
	}
	scope, ok := domain.ParseScope(input.Scope)
	if !ok {
		c.sendError("invalid_request", "unknown scope")
		return
	}
	switch input.Type {
	case "input":
		c.orchestrator.SetInput(input.Term, scope)
	case "submit":
		c.orchestrator.Submit(input.Term, scope)
	default:
		c.sendError("invalid_message", "unknown message type")
	}
}

func (c *wsSession) sendError(code, message string) {
	c.enqueue(wsMessage{Type: "error", Data: map[string]string{
		"code":    code,
		"message": message,
	}})
}
