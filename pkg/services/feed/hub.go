// Package feed pushes reading and site change notifications to live
// observers over websockets.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Shadan1221/jal-rakshak/pkg/ontology"
	"github.com/Shadan1221/jal-rakshak/pkg/shared"
)

const (
	authTimeout    = 5 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

var ErrHubStopped = errors.New("feed hub stopped")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AuthFunc validates a bearer token and returns the identity it carries.
type AuthFunc func(token string) (*ontology.Identity, error)

type subscriber struct {
	id         string
	identity   *ontology.Identity
	send       chan shared.Event
	registered chan struct{}
}

// Hub fans events out to websocket clients and in-process subscribers.
// Field users only see events about their own readings.
type Hub struct {
	authenticate AuthFunc
	logger       *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]*subscriber

	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan shared.Event
	done       chan struct{}
}

func NewHub(authenticate AuthFunc, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		authenticate: authenticate,
		logger:       logger.With("component", "feed"),
		subscribers:  make(map[string]*subscriber),
		register:     make(chan *subscriber, 16),
		unregister:   make(chan *subscriber, 16),
		broadcast:    make(chan shared.Event, 256),
		done:         make(chan struct{}),
	}
}

// Run is the hub main loop. It returns when ctx is done and closes every
// subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, s := range h.subscribers {
				close(s.send)
				delete(h.subscribers, id)
			}
			h.mu.Unlock()
			h.logger.Info("feed hub stopped")
			return

		case s := <-h.register:
			h.mu.Lock()
			h.subscribers[s.id] = s
			h.mu.Unlock()
			close(s.registered)
			h.logger.Debug("subscriber registered", "subscriber", s.id, "role", roleOf(s.identity))

		case s := <-h.unregister:
			h.drop(s)

		case ev := <-h.broadcast:
			h.mu.Lock()
			for id, s := range h.subscribers {
				if !visible(s.identity, ev) {
					continue
				}
				select {
				case s.send <- ev:
				default:
					h.logger.Warn("subscriber too slow, disconnecting", "subscriber", id)
					close(s.send)
					delete(h.subscribers, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) drop(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[s.id]; ok {
		delete(h.subscribers, s.id)
		close(s.send)
		h.logger.Debug("subscriber unregistered", "subscriber", s.id)
	}
}

// Deliver queues an event for every subscriber allowed to see it. It never
// blocks; events are dropped when the hub is saturated.
func (h *Hub) Deliver(ev shared.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("feed event dropped", "type", ev.Type, "subject", ev.Subject)
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Subscribe registers an in-process observer. The channel is closed when
// cancel is called or the hub stops.
func (h *Hub) Subscribe(identity *ontology.Identity) (<-chan shared.Event, func(), error) {
	s, err := h.add(identity)
	if err != nil {
		return nil, nil, err
	}
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			select {
			case h.unregister <- s:
			case <-h.done:
			}
		})
	}
	return s.send, cancel, nil
}

func (h *Hub) add(identity *ontology.Identity) (*subscriber, error) {
	s := &subscriber{
		id:         uuid.New().String(),
		identity:   identity,
		send:       make(chan shared.Event, sendBuffer),
		registered: make(chan struct{}),
	}
	select {
	case h.register <- s:
	case <-h.done:
		return nil, ErrHubStopped
	}
	select {
	case <-s.registered:
		return s, nil
	case <-h.done:
		return nil, ErrHubStopped
	}
}

// ServeWS upgrades the request to a websocket. The token comes from the
// token query parameter or, failing that, from a first {"token": "..."}
// message sent within the auth timeout.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var identity *ontology.Identity
	if token := r.URL.Query().Get("token"); token != "" {
		id, err := h.authenticate(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		identity = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	if identity == nil {
		identity, err = h.readAuth(conn)
		if err != nil {
			h.logger.Info("websocket auth failed", "error", err)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"), time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}
	}

	s, err := h.add(identity)
	if err != nil {
		_ = conn.Close()
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(map[string]string{"status": "authenticated", "user_id": identity.ID}); err != nil {
		h.drop(s)
		_ = conn.Close()
		return
	}

	go h.writePump(conn, s)
	go h.readPump(conn, s)
}

func (h *Hub) readAuth(conn *websocket.Conn) (*ontology.Identity, error) {
	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
	var msg struct {
		Token string `json:"token"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	return h.authenticate(strings.TrimPrefix(msg.Token, "Bearer "))
}

// readPump discards client messages and keeps the read deadline fresh.
func (h *Hub) readPump(conn *websocket.Conn, s *subscriber) {
	defer func() {
		select {
		case h.unregister <- s:
		case <-h.done:
		}
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "subscriber", s.id, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, s *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev, ok := <-s.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("failed to marshal feed event", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// visible reports whether the identity may see the event. Site events are
// public; reading events are limited to reviewers and the submitter.
func visible(id *ontology.Identity, ev shared.Event) bool {
	if id == nil || id.HasRole(ontology.RoleSupervisor, ontology.RoleAnalyst) {
		return true
	}
	if strings.HasPrefix(ev.Subject, shared.SubjectSites+".") {
		return true
	}
	reading, ok := ev.Data["reading"].(map[string]interface{})
	if !ok {
		return false
	}
	submitter, _ := reading["submitter_id"].(string)
	return submitter != "" && submitter == id.ID
}

func roleOf(id *ontology.Identity) string {
	if id == nil {
		return "internal"
	}
	return id.Role
}
