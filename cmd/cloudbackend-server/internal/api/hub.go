package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coregx/cloudbackend"
	"github.com/coregx/cloudbackend/model"
)

const writeTimeout = 10 * time.Second

// Frame is one JSON message written to a socket.
type Frame struct {
	Type     string          `json:"type"`
	TopicID  string          `json:"topicId,omitempty"`
	Messages []model.Message `json:"messages,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Frame types.
const (
	FrameSubscribed = "subscribed"
	FrameMessages   = "messages"
	FrameError      = "error"
	FramePong       = "pong"
)

// Hub fans dispatched batches out to WebSocket clients.
//
// The first socket for a topic subscribes the MessagingManager to it; the
// last one to leave unsubscribes. Every socket on a topic receives the same
// batches.
//
// Thread safety: Safe for concurrent use.
type Hub struct {
	manager  *cloudbackend.MessagingManager
	logger   zerolog.Logger
	upgrader gws.Upgrader

	mu     sync.Mutex
	topics map[string]map[*client]struct{}
}

type client struct {
	conn    *gws.Conn
	writeMu sync.Mutex
}

// NewHub creates a hub on top of manager.
func NewHub(manager *cloudbackend.MessagingManager, logger zerolog.Logger) *Hub {
	return &Hub{
		manager: manager,
		logger:  logger.With().Str("component", "WebSocketHub").Logger(),
		upgrader: gws.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		topics: map[string]map[*client]struct{}{},
	}
}

// ServeWS handles GET /api/v1/ws?topic=&max=
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	topicID := r.URL.Query().Get("topic")
	if topicID == "" {
		writeError(w, http.StatusBadRequest, "topic is required", cloudbackend.ErrCodeValidation)
		return
	}
	maxOffline, _ := strconv.Atoi(r.URL.Query().Get("max"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed.")
		return
	}
	c := &client{conn: conn}
	defer conn.Close()

	if err := h.join(topicID, maxOffline, c); err != nil {
		_ = c.write(Frame{Type: FrameError, TopicID: topicID, Error: err.Error()})
		return
	}
	defer h.leave(topicID, c)

	_ = c.write(Frame{Type: FrameSubscribed, TopicID: topicID})
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(b, &req); err != nil {
			_ = c.write(Frame{Type: FrameError, Error: "invalid JSON"})
			continue
		}
		switch req.Type {
		case "ping":
			_ = c.write(Frame{Type: FramePong})
		default:
			_ = c.write(Frame{Type: FrameError, Error: "unsupported message type"})
		}
	}
}

// Clients returns the number of sockets attached to topicID.
func (h *Hub) Clients(topicID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topicID])
}

func (h *Hub) join(topicID string, maxOffline int, c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.topics[topicID]
	if !ok {
		if err := h.manager.Subscribe(topicID, maxOffline, h.fanOut(topicID)); err != nil {
			return err
		}
		set = map[*client]struct{}{}
		h.topics[topicID] = set
	}
	set[c] = struct{}{}
	h.logger.Debug().Str("topic_id", topicID).Int("clients", len(set)).Msg("Client joined.")
	return nil
}

func (h *Hub) leave(topicID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.topics[topicID]
	delete(set, c)
	if len(set) > 0 {
		return
	}
	delete(h.topics, topicID)
	if err := h.manager.Unsubscribe(topicID); err != nil {
		h.logger.Error().Err(err).Str("topic_id", topicID).Msg("Unsubscribe failed.")
	}
}

func (h *Hub) fanOut(topicID string) model.MessageHandler {
	return func(messages []model.Message, err error) {
		frame := Frame{Type: FrameMessages, TopicID: topicID, Messages: messages}
		if err != nil {
			frame = Frame{Type: FrameError, TopicID: topicID, Error: err.Error()}
		}

		h.mu.Lock()
		clients := make([]*client, 0, len(h.topics[topicID]))
		for c := range h.topics[topicID] {
			clients = append(clients, c)
		}
		h.mu.Unlock()

		for _, c := range clients {
			if err := c.write(frame); err != nil {
				h.logger.Debug().Err(err).Str("topic_id", topicID).Msg("Write to client failed.")
			}
		}
	}
}

func (c *client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}
