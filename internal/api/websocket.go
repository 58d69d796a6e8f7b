package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/framegate/internal/events"
	"github.com/nerrad567/framegate/internal/infrastructure/config"
	"github.com/nerrad567/framegate/internal/infrastructure/logging"
)

// Event stream message types.
const (
	WSTypeHello       = "hello"
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypeSubscribed  = "subscribed"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeError       = "error"

	// WSTopicAll follows every state change. Operation timings are only
	// streamed to clients that name operation.completed or operation.*.
	WSTopicAll = "*"

	// wsSendBufferSize is how many messages may wait for a client before it
	// is disconnected as too slow.
	wsSendBufferSize = 64
)

// WSClientMessage is a request from a stream client. Topics are event
// types ("artwork.deleted"), families ("artwork.*") or "*".
type WSClientMessage struct {
	Type   string   `json:"type"`
	ID     string   `json:"id,omitempty"`
	Topics []string `json:"topics,omitempty"`
}

// WSServerMessage is sent to stream clients. Hello lists the event types
// in Topics; subscribed echoes the client's current topics.
type WSServerMessage struct {
	Type   string        `json:"type"`
	ID     string        `json:"id,omitempty"`
	Topics []string      `json:"topics,omitempty"`
	Event  *events.Event `json:"event,omitempty"`
	Error  string        `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Cross-origin pages are filtered by the CORS middleware.
		return true
	},
}

// topicFilter is the set of topics one client follows.
type topicFilter struct {
	all      bool
	types    map[events.Type]struct{}
	families map[string]struct{}
}

func newTopicFilter() topicFilter {
	return topicFilter{
		types:    make(map[events.Type]struct{}),
		families: make(map[string]struct{}),
	}
}

func (f *topicFilter) matches(t events.Type) bool {
	if _, ok := f.types[t]; ok {
		return true
	}
	if _, ok := f.families[t.Family()]; ok {
		return true
	}
	return f.all && t != events.OperationCompleted
}

func (f *topicFilter) apply(topics []string, add bool) {
	for _, topic := range topics {
		family, isFamily := strings.CutSuffix(topic, ".*")
		switch {
		case topic == WSTopicAll:
			f.all = add
		case isFamily && add:
			f.families[family] = struct{}{}
		case isFamily:
			delete(f.families, family)
		case add:
			f.types[events.Type(topic)] = struct{}{}
		default:
			delete(f.types, events.Type(topic))
		}
	}
}

func (f *topicFilter) list() []string {
	out := make([]string, 0, len(f.types)+len(f.families)+1)
	if f.all {
		out = append(out, WSTopicAll)
	}
	for family := range f.families {
		out = append(out, family+".*")
	}
	for t := range f.types {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// unknownTopics returns the topics that name no event type or family.
func unknownTopics(topics []string) []string {
	var bad []string
	for _, topic := range topics {
		if topic == WSTopicAll {
			continue
		}
		if family, ok := strings.CutSuffix(topic, ".*"); ok {
			if !slices.ContainsFunc(events.Types(), func(t events.Type) bool { return t.Family() == family }) {
				bad = append(bad, topic)
			}
			continue
		}
		if !slices.Contains(events.Types(), events.Type(topic)) {
			bad = append(bad, topic)
		}
	}
	return bad
}

func eventTopics() []string {
	types := events.Types()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

// Hub streams events to WebSocket clients. It implements events.Sink.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	topics topicFilter
}

func (c *wsClient) follows(t events.Type) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics.matches(t)
}

// NewHub creates a hub. Zero timings in cfg get the configuration defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements events.Sink. The event is encoded once and queued for
// every client following its type. Clients whose queue is full are
// disconnected.
func (h *Hub) Publish(_ context.Context, e events.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(WSServerMessage{Type: WSTypeEvent, Event: &e})
	if err != nil {
		h.logger.Error("encoding event for websocket", "type", e.Type, "error", err)
		return
	}

	var (
		slow       []*wsClient
		recipients int
	)
	h.mu.RLock()
	for c := range h.clients {
		if !c.follows(e.Type) {
			continue
		}
		select {
		case c.send <- data:
			recipients++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("websocket client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		h.remove(c)
	}
	if recipients > 0 {
		h.logger.Debug("event streamed", "type", e.Type, "recipients", recipients)
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// remove unregisters c and closes its queue, which ends its write pump.
// Queues are only written under the read lock, so closing under the write
// lock cannot race a send.
func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// reply queues msg for c. Replies to removed or backed-up clients are dropped.
func (h *Hub) reply(c *wsClient, msg WSServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// handleWebSocket upgrades the request and greets the client with the
// list of event types it can follow.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
		topics: newTopicFilter(),
	}
	s.hub.add(c)
	s.hub.reply(c, WSServerMessage{Type: WSTypeHello, Topics: eventTopics()})

	go s.hub.writePump(c)
	go s.hub.readPump(c)
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	wait := time.Duration(h.cfg.PingInterval+h.cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(h.cfg.MaxMessageSize))
	//nolint:errcheck // A failed deadline surfaces as a read error
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings; any message counts.
		//nolint:errcheck // A failed deadline surfaces as a read error
		c.conn.SetReadDeadline(time.Now().Add(wait))
		h.handle(c, data)
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(time.Duration(h.cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	writeWait := time.Duration(h.cfg.PongTimeout) * time.Second

	for {
		select {
		case data, ok := <-c.send:
			//nolint:errcheck // A failed deadline surfaces as a write error
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // Closing anyway
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // A failed deadline surfaces as a write error
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) handle(c *wsClient, data []byte) {
	var msg WSClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.reply(c, WSServerMessage{Type: WSTypeError, Error: "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		if bad := unknownTopics(msg.Topics); len(bad) > 0 {
			h.reply(c, WSServerMessage{
				Type:  WSTypeError,
				ID:    msg.ID,
				Error: "unknown topics: " + strings.Join(bad, ", "),
			})
			return
		}
		c.mu.Lock()
		c.topics.apply(msg.Topics, msg.Type == WSTypeSubscribe)
		current := c.topics.list()
		c.mu.Unlock()

		h.logger.Debug("websocket topics changed", "topics", current)
		h.reply(c, WSServerMessage{Type: WSTypeSubscribed, ID: msg.ID, Topics: current})
	case WSTypePing:
		h.reply(c, WSServerMessage{Type: WSTypePong, ID: msg.ID})
	default:
		h.reply(c, WSServerMessage{Type: WSTypeError, ID: msg.ID, Error: "unknown message type: " + msg.Type})
	}
}
