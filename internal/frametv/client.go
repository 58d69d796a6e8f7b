package frametv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// DefaultPort is the TV's unencrypted WebSocket and REST port.
	DefaultPort = 8001

	artChannelPath = "/api/v2/channels/com.samsung.art-app"

	eventChannelConnect      = "ms.channel.connect"
	eventChannelUnauthorized = "ms.channel.unauthorized"
	eventD2DMessage          = "d2d_service_message"
	eventError               = "error"

	defaultConnectTimeout = 5 * time.Second
	defaultReadTimeout    = 30 * time.Second
)

// Config contains connection settings for one TV.
type Config struct {
	Host string
	Port int

	// Name is shown on the TV's pairing prompt.
	Name string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Name == "" {
		c.Name = "FrameGate"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
}

func (c *Config) hostPort() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client is one open art-mode channel.
type Client struct {
	cfg    Config
	conn   *websocket.Conn
	http   *http.Client
	mu     sync.Mutex
	closed atomic.Bool
}

// outerMessage is the channel-level envelope for everything the TV sends.
type outerMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// artMessage is a decoded d2d_service_message payload.
type artMessage map[string]json.RawMessage

func (m artMessage) str(key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (m artMessage) event() string {
	return m.str("event")
}

func (m artMessage) requestID() string {
	if id := m.str("request_id"); id != "" {
		return id
	}
	return m.str("id")
}

// Dial opens the art-mode channel and waits for the TV to accept it.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if cfg.Host == "" {
		return nil, fmt.Errorf("frametv: host is required")
	}

	u := url.URL{
		Scheme:   "ws",
		Host:     cfg.hostPort(),
		Path:     artChannelPath,
		RawQuery: "name=" + url.QueryEscape(base64.StdEncoding.EncodeToString([]byte(cfg.Name))),
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.ConnectTimeout,
		NetDialContext:   (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // Handshake response body is unused
	}
	if err != nil {
		return nil, fmt.Errorf("frametv: connecting to %s: %w", cfg.hostPort(), err)
	}

	c := &Client{
		cfg:  cfg,
		conn: conn,
		http: &http.Client{Timeout: cfg.ConnectTimeout},
	}
	if err := c.awaitChannelConnect(); err != nil {
		conn.Close() //nolint:errcheck // Handshake already failed
		return nil, err
	}
	return c, nil
}

// Host returns the TV address this client talks to.
func (c *Client) Host() string {
	return c.cfg.Host
}

// Close closes the channel. It is safe to call more than once.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck // Best effort goodbye
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}

func (c *Client) awaitChannelConnect() error {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ConnectTimeout)); err != nil {
		return fmt.Errorf("frametv: setting deadline: %w", err)
	}
	for {
		var msg outerMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("frametv: waiting for channel connect: %w", err)
		}
		switch msg.Event {
		case eventChannelConnect:
			return nil
		case eventChannelUnauthorized:
			return ErrUnauthorized
		}
	}
}

// send writes one art_app_request and returns its request id.
func (c *Client) send(request string, params map[string]any) (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}

	id := uuid.NewString()
	body := make(map[string]any, len(params)+3)
	for k, v := range params {
		body[k] = v
	}
	body["request"] = request
	body["id"] = id
	body["request_id"] = id

	inner, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("frametv: encoding %s: %w", request, err)
	}

	envelope := map[string]any{
		"method": "ms.channel.emit",
		"params": map[string]any{
			"event": "art_app_request",
			"to":    "host",
			"data":  string(inner),
		},
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return "", fmt.Errorf("frametv: setting deadline: %w", err)
	}
	if err := c.conn.WriteJSON(envelope); err != nil {
		return "", fmt.Errorf("frametv: sending %s: %w", request, err)
	}
	return id, nil
}

// await reads until the reply to request id arrives. When event is set the
// reply must also carry that sub-event; replies without a request id are
// then matched on the event name alone. Unrelated messages are dropped.
func (c *Client) await(request, id, event string) (artMessage, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return nil, fmt.Errorf("frametv: setting deadline: %w", err)
	}

	for {
		var outer outerMessage
		if err := c.conn.ReadJSON(&outer); err != nil {
			if c.closed.Load() {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("frametv: awaiting %s: %w", request, err)
		}
		if outer.Event == eventChannelUnauthorized {
			return nil, ErrUnauthorized
		}
		if outer.Event != eventD2DMessage {
			continue
		}

		var msg artMessage
		if err := decodeEmbedded(outer.Data, &msg); err != nil {
			continue
		}

		rid := msg.requestID()
		if rid != "" && rid != id {
			continue
		}
		if msg.event() == eventError {
			return nil, &RejectedError{Request: request, Code: msg.str("error_code")}
		}
		if event != "" && msg.event() != event {
			continue
		}
		if event == "" && rid == "" {
			continue
		}
		return msg, nil
	}
}

// call sends a request and waits for its reply under the client lock.
func (c *Client) call(request string, params map[string]any, event string) (artMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.send(request, params)
	if err != nil {
		return nil, err
	}
	return c.await(request, id, event)
}

// notify sends a request without waiting for a reply.
func (c *Client) notify(request string, params map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.send(request, params)
	return err
}

func unexpected(request, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrUnexpectedResponse, request, fmt.Sprintf(format, args...))
}
