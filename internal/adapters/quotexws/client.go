// Package quotexws is the authenticated websocket upstream. It speaks just
// enough of the socket.io (engine.io v3) framing to authorize a session,
// answer pings and load candle history.
package quotexws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"qxGateway/internal/domain"
	"qxGateway/internal/ports"
)

// Client implements ports.Upstream over a single websocket connection.
// Reads happen synchronously inside each call; no goroutine outlives a call.
type Client struct {
	wsURL   string
	origin  string
	demo    bool
	timeout time.Duration
	dialer  *websocket.Dialer
	logger  ports.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	index   int64
	pending string // event name announced by a binary placeholder frame
}

// Config holds configuration for the websocket client.
type Config struct {
	WSURL   string // wss://ws2.<host>/socket.io/?EIO=3&transport=websocket
	Origin  string // https://<host>
	Demo    bool
	Timeout time.Duration // Per-call read deadline when ctx has none
	Logger  ports.Logger
}

// DefaultWSURL derives the socket endpoint from the site base URL.
func DefaultWSURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: invalid base URL %q", ports.ErrConfigurationError, baseURL)
	}
	return "wss://ws2." + u.Host + "/socket.io/?EIO=3&transport=websocket", nil
}

// NewClient creates a disconnected client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for websocket upstream")
	}
	if cfg.WSURL == "" {
		return nil, fmt.Errorf("%w: websocket URL is empty", ports.ErrConfigurationError)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		wsURL:   cfg.WSURL,
		origin:  cfg.Origin,
		demo:    cfg.Demo,
		timeout: timeout,
		dialer:  &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: timeout},
		logger:  cfg.Logger,
	}, nil
}

// Connect dials the socket and authorizes sess. Any previous connection is dropped.
func (c *Client) Connect(ctx context.Context, sess *domain.Session) error {
	if !sess.HasToken() {
		return fmt.Errorf("%w: %w", ports.ErrConnectionFailed, ports.ErrSessionTokenEmpty)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()

	header := http.Header{}
	header.Set("User-Agent", sess.UserAgent)
	if sess.Cookies != "" {
		header.Set("Cookie", sess.Cookies)
	}
	if c.origin != "" {
		header.Set("Origin", c.origin)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.logger.Error(ctx, err, "Websocket dial failed", map[string]interface{}{"url": c.wsURL, "status": status})
		return c.handleError(ctx, err, "dial")
	}
	c.conn = conn
	c.pending = ""

	if err := c.authorize(ctx, sess.TokenValue()); err != nil {
		c.closeLocked()
		return err
	}
	c.logger.Info(ctx, "Websocket session authorized", map[string]interface{}{"demo": c.demo})
	return nil
}

func (c *Client) authorize(ctx context.Context, token string) error {
	isDemo := 0
	if c.demo {
		isDemo = 1
	}
	if err := c.emit(ctx, "authorization", map[string]interface{}{
		"session":      token,
		"isDemo":       isDemo,
		"tournamentId": 0,
	}); err != nil {
		return err
	}

	for {
		ev, err := c.next(ctx)
		if err != nil {
			return err
		}
		switch ev.name {
		case "s_authorization":
			return nil
		case "authorization/reject":
			return fmt.Errorf("%w: authorization rejected", ports.ErrConnectionFailed)
		}
	}
}

// CheckConnect sends a ping and waits for the pong.
func (c *Client) CheckConnect(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false
	}
	if err := c.write(ctx, "2"); err != nil {
		c.logger.Warn(ctx, "Websocket ping failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	for {
		ev, err := c.next(ctx)
		if err != nil {
			c.logger.Warn(ctx, "Websocket liveness probe failed", map[string]interface{}{"error": err.Error()})
			return false
		}
		if ev.name == eventPong {
			return true
		}
	}
}

// GetCandles loads span worth of history for asset ending at end.
func (c *Client) GetCandles(ctx context.Context, asset string, end time.Time, span time.Duration, period int) ([]domain.RawCandle, error) {
	if asset == "" || period <= 0 {
		return nil, fmt.Errorf("%w: asset and positive period are required", ports.ErrInvalidRequest)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, fmt.Errorf("%w: not connected", ports.ErrConnectionFailed)
	}

	c.index++
	index := end.Unix()*100 + c.index%100
	if err := c.emit(ctx, "history/load", map[string]interface{}{
		"asset":  asset,
		"index":  index,
		"time":   end.Unix(),
		"offset": int64(span / time.Second),
		"period": period,
	}); err != nil {
		return nil, err
	}

	for {
		ev, err := c.next(ctx)
		if err != nil {
			return nil, err
		}
		raws, ok, err := parseHistory(ev.payload, asset)
		if err != nil {
			c.logger.Warn(ctx, "Ignoring malformed history frame", map[string]interface{}{"event": ev.name, "error": err.Error()})
			continue
		}
		if ok {
			return raws, nil
		}
	}
}

// Close drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

// --- framing ---

const eventPong = "pong"

type event struct {
	name    string
	payload json.RawMessage
}

func (c *Client) emit(ctx context.Context, name string, payload interface{}) error {
	body, err := json.Marshal([]interface{}{name, payload})
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ports.ErrInvalidRequest, name, err)
	}
	return c.write(ctx, "42"+string(body))
}

func (c *Client) write(ctx context.Context, frame string) error {
	_ = c.conn.SetWriteDeadline(c.deadline(ctx))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return c.handleError(ctx, err, "write")
	}
	return nil
}

// next reads frames until one carries an event, answering server pings on the way.
func (c *Client) next(ctx context.Context) (event, error) {
	for {
		_ = c.conn.SetReadDeadline(c.deadline(ctx))
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return event{}, c.handleError(ctx, err, "read")
		}

		if kind == websocket.BinaryMessage {
			if len(data) > 0 && data[0] == 0x04 {
				data = data[1:]
			}
			name := c.pending
			c.pending = ""
			return event{name: name, payload: data}, nil
		}

		ev, ok, err := c.decodeText(ctx, string(data))
		if err != nil {
			return event{}, err
		}
		if ok {
			return ev, nil
		}
	}
}

func (c *Client) decodeText(ctx context.Context, frame string) (event, bool, error) {
	switch {
	case frame == "2":
		return event{}, false, c.write(ctx, "3")
	case frame == "3":
		return event{name: eventPong}, true, nil
	case strings.HasPrefix(frame, "41"):
		return event{}, false, fmt.Errorf("%w: server closed the namespace", ports.ErrConnectionFailed)
	case strings.HasPrefix(frame, "42"):
		return decodeEvent(frame[2:])
	case strings.HasPrefix(frame, "45"):
		// 451-["name",{"_placeholder":true,"num":0}]: payload follows as a binary frame.
		dash := strings.IndexByte(frame, '-')
		if dash < 0 {
			return event{}, false, nil
		}
		ev, ok, _ := decodeEvent(frame[dash+1:])
		if ok {
			c.pending = ev.name
		}
		return event{}, false, nil
	default:
		// Open packet, namespace connect and anything unknown.
		return event{}, false, nil
	}
}

func decodeEvent(body string) (event, bool, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(body), &parts); err != nil || len(parts) == 0 {
		return event{}, false, nil
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return event{}, false, nil
	}
	ev := event{name: name}
	if len(parts) > 1 {
		ev.payload = parts[1]
	}
	return ev, true, nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}

// handleError maps websocket failures onto the standard port errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	c.logger.Debug(ctx, "Websocket operation failed", map[string]interface{}{"operation": operation, "error": err.Error()})
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: websocket %s: %w", ports.ErrTimeout, operation, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: websocket %s: %w", ports.ErrContextCanceled, operation, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: websocket %s: %w", ports.ErrTimeout, operation, err)
	default:
		return fmt.Errorf("%w: websocket %s: %w", ports.ErrConnectionFailed, operation, err)
	}
}

var _ ports.Upstream = (*Client)(nil)
