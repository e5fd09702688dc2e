// Package wsbus joins a sync channel hosted by a panelsync relay over a
// websocket connection.
package wsbus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"pkt.systems/panelsync/internal/logx"
	"pkt.systems/panelsync/internal/version"
	"pkt.systems/panelsync/schema"
	"pkt.systems/pslog"
)

const (
	// DefaultRetries bounds dial attempts after the first failure.
	DefaultRetries = 5
	writeWait      = 10 * time.Second
	listenDepth    = 256
)

// Options configures Dial. URL is the relay websocket endpoint, e.g.
// ws://127.0.0.1:8420/ws. Retries bounds dial attempts after the first
// failure: zero selects DefaultRetries and a negative value disables retries.
// MaxInterval caps the wait between attempts.
type Options struct {
	URL         string
	Name        schema.ChannelName
	Retries     int
	MaxInterval time.Duration
	Logger      pslog.Logger
}

// Channel implements core.Channel over a relay connection.
type Channel struct {
	conn *websocket.Conn
	name schema.ChannelName
	log  pslog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	listeners map[chan []byte]struct{}
	readDone  chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay, retrying with exponential backoff.
func Dial(ctx context.Context, opts Options) (*Channel, error) {
	name, err := schema.NormalizeChannelName(string(opts.Name))
	if err != nil {
		return nil, fmt.Errorf("channel name %q: %w", opts.Name, err)
	}
	target, err := endpoint(opts.URL, name)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	logger = logx.WithChannel(logger, name, "websocket")

	retries := opts.Retries
	switch {
	case retries == 0:
		retries = DefaultRetries
	case retries < 0:
		retries = 0
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	if opts.MaxInterval > 0 {
		policy.MaxInterval = opts.MaxInterval
	}
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	var conn *websocket.Conn
	attempt := 0
	dial := func() error {
		attempt++
		c, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			logger.Debug("relay dial failed", "url", target, "attempt", attempt, "err", err)
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(dial, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx)); err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", target, err)
	}
	logger.Info("relay connected", "url", target, "attempts", attempt)

	c := &Channel{
		conn:      conn,
		name:      name,
		log:       logger,
		listeners: make(map[chan []byte]struct{}),
		readDone:  make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

// Name returns the joined channel.
func (c *Channel) Name() schema.ChannelName {
	return c.name
}

// Post implements core.Channel.
func (c *Channel) Post(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return schema.ErrChannelClosed
	}
	kind := websocket.BinaryMessage
	if utf8.Valid(payload) {
		kind = websocket.TextMessage
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(kind, payload); err != nil {
		return fmt.Errorf("relay write: %w", err)
	}
	return nil
}

// Listen implements core.Channel.
func (c *Channel) Listen() (<-chan []byte, func()) {
	ch := make(chan []byte, listenDepth)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.listeners[ch] = struct{}{}
	c.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			if _, ok := c.listeners[ch]; ok {
				delete(c.listeners, ch)
				close(ch)
			}
			c.mu.Unlock()
		})
	}
}

// Close implements core.Channel. It ends every listener.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
		<-c.readDone
	})
	return err
}

func (c *Channel) readPump() {
	defer close(c.readDone)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		c.fanout(data)
	}
}

func (c *Channel) fanout(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for ch := range c.listeners {
		select {
		case ch <- data:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		c.log.Warn("relay message dropped", "listeners", dropped)
	}
}

func (c *Channel) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for ch := range c.listeners {
		delete(c.listeners, ch)
		close(ch)
	}
	c.mu.Unlock()
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Warn("relay connection lost", "err", err)
		return
	}
	c.log.Debug("relay connection closed")
}

func endpoint(raw string, name schema.ChannelName) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("relay url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("relay url scheme %q unsupported", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	q := u.Query()
	q.Set("channel", string(name))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
