// Package sse is the Server-Sent Events transport used by the receive client.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	ginsse "github.com/gin-contrib/sse"
	"github.com/sirupsen/logrus"

	"ssepush-lite/internal/logging"
	"ssepush-lite/internal/model"
)

const maxErrorBody = 64 << 10

// Client streams one SSE connection at a time. Opening again supersedes the
// previous stream without reporting it closed.
type Client struct {
	http *http.Client
	log  logrus.FieldLogger

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	lastID   string
	onOpen   func()
	onClose  func()
	onError  func(status int, body []byte)
	handlers map[string]func(model.Message)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.log = l }
}

func New(opts ...Option) *Client {
	c := &Client{
		http:     &http.Client{},
		log:      logging.Discard(),
		handlers: make(map[string]func(model.Message)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

func (c *Client) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *Client) OnError(fn func(status int, body []byte)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

func (c *Client) On(eventType string, fn func(model.Message)) {
	if eventType == "" {
		eventType = model.DefaultEventType
	}
	c.mu.Lock()
	c.handlers[eventType] = fn
	c.mu.Unlock()
}

// Open connects to creds.URI with basic auth in the background.
func (c *Client) Open(creds model.Credentials) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	c.cancel = cancel
	lastID := c.lastID
	c.mu.Unlock()

	go c.run(ctx, gen, creds, lastID)
}

// Close stops the current stream. The stream reports OnClose when it winds
// down. Closing an idle client does nothing.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) run(ctx context.Context, gen uint64, creds model.Credentials, lastID string) {
	defer c.finish(gen)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, creds.URI, nil)
	if err != nil {
		c.fail(gen, 0, []byte(err.Error()))
		return
	}
	req.SetBasicAuth(creds.Username, creds.Password)
	req.Header.Set("Accept", ginsse.ContentType)
	req.Header.Set("Cache-Control", "no-cache")
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.fail(gen, 0, []byte(err.Error()))
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.log.WithField("status", resp.StatusCode).Debug("stream rejected")
		c.fail(gen, resp.StatusCode, body)
		return
	}

	c.mu.Lock()
	onOpen, current := c.onOpen, c.gen == gen
	c.mu.Unlock()
	if current && onOpen != nil {
		onOpen()
	}
	c.consume(gen, resp.Body)
}

// consume frames events on blank lines. A trailing partial event is dropped.
func (c *Client) consume(gen uint64, body io.Reader) {
	r := bufio.NewReader(body)
	var block bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if strings.HasSuffix(line, "\n") {
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				if block.Len() > 0 {
					c.dispatch(gen, block.Bytes())
					block.Reset()
				}
			} else {
				block.WriteString(line)
				block.WriteByte('\n')
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				c.log.WithError(err).Debug("stream read ended")
			}
			return
		}
	}
}

func (c *Client) dispatch(gen uint64, block []byte) {
	events, err := ginsse.Decode(bytes.NewReader(block))
	if err != nil {
		c.log.WithError(err).Warn("undecodable event")
		return
	}
	for _, ev := range events {
		data, _ := ev.Data.(string)
		if data == "" {
			continue
		}
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		if ev.Id != "" {
			c.lastID = ev.Id
		}
		fn := c.handlers[ev.Event]
		c.mu.Unlock()

		if fn == nil {
			c.log.WithField("event", ev.Event).Debug("no handler for event")
			continue
		}
		fn(model.Message{ID: ev.Id, Event: ev.Event, Data: data})
	}
}

func (c *Client) fail(gen uint64, status int, body []byte) {
	c.mu.Lock()
	fn := c.onError
	current := c.gen == gen
	c.mu.Unlock()
	if current && fn != nil {
		fn(status, body)
	}
}

// finish reports OnClose unless a later Open replaced this stream.
func (c *Client) finish(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
