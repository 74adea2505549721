// Package receive keeps an SSE connection to the push backend open for the
// current installation.
package receive

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"ssepush-lite/internal/logging"
	"ssepush-lite/internal/model"
	"ssepush-lite/internal/pusherr"
	"ssepush-lite/internal/reachability"
)

type State int

const (
	StateIdle State = iota
	StateConnect
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnect:
		return "connect"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport is the SSE stream the client drives. Callbacks may arrive on any
// goroutine.
type Transport interface {
	Open(creds model.Credentials)
	// Close must be safe on a closed transport.
	Close()
	OnOpen(fn func())
	OnClose(fn func())
	OnError(fn func(status int, body []byte))
	On(eventType string, fn func(model.Message))
}

// Installations is the part of installation.Service the client needs.
type Installations interface {
	Current() (*model.Installation, error)
	Save(ctx context.Context, inst *model.Installation) (*model.Installation, error)
	AcquireLock() error
	ReleaseLock()
}

type Client struct {
	transport Transport
	installs  Installations
	notifier  reachability.Notifier
	log       logrus.FieldLogger

	onOpen   func()
	onClose  func()
	onError  func(status int, body []byte)
	handlers map[string]func(model.Message)

	mu          sync.Mutex
	state       State
	attempts    int
	unsubscribe func()
}

func New(transport Transport, installs Installations, opts ...Option) (*Client, error) {
	c := &Client{
		transport: transport,
		installs:  installs,
		log:       logging.Discard(),
		handlers:  make(map[string]func(model.Message)),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	transport.OnOpen(c.handleOpen)
	transport.OnClose(c.handleClose)
	transport.OnError(c.handleError)
	for eventType, fn := range c.handlers {
		transport.On(eventType, c.dispatcher(fn))
	}
	return c, nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the stream with the current installation's credentials. It
// fails with pusherr.ErrConnectInProgress unless the client is idle.
func (c *Client) Connect() error {
	if c.State() != StateIdle {
		return pusherr.ErrConnectInProgress
	}
	inst, err := c.installs.Current()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return pusherr.ErrConnectInProgress
	}
	if !inst.Registered() || !inst.Credentials.Valid() {
		c.mu.Unlock()
		return pusherr.Validation("installation has no sse credentials")
	}
	c.state = StateConnect
	if c.notifier != nil && c.unsubscribe == nil {
		c.unsubscribe = c.notifier.Subscribe(c.handleReachability)
	}
	c.mu.Unlock()

	c.log.WithField("installation_id", inst.ID).Info("connecting")
	c.transport.Open(inst.Credentials)
	return nil
}

// Disconnect closes the stream and stops following reachability. Calling it
// on an idle client is a no-op apart from closing the transport again.
func (c *Client) Disconnect() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.state = StateIdle
	c.mu.Unlock()

	c.transport.Close()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (c *Client) handleOpen() {
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()

	c.log.Debug("stream opened")
	if c.onOpen != nil {
		c.safely("open", c.onOpen)
	}
}

func (c *Client) handleClose() {
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	c.log.Debug("stream closed")
	if c.onClose != nil {
		c.safely("close", c.onClose)
	}
}

// handleError retries an unauthorized stream once per successful open by
// re-registering the installation. Everything else goes to the error handler.
func (c *Client) handleError(status int, body []byte) {
	c.mu.Lock()
	if status != http.StatusUnauthorized || c.attempts > 0 {
		c.attempts = 0
		c.mu.Unlock()
		c.emitError(status, body)
		return
	}
	c.mu.Unlock()

	if err := c.reauthenticate(); err != nil {
		c.log.WithError(err).WithField("status", status).Warn("auto recovery failed")
		c.emitError(status, body)
	}
}

func (c *Client) reauthenticate() error {
	if err := c.installs.AcquireLock(); err != nil {
		return err
	}
	inst, err := c.installs.Current()
	if err != nil {
		c.installs.ReleaseLock()
		return err
	}
	if !inst.Registered() || !inst.Credentials.Valid() {
		c.installs.ReleaseLock()
		return pusherr.Validation("installation has no sse credentials")
	}

	saved, err := c.installs.Save(context.Background(), inst)
	c.installs.ReleaseLock()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.attempts++
	reopen := c.state == StateConnect
	c.mu.Unlock()

	if reopen {
		c.log.WithField("installation_id", saved.ID).Info("credentials refreshed, reopening")
		c.transport.Open(saved.Credentials)
	}
	return nil
}

func (c *Client) handleReachability(available bool) {
	state := c.State()
	switch {
	case available && state == StateIdle:
		if err := c.Connect(); err != nil {
			c.log.WithError(err).Warn("reconnect after network change failed")
		}
	case !available && state == StateConnect:
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		c.log.Info("network lost, closing stream")
		c.transport.Close()
	}
}

func (c *Client) emitError(status int, body []byte) {
	if c.onError == nil {
		return
	}
	c.safely("error", func() { c.onError(status, body) })
}

func (c *Client) dispatcher(fn func(model.Message)) func(model.Message) {
	return func(msg model.Message) {
		c.safely("message", func() { fn(msg) })
	}
}

// safely keeps a panicking handler from unwinding into the transport.
func (c *Client) safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithFields(logrus.Fields{"handler": kind, "panic": r}).Error("handler panicked")
		}
	}()
	fn()
}
