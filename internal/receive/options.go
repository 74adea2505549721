package receive

import (
	"errors"

	"github.com/sirupsen/logrus"

	"ssepush-lite/internal/model"
	"ssepush-lite/internal/reachability"
)

type Option func(*Client) error

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) error {
		if l == nil {
			return errors.New("receive: nil logger")
		}
		c.log = l
		return nil
	}
}

// WithNotifier enables reconnecting on network availability changes.
func WithNotifier(n reachability.Notifier) Option {
	return func(c *Client) error {
		c.notifier = n
		return nil
	}
}

func OnOpen(fn func()) Option {
	return func(c *Client) error {
		if fn == nil {
			return errors.New("receive: nil open handler")
		}
		c.onOpen = fn
		return nil
	}
}

func OnClose(fn func()) Option {
	return func(c *Client) error {
		if fn == nil {
			return errors.New("receive: nil close handler")
		}
		c.onClose = fn
		return nil
	}
}

// OnError receives transport failures that were not recovered.
func OnError(fn func(status int, body []byte)) Option {
	return func(c *Client) error {
		if fn == nil {
			return errors.New("receive: nil error handler")
		}
		c.onError = fn
		return nil
	}
}

// OnMessage handles events of one type. An empty type means
// model.DefaultEventType. A later registration for the same type wins.
func OnMessage(eventType string, fn func(model.Message)) Option {
	return func(c *Client) error {
		if fn == nil {
			return errors.New("receive: nil message handler")
		}
		if eventType == "" {
			eventType = model.DefaultEventType
		}
		c.handlers[eventType] = fn
		return nil
	}
}
