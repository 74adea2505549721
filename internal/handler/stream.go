package handler

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ssepush-lite/internal/hub"
	"ssepush-lite/internal/logging"
	"ssepush-lite/internal/middleware"
	"ssepush-lite/internal/model"
	"ssepush-lite/internal/store"
)

const (
	defaultKeepAlive = 15 * time.Second
	streamBuffer     = 64
)

var (
	errStreamClosed = errors.New("stream closed")
	errStreamFull   = errors.New("stream buffer full")
)

type StreamHandler struct {
	Store     *store.Store
	Hub       *hub.Hub
	KeepAlive time.Duration
	Log       logrus.FieldLogger
}

// streamWriter queues messages for the goroutine serving the stream.
type streamWriter struct {
	ch   chan model.Message
	done chan struct{}
	once sync.Once
}

func newStreamWriter() *streamWriter {
	return &streamWriter{ch: make(chan model.Message, streamBuffer), done: make(chan struct{})}
}

func (w *streamWriter) Write(msg model.Message) error {
	select {
	case <-w.done:
		return errStreamClosed
	default:
	}
	select {
	case w.ch <- msg:
		return nil
	default:
		return errStreamFull
	}
}

func (w *streamWriter) Close() error {
	w.once.Do(func() { close(w.done) })
	return nil
}

func (h *StreamHandler) Serve(c *gin.Context) {
	id, ok := middleware.InstallationIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if _, ok := h.Store.Get(id); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	log := h.Log
	if log == nil {
		log = logging.Discard()
	}
	log = log.WithField("installation_id", id)

	w := newStreamWriter()
	conn := &hub.Connection{InstallationID: id, Writer: w}
	h.Hub.Register(conn)
	defer func() {
		h.Hub.Unregister(conn)
		_ = w.Close()
	}()

	c.Header("Content-Type", sse.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	log.Info("stream opened")
	defer log.Info("stream closed")

	interval := h.KeepAlive
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	keepAlive := time.NewTicker(interval)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case msg := <-w.ch:
			ev := sse.Event{Id: msg.ID, Event: msg.Event, Data: msg.Data}
			if err := sse.Encode(c.Writer, ev); err != nil {
				return
			}
			c.Writer.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(c.Writer, ": keep-alive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
