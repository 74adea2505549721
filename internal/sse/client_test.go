package sse

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	ginsse "github.com/gin-contrib/sse"
	"github.com/stretchr/testify/require"

	"ssepush-lite/internal/model"
)

const waitFor = 2 * time.Second

type recorder struct {
	mu       sync.Mutex
	opened   chan struct{}
	closed   chan struct{}
	errored  chan int
	messages chan model.Message
	bodies   []string
}

func newRecorder(c *Client, eventTypes ...string) *recorder {
	r := &recorder{
		opened:   make(chan struct{}, 8),
		closed:   make(chan struct{}, 8),
		errored:  make(chan int, 8),
		messages: make(chan model.Message, 16),
	}
	c.OnOpen(func() { r.opened <- struct{}{} })
	c.OnClose(func() { r.closed <- struct{}{} })
	c.OnError(func(status int, body []byte) {
		r.mu.Lock()
		r.bodies = append(r.bodies, string(body))
		r.mu.Unlock()
		r.errored <- status
	})
	for _, et := range eventTypes {
		c.On(et, func(m model.Message) { r.messages <- m })
	}
	return r
}

func wait[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func TestClient_StreamsEvents(t *testing.T) {
	var gotUser, gotPass, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", ginsse.ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, ": keepalive\n\n")
		_ = ginsse.Encode(w, ginsse.Event{Id: "1", Data: "hello"})
		_ = ginsse.Encode(w, ginsse.Event{Id: "2", Event: "alert", Data: "fire"})
		_, _ = fmt.Fprint(w, "event: ping\r\n\r\n")
		_, _ = fmt.Fprint(w, "data: line one\ndata: line two\n\n")
		_, _ = fmt.Fprint(w, "data: partial")
	}))
	defer srv.Close()

	c := New()
	rec := newRecorder(c, "", "alert", "ping")
	c.Open(model.Credentials{Username: "12345", Password: "secret", URI: srv.URL})

	wait(t, rec.opened, "open")
	m := wait(t, rec.messages, "first message")
	require.Equal(t, model.Message{ID: "1", Event: "message", Data: "hello"}, m)
	m = wait(t, rec.messages, "alert")
	require.Equal(t, model.Message{ID: "2", Event: "alert", Data: "fire"}, m)
	m = wait(t, rec.messages, "multi-line message")
	require.Equal(t, "line one\nline two", m.Data)
	wait(t, rec.closed, "close at end of stream")

	select {
	case extra := <-rec.messages:
		t.Fatalf("unexpected message %+v", extra)
	default:
	}
	require.Equal(t, "12345", gotUser)
	require.Equal(t, "secret", gotPass)
	require.Equal(t, ginsse.ContentType, gotAccept)
}

func TestClient_RejectedStreamReportsErrorThenClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"expired"}`))
	}))
	defer srv.Close()

	c := New()
	rec := newRecorder(c)
	c.Open(model.Credentials{Username: "u", Password: "p", URI: srv.URL})

	require.Equal(t, http.StatusUnauthorized, wait(t, rec.errored, "error"))
	wait(t, rec.closed, "close")
	rec.mu.Lock()
	require.Equal(t, []string{`{"error":"expired"}`}, rec.bodies)
	rec.mu.Unlock()
	select {
	case <-rec.opened:
		t.Fatalf("rejected stream must not report open")
	default:
	}
}

func TestClient_ReopenFromErrorHandlerSuppressesClose(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = ginsse.Encode(w, ginsse.Event{Data: "after reopen"})
	}))
	defer srv.Close()

	c := New()
	opened := make(chan struct{}, 2)
	closed := make(chan struct{}, 2)
	messages := make(chan model.Message, 2)
	c.OnOpen(func() { opened <- struct{}{} })
	c.OnClose(func() { closed <- struct{}{} })
	c.On("", func(m model.Message) { messages <- m })
	c.OnError(func(status int, _ []byte) {
		if status == http.StatusUnauthorized {
			c.Open(model.Credentials{Username: "u", Password: "fresh", URI: srv.URL})
		}
	})
	c.Open(model.Credentials{Username: "u", Password: "stale", URI: srv.URL})

	wait(t, opened, "open after reopen")
	require.Equal(t, "after reopen", wait(t, messages, "message").Data)
	wait(t, closed, "close of second stream")
	select {
	case <-closed:
		t.Fatalf("superseded stream must not report close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_CloseStopsStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New()
	rec := newRecorder(c)
	c.Close()

	c.Open(model.Credentials{Username: "u", Password: "p", URI: srv.URL})
	wait(t, rec.opened, "open")
	c.Close()
	c.Close()
	wait(t, rec.closed, "close")
	select {
	case <-rec.closed:
		t.Fatalf("expected a single close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClient_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New()
	rec := newRecorder(c)
	c.Open(model.Credentials{Username: "u", Password: "p", URI: url})

	require.Equal(t, 0, wait(t, rec.errored, "network error"))
	wait(t, rec.closed, "close")
}

func TestClient_SendsLastEventID(t *testing.T) {
	ids := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids <- r.Header.Get("Last-Event-ID")
		w.WriteHeader(http.StatusOK)
		_ = ginsse.Encode(w, ginsse.Event{Id: "42", Data: "x"})
	}))
	defer srv.Close()

	c := New()
	rec := newRecorder(c, "")
	creds := model.Credentials{Username: "u", Password: "p", URI: srv.URL}

	c.Open(creds)
	require.Equal(t, "", wait(t, ids, "first request"))
	wait(t, rec.messages, "message")
	wait(t, rec.closed, "close")

	c.Open(creds)
	require.Equal(t, "42", wait(t, ids, "second request"))
}
