// Package rest executes JSON requests against the push backend.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ssepush-lite/internal/logging"
	"ssepush-lite/internal/pusherr"
)

const (
	HeaderAppID        = "X-Application-Id"
	HeaderAppKey       = "X-Application-Key"
	HeaderSessionToken = "X-Session-Token"

	maxResponseBytes = 4 << 20
)

// Executor is what the installation lifecycle needs from an HTTP layer.
type Executor interface {
	CreateRequest(path, method string) *Request
	// ExecuteRequest returns the raw response body. A non-2xx status yields a
	// *pusherr.BackendError.
	ExecuteRequest(ctx context.Context, req *Request) ([]byte, error)
	ExecuteRequestForJSON(ctx context.Context, req *Request) (map[string]any, error)
}

type Config struct {
	BaseURL      string
	AppID        string
	AppKey       string
	MasterKey    string
	SessionToken string
	Timeout      time.Duration
}

type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	log     logrus.FieldLogger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.log = l }
}

func New(cfg Config, opts ...Option) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("rest: invalid base url %q", cfg.BaseURL)
	}
	if cfg.AppID == "" || cfg.AppKey == "" {
		return nil, errors.New("rest: missing application id or key")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) CreateRequest(path, method string) *Request {
	return NewRequest(path, method)
}

func (c *Client) ExecuteRequest(ctx context.Context, req *Request) ([]byte, error) {
	var body io.Reader
	if v, ok := req.JSONBody(); ok {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("rest: encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	target := c.baseURL + req.ResolvedPath()
	hr, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}
	hr.Header.Set("Accept", "application/json")
	if body != nil {
		hr.Header.Set("Content-Type", "application/json")
	}
	hr.Header.Set(HeaderAppID, c.cfg.AppID)
	key := c.cfg.AppKey
	if req.UsesMasterKey() {
		if c.cfg.MasterKey == "" {
			return nil, pusherr.Validation("master key is not configured")
		}
		key = c.cfg.MasterKey
	}
	hr.Header.Set(HeaderAppKey, key)
	if c.cfg.SessionToken != "" {
		hr.Header.Set(HeaderSessionToken, c.cfg.SessionToken)
	}

	start := time.Now()
	resp, err := c.http.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("rest: %s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("rest: read response: %w", err)
	}
	c.log.WithFields(logrus.Fields{
		"method":  req.Method,
		"path":    req.Path,
		"status":  resp.StatusCode,
		"elapsed": time.Since(start).String(),
	}).Debug("backend request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &pusherr.BackendError{StatusCode: resp.StatusCode, Body: data}
	}
	return data, nil
}

func (c *Client) ExecuteRequestForJSON(ctx context.Context, req *Request) (map[string]any, error) {
	data, err := c.ExecuteRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("rest: decode response: %w", err)
	}
	return out, nil
}
