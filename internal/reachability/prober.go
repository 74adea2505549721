package reachability

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"ssepush-lite/internal/logging"
)

type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Prober periodically dials the backend and publishes the outcome.
type Prober struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc
	target   *Broadcaster
	log      logrus.FieldLogger
}

type ProberOption func(*Prober)

func WithInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithDialTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithDialer(dial DialFunc) ProberOption {
	return func(p *Prober) { p.dial = dial }
}

func WithProberLogger(l logrus.FieldLogger) ProberOption {
	return func(p *Prober) { p.log = l }
}

// NewProber probes the host of rawURL. The port defaults from the scheme.
func NewProber(rawURL string, target *Broadcaster, opts ...ProberOption) (*Prober, error) {
	addr, err := hostPort(rawURL)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	p := &Prober{
		addr:     addr,
		interval: 10 * time.Second,
		timeout:  3 * time.Second,
		dial:     d.DialContext,
		target:   target,
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Prober) Addr() string { return p.addr }

// Probe dials once and reports whether the connection succeeded.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	conn, err := p.dial(ctx, "tcp", p.addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Run probes until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		available := p.Probe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.target.Publish(available) {
			p.log.WithFields(logrus.Fields{"addr": p.addr, "available": available}).Info("reachability changed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func hostPort(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("reachability: invalid url %q", rawURL)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	switch u.Scheme {
	case "https":
		return net.JoinHostPort(u.Hostname(), "443"), nil
	case "http":
		return net.JoinHostPort(u.Hostname(), "80"), nil
	default:
		return "", fmt.Errorf("reachability: no port for scheme %q", u.Scheme)
	}
}
