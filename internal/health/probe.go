// Package health provides single-shot reachability checks for the backend.
package health

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single probe attempt.
const DefaultTimeout = time.Second

// Prober performs exactly one reachability check.
// Check never returns an error: refused, reset and timed-out attempts all
// report false.
type Prober interface {
	Check(ctx context.Context) bool

	// Endpoint returns a human-readable description of the target.
	Endpoint() string
}

// Observer receives the outcome and latency of every probe attempt.
type Observer interface {
	ObserveProbe(reachable bool, latency time.Duration)
}

// Mode selects the probe implementation.
type Mode string

const (
	// ModeHTTP issues a GET and treats any HTTP response as healthy.
	ModeHTTP Mode = "http"

	// ModeTCP only requires the TCP handshake to complete.
	ModeTCP Mode = "tcp"
)

// Config describes the health endpoint.
type Config struct {
	Mode    Mode
	Host    string
	Port    int
	Path    string
	Timeout time.Duration

	// Observer is optional.
	Observer Observer
}

// New returns the prober for cfg.Mode. Unknown modes fall back to HTTP.
func New(cfg Config) Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Mode == ModeTCP {
		return NewTCPProbe(net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)), cfg.Timeout, cfg.Observer)
	}
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	url := "http://" + net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)) + path
	return NewHTTPProbe(url, cfg.Timeout, cfg.Observer)
}

// HTTPProbe checks an HTTP endpoint. Any response, whatever its status code,
// counts as reachable: the listener is up, which is all startup cares about.
type HTTPProbe struct {
	url      string
	timeout  time.Duration
	client   *http.Client
	observer Observer
}

// NewHTTPProbe creates an HTTP prober for url.
func NewHTTPProbe(url string, timeout time.Duration, observer Observer) *HTTPProbe {
	return &HTTPProbe{
		url:     url,
		timeout: timeout,
		client: &http.Client{
			// Every probe dials afresh.
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		observer: observer,
	}
}

// Check performs one GET bounded by the probe timeout.
func (p *HTTPProbe) Check(ctx context.Context) bool {
	start := time.Now()
	ok := p.check(ctx)
	if p.observer != nil {
		p.observer.ObserveProbe(ok, time.Since(start))
	}
	return ok
}

func (p *HTTPProbe) check(ctx context.Context) bool {
	// The context deadline aborts dial, headers and body alike, so a
	// half-open connection is torn down when time runs out.
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	return true
}

// Endpoint returns the probed URL.
func (p *HTTPProbe) Endpoint() string {
	return p.url
}

// TCPProbe checks that a TCP listener accepts connections.
type TCPProbe struct {
	addr     string
	timeout  time.Duration
	observer Observer
}

// NewTCPProbe creates a TCP prober for addr (host:port).
func NewTCPProbe(addr string, timeout time.Duration, observer Observer) *TCPProbe {
	return &TCPProbe{addr: addr, timeout: timeout, observer: observer}
}

// Check performs one dial bounded by the probe timeout.
func (p *TCPProbe) Check(ctx context.Context) bool {
	start := time.Now()

	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	ok := err == nil
	if ok {
		_ = conn.Close()
	}

	if p.observer != nil {
		p.observer.ObserveProbe(ok, time.Since(start))
	}
	return ok
}

// Endpoint returns the probed address.
func (p *TCPProbe) Endpoint() string {
	return "tcp://" + p.addr
}

// Func adapts a function to the Prober interface.
type Func func(ctx context.Context) bool

// Check calls f.
func (f Func) Check(ctx context.Context) bool { return f(ctx) }

// Endpoint returns a placeholder description.
func (f Func) Endpoint() string { return "func" }

var (
	_ Prober = (*HTTPProbe)(nil)
	_ Prober = (*TCPProbe)(nil)
	_ Prober = Func(nil)
)
