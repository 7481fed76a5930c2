package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Test Helpers
// =============================================================================

type recordingObserver struct {
	mu        sync.Mutex
	results   []bool
	latencies []time.Duration
}

func (o *recordingObserver) ObserveProbe(reachable bool, latency time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, reachable)
	o.latencies = append(o.latencies, latency)
}

func (o *recordingObserver) Results() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]bool(nil), o.results...)
}

// closedAddr returns an address that nothing is listening on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// =============================================================================
// Tests: HTTPProbe
// =============================================================================

func TestHTTPProbe_AnyStatusIsReachable(t *testing.T) {
	statuses := []int{http.StatusOK, http.StatusNotFound, http.StatusInternalServerError, http.StatusUnauthorized}

	for _, status := range statuses {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer srv.Close()

			p := NewHTTPProbe(srv.URL, time.Second, nil)
			if !p.Check(context.Background()) {
				t.Errorf("Check() = false for status %d, want true", status)
			}
		})
	}
}

func TestHTTPProbe_RedirectIsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://192.0.2.1/login", http.StatusFound)
	}))
	defer srv.Close()

	p := NewHTTPProbe(srv.URL, time.Second, nil)
	if !p.Check(context.Background()) {
		t.Error("Check() = false for redirect, want true")
	}
}

func TestHTTPProbe_Refused(t *testing.T) {
	p := NewHTTPProbe("http://"+closedAddr(t)+"/", time.Second, nil)
	if p.Check(context.Background()) {
		t.Error("Check() = true against closed port, want false")
	}
}

func TestHTTPProbe_TimeoutAbortsRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewHTTPProbe(srv.URL, 50*time.Millisecond, nil)

	start := time.Now()
	ok := p.Check(context.Background())
	elapsed := time.Since(start)

	if ok {
		t.Error("Check() = true for hung server, want false")
	}
	if elapsed > time.Second {
		t.Errorf("Check() took %v, want ~50ms", elapsed)
	}
}

func TestHTTPProbe_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewHTTPProbe(srv.URL, time.Second, nil)
	if p.Check(ctx) {
		t.Error("Check() = true with cancelled context, want false")
	}
}

func TestHTTPProbe_Observer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	obs := &recordingObserver{}
	good := NewHTTPProbe(srv.URL, time.Second, obs)
	bad := NewHTTPProbe("http://"+closedAddr(t)+"/", time.Second, obs)

	good.Check(context.Background())
	bad.Check(context.Background())

	got := obs.Results()
	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("observer results = %v, want [true false]", got)
	}
}

// =============================================================================
// Tests: TCPProbe
// =============================================================================

func TestTCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	up := NewTCPProbe(ln.Addr().String(), time.Second, nil)
	if !up.Check(context.Background()) {
		t.Error("Check() = false against listener, want true")
	}

	down := NewTCPProbe(closedAddr(t), time.Second, nil)
	if down.Check(context.Background()) {
		t.Error("Check() = true against closed port, want false")
	}
}

// =============================================================================
// Tests: New
// =============================================================================

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantType string
		wantEP   string
	}{
		{
			name:     "http default path",
			cfg:      Config{Mode: ModeHTTP, Host: "localhost", Port: 8080},
			wantType: "http",
			wantEP:   "http://localhost:8080/",
		},
		{
			name:     "http custom path",
			cfg:      Config{Mode: ModeHTTP, Host: "127.0.0.1", Port: 9000, Path: "/actuator/health"},
			wantType: "http",
			wantEP:   "http://127.0.0.1:9000/actuator/health",
		},
		{
			name:     "tcp",
			cfg:      Config{Mode: ModeTCP, Host: "127.0.0.1", Port: 8080},
			wantType: "tcp",
			wantEP:   "tcp://127.0.0.1:8080",
		},
		{
			name:     "unknown mode falls back to http",
			cfg:      Config{Mode: "icmp", Host: "localhost", Port: 8080},
			wantType: "http",
			wantEP:   "http://localhost:8080/",
		},
		{
			name:     "ipv6 host",
			cfg:      Config{Mode: ModeTCP, Host: "::1", Port: 8080},
			wantType: "tcp",
			wantEP:   "tcp://[::1]:8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p.Endpoint() != tt.wantEP {
				t.Errorf("Endpoint() = %q, want %q", p.Endpoint(), tt.wantEP)
			}
			if !strings.HasPrefix(p.Endpoint(), tt.wantType) {
				t.Errorf("Endpoint() = %q, want %s prober", p.Endpoint(), tt.wantType)
			}
		})
	}
}

func TestNew_DefaultTimeout(t *testing.T) {
	p, ok := New(Config{Host: "localhost", Port: 8080}).(*HTTPProbe)
	if !ok {
		t.Fatal("New() did not return *HTTPProbe")
	}
	if p.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", p.timeout, DefaultTimeout)
	}
}
