package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("rejects invalid proxy address", func(t *testing.T) {
		t.Parallel()

		for _, addr := range []string{"127.0.0.1", "localhost:0", "host:99999", ":9050", "host:abc"} {
			if _, err := New(WithProxy(addr)); !errors.Is(err, ErrInvalidProxyAddress) {
				t.Errorf("%q: expected ErrInvalidProxyAddress, got %v", addr, err)
			}
		}
	})

	t.Run("accepts SOCKS5 proxy", func(t *testing.T) {
		t.Parallel()

		if _, err := New(WithProxy("127.0.0.1:9050")); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestClientFetch(t *testing.T) {
	t.Parallel()

	t.Run("sets user agent and reads body", func(t *testing.T) {
		t.Parallel()

		var gotUA string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUA = r.Header.Get("User-Agent")
			w.Header().Set("Server", "nginx")
			_, _ = w.Write([]byte("<title>Home</title>"))
		}))
		defer srv.Close()

		c, err := New(WithUserAgent("arbiter-test"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		resp, err := c.Get(context.Background(), srv.URL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if gotUA != "arbiter-test" {
			t.Errorf("expected user agent arbiter-test, got %q", gotUA)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
		if resp.Header.Get("Server") != "nginx" {
			t.Errorf("expected server header, got %q", resp.Header.Get("Server"))
		}
		if string(resp.Body) != "<title>Home</title>" {
			t.Errorf("unexpected body %q", resp.Body)
		}
	})

	t.Run("limits body size", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(strings.Repeat("x", 100)))
		}))
		defer srv.Close()

		c, err := New(WithMaxBodySize(10))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		resp, err := c.Get(context.Background(), srv.URL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(resp.Body) != 10 {
			t.Errorf("expected 10 bytes, got %d", len(resp.Body))
		}
	})

	t.Run("redirect policy", func(t *testing.T) {
		t.Parallel()

		mux := http.NewServeMux()
		mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/new", http.StatusFound)
		})
		mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("new"))
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		c, err := New()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		followed, err := c.Get(context.Background(), srv.URL+"/old")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if followed.StatusCode != http.StatusOK || !strings.HasSuffix(followed.URL, "/new") {
			t.Errorf("expected redirect to be followed, got %d %s", followed.StatusCode, followed.URL)
		}

		kept, err := c.Fetch(context.Background(), Request{URL: srv.URL + "/old", NoRedirect: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if kept.StatusCode != http.StatusFound {
			t.Errorf("expected 302, got %d", kept.StatusCode)
		}
	})

	t.Run("sends custom headers", func(t *testing.T) {
		t.Parallel()

		var origin string
		srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			origin = r.Header.Get("Origin")
		}))
		defer srv.Close()

		c, err := New()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		h := http.Header{}
		h.Set("Origin", "https://evil.example")
		if _, err := c.Fetch(context.Background(), Request{Method: http.MethodHead, URL: srv.URL, Header: h}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if origin != "https://evil.example" {
			t.Errorf("expected origin header, got %q", origin)
		}
	})

	t.Run("rate limit spaces requests", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		defer srv.Close()

		c, err := New(WithRateLimit(20))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		start := time.Now()
		for range 3 {
			if _, err := c.Get(context.Background(), srv.URL); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		// burst 1 at 20 rps: the 2nd and 3rd requests wait ~50ms each
		if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
			t.Errorf("expected requests to be rate limited, took %v", elapsed)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		defer srv.Close()

		c, err := New()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := c.Get(ctx, srv.URL); err == nil {
			t.Error("expected error for cancelled context")
		}
	})
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.SetMode(model.ModeStandard)
	cfg.ProxyAddress = "127.0.0.1:1080"
	cfg.Settings.UserAgent = "from-settings"

	o := &options{}
	for _, opt := range FromConfig(cfg, "") {
		opt(o)
	}
	if o.proxyAddress != "127.0.0.1:1080" {
		t.Errorf("expected configured proxy, got %q", o.proxyAddress)
	}
	if o.userAgent != "from-settings" {
		t.Errorf("expected settings user agent, got %q", o.userAgent)
	}
	if o.rps != 10 || o.perHost != 5 {
		t.Errorf("expected standard profile limits, got rps=%v perHost=%d", o.rps, o.perHost)
	}

	o = &options{}
	for _, opt := range FromConfig(cfg, "127.0.0.1:9150") {
		opt(o)
	}
	if o.proxyAddress != "127.0.0.1:9150" {
		t.Errorf("expected override proxy, got %q", o.proxyAddress)
	}
}
