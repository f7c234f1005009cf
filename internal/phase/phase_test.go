package phase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/session"
	"github.com/nao1215/arbiter/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// handlerFetcher serves requests from an http.Handler without a network.
// Requests to hosts listed in down fail. A URL listed in flaky fails that
// many times before it is served.
type handlerFetcher struct {
	handler http.Handler
	down    map[string]bool
	flaky   map[string]int

	mu       sync.Mutex
	requests []*http.Request
}

func (f *handlerFetcher) Get(ctx context.Context, url string) (*transport.Response, error) {
	return f.Fetch(ctx, transport.Request{URL: url})
}

func (f *handlerFetcher) Fetch(_ context.Context, r transport.Request) (*transport.Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req := httptest.NewRequest(method, r.URL, nil)
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	transient := f.flaky[r.URL] > 0
	if transient {
		f.flaky[r.URL]--
	}
	f.mu.Unlock()

	if f.down[req.URL.Hostname()] {
		return nil, errors.New("connection refused")
	}
	if transient {
		return nil, errors.New("connection reset by peer")
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	res := rec.Result()
	body, _ := io.ReadAll(res.Body)
	return &transport.Response{
		URL:        r.URL,
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
	}, nil
}

// mockResolver answers from fixed record sets.
type mockResolver struct {
	records   map[string][]dns.RR
	nxdomain  map[string]bool
	transfers map[string][]dns.RR
}

func newMockResolver() *mockResolver {
	return &mockResolver{
		records:   make(map[string][]dns.RR),
		nxdomain:  make(map[string]bool),
		transfers: make(map[string][]dns.RR),
	}
}

// add parses zone-file lines and files them under their owner name and type.
func (m *mockResolver) add(t *testing.T, lines ...string) *mockResolver {
	t.Helper()
	for _, line := range lines {
		rr := mustRR(t, line)
		key := resolverKey(rr.Header().Name, rr.Header().Rrtype)
		m.records[key] = append(m.records[key], rr)
	}
	return m
}

func (m *mockResolver) Lookup(_ context.Context, name string, qtype uint16) ([]dns.RR, error) {
	if m.nxdomain[trimDot(name)] {
		return nil, ErrNXDomain
	}
	return m.records[resolverKey(name, qtype)], nil
}

func (m *mockResolver) Transfer(_ context.Context, _, nameserver string) ([]dns.RR, error) {
	records, ok := m.transfers[nameserver]
	if !ok {
		return nil, errors.New("transfer refused")
	}
	return records, nil
}

func resolverKey(name string, qtype uint16) string {
	return trimDot(name) + "|" + dns.TypeToString[qtype]
}

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("invalid record %q: %v", s, err)
	}
	return rr
}

// mockTools returns canned output per tool and records the invocations.
type mockTools struct {
	output  map[string]string
	missing map[string]bool

	mu    sync.Mutex
	args  map[string][]string
	stdin map[string]string
}

func newMockTools() *mockTools {
	return &mockTools{
		output:  make(map[string]string),
		missing: make(map[string]bool),
		args:    make(map[string][]string),
		stdin:   make(map[string]string),
	}
}

func (m *mockTools) Run(_ context.Context, tool config.Tool, args []string, stdin io.Reader) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.args[tool.Path] = args
	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		m.stdin[tool.Path] = string(data)
	}
	if m.missing[tool.Path] {
		return nil, ErrToolMissing
	}
	return []byte(m.output[tool.Path]), nil
}

// mockDialer accepts connections to the listed addresses only.
type mockDialer struct {
	open map[string]bool
}

func (m *mockDialer) DialContext(_ context.Context, _, address string) (net.Conn, error) {
	if !m.open[address] {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

// newTestDeps wires mocks around handler. A nil handler answers 404.
func newTestDeps(handler http.Handler) (*Deps, *handlerFetcher, *mockResolver, *mockTools) {
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	fetcher := &handlerFetcher{handler: handler, down: make(map[string]bool), flaky: make(map[string]int)}
	resolver := newMockResolver()
	tools := newMockTools()
	d := &Deps{
		HTTP:     fetcher,
		Dialer:   &mockDialer{open: make(map[string]bool)},
		Resolver: resolver,
		Tools:    tools,
		APIs: APIs{
			Wayback: "http://archive.test",
			BGPView: "http://bgp.test",
			GitHub:  "http://github.test",
		},
		Logger: discardLogger(),
	}
	return d, fetcher, resolver, tools
}

// newTestConfig returns a loud-mode config with short timeouts.
func newTestConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.SetMode(model.ModeLoud)
	cfg.Profile.Retries = 0
	cfg.Profile.TaskTimeout = 2 * time.Second
	cfg.ToolTimeout = 2 * time.Second
	return cfg
}

// openSession opens a fresh session for example.com.
func openSession(t *testing.T) *session.Session {
	t.Helper()

	sess, err := session.Open(context.Background(), session.Options{
		Dir:    t.TempDir(),
		Domain: "example.com",
		Mode:   model.ModeLoud,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func sorted(items []string) []string {
	out := slices.Clone(items)
	slices.Sort(out)
	return out
}

func findVulnerability(vulns []model.Vulnerability, namePrefix string) (model.Vulnerability, bool) {
	for _, v := range vulns {
		if strings.HasPrefix(v.Name, namePrefix) {
			return v, true
		}
	}
	return model.Vulnerability{}, false
}

// TestNewRegistry tests the phase order of the scan pipeline.
func TestNewRegistry(t *testing.T) {
	t.Parallel()

	d, _, _, _ := newTestDeps(nil)
	reg, err := NewRegistry(d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		NameRecon, NameHorizontal, NameDNSForensics, NamePorts,
		NamePermutations, NameProbing, NameSpider, NameTakeover,
		NameCloud, NameEmail, NameGitHub, NameCortex,
		NameOffensive, NameMetadata, NameMining, NameChaos,
	}
	if !slices.Equal(reg.Names(), want) {
		t.Errorf("expected %v, got %v", want, reg.Names())
	}
}

// TestNewDeps tests the production wiring.
func TestNewDeps(t *testing.T) {
	t.Parallel()

	client, err := transport.New()
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	d := NewDeps(newTestConfig(), client, discardLogger(), nil)

	if d.HTTP == nil || d.Dialer == nil || d.Resolver == nil || d.Tools == nil {
		t.Error("expected all collaborators to be set")
	}
	if d.APIs != DefaultAPIs() {
		t.Errorf("expected default APIs, got %+v", d.APIs)
	}
}

// TestReport tests that findings are recorded once.
func TestReport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _, _, _ := newTestDeps(nil)
	var out strings.Builder
	d.Out = &out
	sess := openSession(t)

	v := model.Vulnerability{Name: "Test", Severity: model.SeverityHigh, URL: "https://example.com"}
	d.report(ctx, sess, v)
	d.report(ctx, sess, v)

	if n := sess.Vulnerabilities.Count(ctx); n != 1 {
		t.Errorf("expected 1 vulnerability, got %d", n)
	}
	if strings.Count(out.String(), "Test") != 1 {
		t.Errorf("expected finding printed once, got %q", out.String())
	}
}

// TestHelpers tests URL helpers shared by the phases.
func TestHelpers(t *testing.T) {
	t.Parallel()

	t.Run("baseURL strips path", func(t *testing.T) {
		t.Parallel()

		tests := map[string]string{
			"https://a.example.com/x/y": "https://a.example.com",
			"https://a.example.com":     "https://a.example.com",
			"not a url":                 "not a url",
		}
		for in, want := range tests {
			if got := baseURL(in); got != want {
				t.Errorf("baseURL(%q): expected %q, got %q", in, want, got)
			}
		}
	})

	t.Run("liveURLs deduplicates", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		sess := openSession(t)
		sess.LiveHosts.Extend(ctx, []model.LiveHost{
			{URL: "https://a.example.com", StatusCode: 200, Technologies: []string{}},
			{URL: "https://a.example.com", StatusCode: 301, Technologies: []string{}},
			{URL: "https://b.example.com", StatusCode: 200, Technologies: []string{}},
		})

		got := sorted(liveURLs(ctx, sess))
		want := []string{"https://a.example.com", "https://b.example.com"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("splitLines drops blanks", func(t *testing.T) {
		t.Parallel()

		got := splitLines([]byte("a\n\n  b  \r\n"))
		if !slices.Equal(got, []string{"a", "b"}) {
			t.Errorf("expected [a b], got %v", got)
		}
	})
}

// TestRunTool tests external tool handling.
func TestRunTool(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("missing optional tool is skipped", func(t *testing.T) {
		t.Parallel()

		d, _, _, tools := newTestDeps(nil)
		tools.missing[ToolSubfinder] = true

		lines, err := d.runTool(ctx, newTestConfig(), ToolSubfinder, nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(lines) != 0 {
			t.Errorf("expected no lines, got %v", lines)
		}
	})

	t.Run("missing required tool fails", func(t *testing.T) {
		t.Parallel()

		d, _, _, tools := newTestDeps(nil)
		tools.missing[ToolSubfinder] = true
		cfg := newTestConfig()
		cfg.Settings.Tools[ToolSubfinder] = config.Tool{Required: true}

		_, err := d.runTool(ctx, cfg, ToolSubfinder, nil, nil)
		if !errors.Is(err, ErrRequiredTool) {
			t.Errorf("expected ErrRequiredTool, got %v", err)
		}
	})

	t.Run("uses configured path", func(t *testing.T) {
		t.Parallel()

		d, _, _, tools := newTestDeps(nil)
		tools.output["/opt/bin/naabu"] = "a.example.com:80\n"
		cfg := newTestConfig()
		cfg.Settings.Tools[ToolNaabu] = config.Tool{Path: "/opt/bin/naabu"}

		lines, err := d.runTool(ctx, cfg, ToolNaabu, nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(lines, []string{"a.example.com:80"}) {
			t.Errorf("expected naabu output, got %v", lines)
		}
	})
}

// TestExecRunner tests that a binary missing from PATH is reported.
func TestExecRunner(t *testing.T) {
	t.Parallel()

	_, err := ExecRunner{}.Run(context.Background(), config.Tool{Path: "arbiter-no-such-tool"}, nil, nil)
	if !errors.Is(err, ErrToolMissing) {
		t.Errorf("expected ErrToolMissing, got %v", err)
	}
}

// TestLoadWordlist tests custom word lists.
func TestLoadWordlist(t *testing.T) {
	t.Parallel()

	d, _, _, _ := newTestDeps(nil)
	fallback := []string{"default"}

	t.Run("empty path uses fallback", func(t *testing.T) {
		t.Parallel()

		if got := d.loadWordlist("", fallback); !slices.Equal(got, fallback) {
			t.Errorf("expected fallback, got %v", got)
		}
	})

	t.Run("unreadable file uses fallback", func(t *testing.T) {
		t.Parallel()

		if got := d.loadWordlist(t.TempDir()+"/missing.txt", fallback); !slices.Equal(got, fallback) {
			t.Errorf("expected fallback, got %v", got)
		}
	})

	t.Run("skips comments and blanks", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, "words.txt", "# header\nalpha\n\n  beta \n")
		got := d.loadWordlist(path, fallback)
		if !slices.Equal(got, []string{"alpha", "beta"}) {
			t.Errorf("expected [alpha beta], got %v", got)
		}
	})
}
