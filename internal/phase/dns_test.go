package phase

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/nao1215/arbiter/internal/model"
)

// startDNSServer serves a tiny zone for example.com on a loopback port.
func startDNSServer(t *testing.T) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	mux := dns.NewServeMux()
	mux.HandleFunc("example.com.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		switch {
		case q.Name == "missing.example.com.":
			m.SetRcode(r, dns.RcodeNameError)
		case q.Qtype == dns.TypeA:
			rr, _ := dns.NewRR(q.Name + " 60 IN A 192.0.2.10")
			m.Answer = append(m.Answer, rr)
		case q.Qtype == dns.TypeTXT:
			rr, _ := dns.NewRR(q.Name + ` 60 IN TXT "v=spf1 " "-all"`)
			m.Answer = append(m.Answer, rr)
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = server.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = server.Shutdown() })

	return pc.LocalAddr().String()
}

// TestDNSResolver tests lookups against a local DNS server.
func TestDNSResolver(t *testing.T) {
	t.Parallel()

	addr := startDNSServer(t)
	r := NewDNSResolver([]string{addr}, time.Second)
	ctx := context.Background()

	t.Run("A records", func(t *testing.T) {
		t.Parallel()

		ips, err := lookupA(ctx, r, "www.example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(ips, []string{"192.0.2.10"}) {
			t.Errorf("expected [192.0.2.10], got %v", ips)
		}
	})

	t.Run("TXT strings are joined", func(t *testing.T) {
		t.Parallel()

		txts, err := lookupTXT(ctx, r, "example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(txts, []string{"v=spf1 -all"}) {
			t.Errorf("expected [v=spf1 -all], got %v", txts)
		}
	})

	t.Run("NXDOMAIN", func(t *testing.T) {
		t.Parallel()

		_, err := r.Lookup(ctx, "missing.example.com", dns.TypeA)
		if !errors.Is(err, ErrNXDomain) {
			t.Errorf("expected ErrNXDomain, got %v", err)
		}
	})

	t.Run("no servers", func(t *testing.T) {
		t.Parallel()

		_, err := NewDNSResolver(nil, time.Second).Lookup(ctx, "example.com", dns.TypeA)
		if err == nil {
			t.Error("expected error without resolvers")
		}
	})
}

// TestReconPhase tests passive subdomain collection.
func TestReconPhase(t *testing.T) {
	t.Parallel()

	t.Run("merges subfinder and wayback", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		mux := http.NewServeMux()
		mux.HandleFunc("archive.test/cdx/search/cdx", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`[["original"],["https://c.example.com/login"],["http://other.org/"],["https://A.example.com/"]]`))
		})
		d, _, _, tools := newTestDeps(mux)
		tools.output[ToolSubfinder] = "a.example.com\n*.b.example.com\nevil.com\n"
		sess := openSession(t)

		if err := NewReconPhase(d).Run(ctx, sess, newTestConfig()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		got := sorted(sess.Subdomains.Items(ctx))
		want := []string{"a.example.com", "b.example.com", "c.example.com", "example.com"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
		if args := tools.args[ToolSubfinder]; !slices.Contains(args, "example.com") {
			t.Errorf("expected domain in subfinder args, got %v", args)
		}
	})

	t.Run("records apex when sources fail", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		d, _, _, tools := newTestDeps(nil)
		tools.missing[ToolSubfinder] = true
		sess := openSession(t)

		if err := NewReconPhase(d).Run(ctx, sess, newTestConfig()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := sess.Subdomains.Items(ctx); !slices.Equal(got, []string{"example.com"}) {
			t.Errorf("expected [example.com], got %v", got)
		}
	})
}

// TestHorizontalPhase tests ASN prefix mapping.
func TestHorizontalPhase(t *testing.T) {
	t.Parallel()

	bgp := func(org string) http.Handler {
		mux := http.NewServeMux()
		mux.HandleFunc("bgp.test/ip/198.51.100.7", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"ok","data":{"prefixes":[{"asn":{"asn":64500,"name":"` + org + `"}}]}}`))
		})
		mux.HandleFunc("bgp.test/asn/64500/prefixes", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"status":"ok","data":{"ipv4_prefixes":[{"prefix":"198.51.100.0/24"},{"prefix":"203.0.113.5/24"},{"prefix":"2001:db8::/32"},{"prefix":"bogus"}]}}`))
		})
		return mux
	}

	t.Run("records IPv4 prefixes", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		d, _, resolver, _ := newTestDeps(bgp("EXAMPLE-NET"))
		resolver.add(t, "example.com. 60 IN A 198.51.100.7")
		sess := openSession(t)

		if err := NewHorizontalPhase(d).Run(ctx, sess, newTestConfig()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := sorted(sess.AddressRanges.Items(ctx))
		want := []string{"198.51.100.0/24", "203.0.113.0/24"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("shared provider is not expanded", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		d, _, resolver, _ := newTestDeps(bgp("CLOUDFLARENET"))
		resolver.add(t, "example.com. 60 IN A 198.51.100.7")
		sess := openSession(t)

		if err := NewHorizontalPhase(d).Run(ctx, sess, newTestConfig()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !sess.AddressRanges.IsEmpty(ctx) {
			t.Errorf("expected no prefixes, got %v", sess.AddressRanges.Items(ctx))
		}
	})

	t.Run("unresolvable apex is skipped", func(t *testing.T) {
		t.Parallel()

		d, _, _, _ := newTestDeps(bgp("EXAMPLE-NET"))
		if err := NewHorizontalPhase(d).Run(context.Background(), openSession(t), newTestConfig()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

// TestDNSForensicsPhase tests takeover, zone transfer, and TXT checks.
func TestDNSForensicsPhase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _, resolver, _ := newTestDeps(nil)
	resolver.add(t,
		"example.com. 60 IN NS ns1.example.com.",
		"example.com. 60 IN NS ns.gone-dns.net.",
		"ns1.example.com. 60 IN A 192.0.2.53",
		`example.com. 60 IN TXT "google-site-verification=abc123XYZ"`,
		`example.com. 60 IN TXT "office 10.1.2.3"`,
	)
	resolver.nxdomain["ns.gone-dns.net"] = true
	resolver.transfers["192.0.2.53:53"] = []dns.RR{
		mustRR(t, "example.com. 60 IN SOA ns1.example.com. admin.example.com. 1 7200 3600 1209600 60"),
		mustRR(t, "intranet.example.com. 60 IN A 10.0.0.5"),
		mustRR(t, "*.example.com. 60 IN A 192.0.2.1"),
		mustRR(t, "outside.org. 60 IN A 192.0.2.2"),
	}
	sess := openSession(t)

	if err := NewDNSForensicsPhase(d).Run(ctx, sess, newTestConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vulns := sess.Vulnerabilities.Items(ctx)
	ns, ok := findVulnerability(vulns, "NS Takeover")
	if !ok || ns.URL != "ns.gone-dns.net" || ns.Severity != model.SeverityCritical {
		t.Errorf("expected critical NS takeover on ns.gone-dns.net, got %+v", ns)
	}
	if _, ok := findVulnerability(vulns, "DNS Zone Transfer"); !ok {
		t.Error("expected zone transfer finding")
	}
	if v, ok := findVulnerability(vulns, "DNS TXT Disclosure (Google"); !ok || v.Info != "google-site-verification=abc123XYZ" {
		t.Errorf("expected verification token disclosure, got %+v", v)
	}
	if _, ok := findVulnerability(vulns, "DNS TXT Disclosure (Internal IP"); !ok {
		t.Error("expected internal IP disclosure")
	}
	if got := sess.Subdomains.Items(ctx); !slices.Equal(got, []string{"intranet.example.com"}) {
		t.Errorf("expected [intranet.example.com], got %v", got)
	}
}

// TestPortsPhase tests the CDN shield and naabu parsing.
func TestPortsPhase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d, _, resolver, tools := newTestDeps(nil)
	resolver.add(t, "cdn.example.com. 60 IN CNAME d111.cloudfront.net.")
	tools.output[ToolNaabu] = "origin.example.com:443\nORIGIN.example.com:8080\ngarbage\norigin.example.com:70000\n"
	sess := openSession(t)
	sess.Subdomains.Extend(ctx, []string{"origin.example.com", "cdn.example.com"})

	if err := NewPortsPhase(d).Run(ctx, sess, newTestConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stdin := tools.stdin[ToolNaabu]; strings.Contains(stdin, "cdn.example.com") || !strings.Contains(stdin, "origin.example.com") {
		t.Errorf("expected only the direct host on stdin, got %q", stdin)
	}
	got := sorted(sess.Endpoints.Items(ctx))
	want := []string{"origin.example.com:443", "origin.example.com:8080"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

// TestPermutationsPhase tests candidate generation and resolution.
func TestPermutationsPhase(t *testing.T) {
	t.Parallel()

	t.Run("generates candidates", func(t *testing.T) {
		t.Parallel()

		got := permutations([]string{"example.com", "api.example.com", "dev-api.example.com"}, "example.com", []string{"dev"})
		want := []string{
			"api-dev.example.com",
			"api.dev.example.com",
			"dev-api.dev.example.com",
			"dev-api-dev.example.com",
			"dev-dev-api.example.com",
		}
		slices.Sort(want)
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("keeps resolving names", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		d, _, resolver, _ := newTestDeps(nil)
		resolver.add(t, "api-dev.example.com. 60 IN A 192.0.2.20")
		resolver.nxdomain["dev-api.example.com"] = true
		cfg := newTestConfig()
		cfg.Settings.Wordlists.Permutations = writeFile(t, "words.txt", "dev\n")
		sess := openSession(t)
		sess.Subdomains.Append(ctx, "api.example.com")

		if err := NewPermutationsPhase(d).Run(ctx, sess, cfg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got := sorted(sess.Subdomains.Items(ctx))
		want := []string{"api-dev.example.com", "api.example.com"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})
}

// TestParseHostPorts tests naabu output parsing.
func TestParseHostPorts(t *testing.T) {
	t.Parallel()

	got := parseHostPorts([]string{"a.example.com:22", "b.example.com", ":80", "c.example.com:0", "[2001:db8::1]:443"})
	want := []string{"a.example.com:22", "[2001:db8::1]:443"}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
