package phase

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/miekg/dns"
	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/pipeline"
	"github.com/nao1215/arbiter/internal/session"
)

// cdnSignatures are CNAME target fragments of content delivery networks.
// Port scanning a CDN edge says nothing about the target.
var cdnSignatures = []string{"cloudflare", "cloudfront", "fastly", "akamai", "incapsula", "sucuri", "imperva"}

// PortsPhase port scans the subdomains that are not fronted by a CDN.
type PortsPhase struct {
	deps *Deps
}

// NewPortsPhase creates the port scanning phase.
func NewPortsPhase(d *Deps) *PortsPhase {
	return &PortsPhase{deps: d}
}

// Name returns the phase name.
func (p *PortsPhase) Name() string { return NamePorts }

type cdnVerdict struct {
	host string
	cdn  bool
}

// Run executes the phase.
func (p *PortsPhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	p.deps.banner("PORT SCANNING (CDN SHIELD ACTIVE)")

	hosts := sess.Subdomains.Items(ctx)
	if len(hosts) == 0 {
		p.deps.Logger.Warn("no subdomains to scan")
		return nil
	}

	verdicts := pipeline.Map(ctx, hosts, func(ctx context.Context, host string) (cdnVerdict, error) {
		return cdnVerdict{host: host, cdn: p.behindCDN(ctx, host)}, nil
	}, p.deps.probeOptions(cfg, "CDN classification")...)

	var direct []string
	for _, v := range verdicts {
		if !v.cdn {
			direct = append(direct, v.host)
		}
	}
	p.deps.notice("%d CDN-fronted hosts bypassed", len(verdicts)-len(direct))
	if len(direct) == 0 {
		return nil
	}

	lines, err := p.deps.runTool(ctx, cfg, ToolNaabu,
		[]string{"-top-ports", "100", "-c", strconv.Itoa(cfg.Profile.Workers), "-silent"},
		strings.NewReader(strings.Join(direct, "\n")+"\n"))
	if err != nil {
		return err
	}

	added := sess.Endpoints.Extend(ctx, parseHostPorts(lines))
	p.deps.notice("%d open ports", added)
	return nil
}

// behindCDN reports whether the host's CNAME points at a known CDN.
// Lookup failures count as direct.
func (p *PortsPhase) behindCDN(ctx context.Context, host string) bool {
	rrs, err := p.deps.Resolver.Lookup(ctx, host, dns.TypeCNAME)
	if err != nil {
		return false
	}
	for _, rr := range rrs {
		cname, ok := rr.(*dns.CNAME)
		if !ok {
			continue
		}
		target := strings.ToLower(cname.Target)
		for _, sig := range cdnSignatures {
			if strings.Contains(target, sig) {
				return true
			}
		}
	}
	return false
}

// parseHostPorts keeps the lines of the form host:port with a valid port.
func parseHostPorts(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		host, port, err := net.SplitHostPort(line)
		if err != nil || host == "" {
			continue
		}
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			continue
		}
		out = append(out, net.JoinHostPort(strings.ToLower(host), port))
	}
	return out
}
