package phase

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/miekg/dns"
	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/session"
)

// txtPattern is a disclosure looked for in the apex TXT records.
type txtPattern struct {
	name    string
	pattern *regexp.Regexp
}

var txtPatterns = []txtPattern{
	{"Internal IP Leak", regexp.MustCompile(`\b(?:10\.\d{1,3}\.\d{1,3}\.\d{1,3}|192\.168\.\d{1,3}\.\d{1,3}|172\.(?:1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3})\b`)},
	{"Google Verification Token", regexp.MustCompile(`google-site-verification=[\w-]+`)},
	{"AWS Validation", regexp.MustCompile(`aws:?_?validation:?_?[\w-]+`)},
	{"Stripe Verification", regexp.MustCompile(`stripe-verification=[\w-]+`)},
}

// DNSForensicsPhase inspects the authoritative DNS setup of the apex:
// dangling name servers, open zone transfers, and TXT disclosures.
type DNSForensicsPhase struct {
	deps *Deps
}

// NewDNSForensicsPhase creates the DNS forensics phase.
func NewDNSForensicsPhase(d *Deps) *DNSForensicsPhase {
	return &DNSForensicsPhase{deps: d}
}

// Name returns the phase name.
func (p *DNSForensicsPhase) Name() string { return NameDNSForensics }

// Run executes the phase.
func (p *DNSForensicsPhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	p.deps.banner("INFRASTRUCTURE FORENSICS")
	domain := sess.Domain()

	rrs, err := p.deps.Resolver.Lookup(ctx, domain, dns.TypeNS)
	if err != nil {
		p.deps.Logger.Warn("cannot resolve name servers, skipping DNS forensics", "domain", domain, "error", err)
		return nil
	}
	var nameservers []string
	for _, rr := range rrs {
		if ns, ok := rr.(*dns.NS); ok {
			nameservers = append(nameservers, trimDot(ns.Ns))
		}
	}
	p.deps.notice("%d authoritative name servers", len(nameservers))

	addrs := p.checkTakeover(ctx, sess, nameservers)
	p.tryTransfer(ctx, sess, domain, nameservers, addrs)
	p.mineTXT(ctx, sess, domain)
	return nil
}

// checkTakeover flags name servers whose own name no longer exists and
// returns the first address of each that resolves.
func (p *DNSForensicsPhase) checkTakeover(ctx context.Context, sess *session.Session, nameservers []string) map[string]string {
	addrs := make(map[string]string, len(nameservers))
	for _, ns := range nameservers {
		ips, err := lookupA(ctx, p.deps.Resolver, ns)
		switch {
		case errors.Is(err, ErrNXDomain):
			p.deps.report(ctx, sess, model.Vulnerability{
				Name:     "NS Takeover",
				Severity: model.SeverityCritical,
				URL:      ns,
				Info:     "Dangling NS record: the name server's domain does not resolve.",
			})
		case err == nil && len(ips) > 0:
			addrs[ns] = ips[0]
		}
	}
	return addrs
}

// tryTransfer requests AXFR from each name server until one complies.
func (p *DNSForensicsPhase) tryTransfer(ctx context.Context, sess *session.Session, domain string, nameservers []string, addrs map[string]string) {
	for _, ns := range nameservers {
		ip, ok := addrs[ns]
		if !ok {
			continue
		}
		records, err := p.deps.Resolver.Transfer(ctx, domain, net.JoinHostPort(ip, "53"))
		if err != nil || len(records) == 0 {
			p.deps.Logger.Debug("zone transfer refused", "ns", ns, "error", err)
			continue
		}

		var hosts []string
		for _, rr := range records {
			name := trimDot(rr.Header().Name)
			if name == domain || strings.HasPrefix(name, "*.") || !model.InScope(name, domain) {
				continue
			}
			hosts = append(hosts, name)
		}
		added := sess.Subdomains.Extend(ctx, hosts)

		p.deps.report(ctx, sess, model.Vulnerability{
			Name:     "DNS Zone Transfer (AXFR)",
			Severity: model.SeverityCritical,
			URL:      ns,
			Info:     fmt.Sprintf("Zone transfer permitted from %s (%s); extracted %d records, %d new subdomains.", ns, ip, len(records), added),
		})
		return
	}
	p.deps.notice("AXFR queries rejected")
}

// mineTXT reports internal addresses and verification tokens published
// in the apex TXT records.
func (p *DNSForensicsPhase) mineTXT(ctx context.Context, sess *session.Session, domain string) {
	records, err := lookupTXT(ctx, p.deps.Resolver, domain)
	if err != nil {
		p.deps.Logger.Debug("TXT lookup failed", "domain", domain, "error", err)
		return
	}
	for _, txt := range records {
		for _, tp := range txtPatterns {
			for _, match := range tp.pattern.FindAllString(txt, -1) {
				p.deps.report(ctx, sess, model.Vulnerability{
					Name:     "DNS TXT Disclosure (" + tp.name + ")",
					Severity: model.SeverityLow,
					URL:      domain,
					Info:     match,
				})
			}
		}
	}
}
