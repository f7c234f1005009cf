package phase

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/session"
)

// mailPorts are checked on the primary MX; the plaintext ones are reported.
var (
	mailPorts      = []int{25, 465, 587, 110, 995, 143, 993}
	plaintextPorts = []int{25, 110, 143}
)

// mailProviders maps MX host fragments to the hosted mail or filtering
// service they indicate.
var mailProviders = []struct {
	fragment string
	provider string
}{
	{"google", "Google Workspace"},
	{"googlemail", "Google Workspace"},
	{"outlook", "Microsoft 365"},
	{"pphosted", "Proofpoint"},
	{"mimecast", "Mimecast"},
	{"zoho", "Zoho Mail"},
	{"messagelabs", "Broadcom Email Security"},
	{"barracudanetworks", "Barracuda"},
}

const missingRecord = "Missing"

// EmailPhase assesses the mail posture of the apex: SPF, DMARC, MX,
// DNSSEC, and the mail ports open on the primary MX.
type EmailPhase struct {
	deps        *Deps
	dialTimeout time.Duration
}

// NewEmailPhase creates the email security phase.
func NewEmailPhase(d *Deps) *EmailPhase {
	return &EmailPhase{deps: d, dialTimeout: 2 * time.Second}
}

// Name returns the phase name.
func (p *EmailPhase) Name() string { return NameEmail }

// Run executes the phase.
func (p *EmailPhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	p.deps.banner("EMAIL SECURITY RECON")
	domain := sess.Domain()

	result := model.EmailSecurity{
		SPF:       missingRecord,
		DMARC:     missingRecord,
		MX:        []string{},
		Providers: []string{},
		OpenPorts: []int{},
		Analyzed:  true,
	}

	if txts, err := lookupTXT(ctx, p.deps.Resolver, domain); err == nil {
		for _, txt := range txts {
			if strings.HasPrefix(strings.ToLower(txt), "v=spf1") {
				result.SPF = txt
				break
			}
		}
	}

	if txts, err := lookupTXT(ctx, p.deps.Resolver, "_dmarc."+domain); err == nil {
		for _, txt := range txts {
			if strings.HasPrefix(strings.ToUpper(txt), "V=DMARC1") {
				result.DMARC = txt
				break
			}
		}
	}

	policy := dmarcPolicy(result.DMARC)
	if result.DMARC == missingRecord || policy == "none" {
		result.Spoofable = true
		p.deps.report(ctx, sess, model.Vulnerability{
			Name:     "Email Spoofing Possible",
			Severity: model.SeverityHigh,
			URL:      domain,
			Info:     fmt.Sprintf("DMARC policy is '%s'. Attackers can send emails as %s.", policy, domain),
		})
	} else {
		p.deps.notice("email spoofing mitigated (DMARC p=%s)", policy)
	}

	result.MX = p.lookupMX(ctx, domain)
	result.Providers = fingerprintMX(result.MX)

	if rrs, err := p.deps.Resolver.Lookup(ctx, domain, dns.TypeDNSKEY); err == nil {
		result.DNSSEC = slices.ContainsFunc(rrs, func(rr dns.RR) bool {
			_, ok := rr.(*dns.DNSKEY)
			return ok
		})
	}

	if len(result.MX) > 0 {
		primary := result.MX[0]
		result.OpenPorts = p.openPorts(ctx, primary)
		var plaintext []string
		for _, port := range result.OpenPorts {
			if slices.Contains(plaintextPorts, port) {
				plaintext = append(plaintext, strconv.Itoa(port))
			}
		}
		if len(plaintext) > 0 {
			p.deps.report(ctx, sess, model.Vulnerability{
				Name:     "Insecure Mail Ports Exposed",
				Severity: model.SeverityLow,
				URL:      primary,
				Info:     fmt.Sprintf("Plaintext ports %s exposed. Ensure STARTTLS is enforced.", strings.Join(plaintext, ", ")),
			})
		}
	}

	if err := sess.SetEmailSecurity(ctx, result); err != nil {
		p.deps.Logger.Error("failed to store email security", "error", err)
	}
	return nil
}

// dmarcPolicy returns the p= tag of a DMARC record. A missing record or
// tag is "none", which is what receivers assume.
func dmarcPolicy(record string) string {
	if record == missingRecord {
		return "none"
	}
	for _, tag := range strings.Split(record, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(tag), "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), "p") {
			return strings.ToLower(strings.TrimSpace(v))
		}
	}
	return "none"
}

// lookupMX returns the mail exchangers of domain, most preferred first.
func (p *EmailPhase) lookupMX(ctx context.Context, domain string) []string {
	rrs, err := p.deps.Resolver.Lookup(ctx, domain, dns.TypeMX)
	if err != nil {
		p.deps.Logger.Debug("no MX records", "domain", domain, "error", err)
		return []string{}
	}
	var mx []*dns.MX
	for _, rr := range rrs {
		if m, ok := rr.(*dns.MX); ok {
			mx = append(mx, m)
		}
	}
	slices.SortStableFunc(mx, func(a, b *dns.MX) int { return int(a.Preference) - int(b.Preference) })
	hosts := make([]string, 0, len(mx))
	for _, m := range mx {
		hosts = append(hosts, trimDot(m.Mx))
	}
	return hosts
}

func fingerprintMX(hosts []string) []string {
	providers := []string{}
	for _, h := range hosts {
		for _, mp := range mailProviders {
			if strings.Contains(h, mp.fragment) && !slices.Contains(providers, mp.provider) {
				providers = append(providers, mp.provider)
			}
		}
	}
	return providers
}

// openPorts connects to each mail port of host and returns those that accept.
func (p *EmailPhase) openPorts(ctx context.Context, host string) []int {
	open := []int{}
	for _, port := range mailPorts {
		if ctx.Err() != nil {
			break
		}
		dctx, cancel := context.WithTimeout(ctx, p.dialTimeout)
		conn, err := p.deps.Dialer.DialContext(dctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		cancel()
		if err != nil {
			continue
		}
		_ = conn.Close() //nolint:errcheck // probe connection
		open = append(open, port)
	}
	return open
}
