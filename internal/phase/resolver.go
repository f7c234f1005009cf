package phase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver answers DNS questions for the DNS-driven phases.
type Resolver interface {
	// Lookup returns the answer section for name and qtype. A name that
	// does not exist returns ErrNXDomain; an existing name without records
	// of that type returns no records and no error.
	Lookup(ctx context.Context, name string, qtype uint16) ([]dns.RR, error)

	// Transfer attempts a full zone transfer of zone from nameserver
	// ("host:port").
	Transfer(ctx context.Context, zone, nameserver string) ([]dns.RR, error)
}

// DNSResolver queries a fixed list of recursive resolvers with miekg/dns,
// trying each in turn until one answers.
type DNSResolver struct {
	servers []string
	client  *dns.Client
	timeout time.Duration
}

// NewDNSResolver creates a resolver for servers ("host:port").
func NewDNSResolver(servers []string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSResolver{
		servers: servers,
		client:  &dns.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Lookup implements Resolver.
func (r *DNSResolver) Lookup(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		switch resp.Rcode {
		case dns.RcodeSuccess:
			return resp.Answer, nil
		case dns.RcodeNameError:
			return nil, fmt.Errorf("%w: %s", ErrNXDomain, name)
		default:
			lastErr = fmt.Errorf("%s answered %s for %s", server, dns.RcodeToString[resp.Rcode], name)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no resolvers configured")
	}
	return nil, lastErr
}

// Transfer implements Resolver.
func (r *DNSResolver) Transfer(ctx context.Context, zone, nameserver string) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetAxfr(dns.Fqdn(zone))

	t := &dns.Transfer{
		DialTimeout:  r.timeout,
		ReadTimeout:  r.timeout,
		WriteTimeout: r.timeout,
	}
	ch, err := t.In(m, nameserver)
	if err != nil {
		return nil, err
	}

	var records []dns.RR
	for env := range ch {
		if env.Error != nil {
			return nil, env.Error
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		records = append(records, env.RR...)
	}
	return records, nil
}

// lookupA returns the IPv4 addresses of name.
func lookupA(ctx context.Context, r Resolver, name string) ([]string, error) {
	rrs, err := r.Lookup(ctx, name, dns.TypeA)
	if err != nil {
		return nil, err
	}
	var ips []string
	for _, rr := range rrs {
		if a, ok := rr.(*dns.A); ok {
			ips = append(ips, a.A.String())
		}
	}
	return ips, nil
}

// lookupTXT returns every TXT string of name, one per record.
func lookupTXT(ctx context.Context, r Resolver, name string) ([]string, error) {
	rrs, err := r.Lookup(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range rrs {
		if txt, ok := rr.(*dns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	return out, nil
}

func trimDot(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
