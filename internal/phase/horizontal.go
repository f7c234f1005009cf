package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/session"
)

// sharedProviders are network operators whose address space is shared by
// unrelated tenants. Their prefixes are never taken into scope.
var sharedProviders = []string{
	"CLOUDFLARE", "AMAZON", "AKAMAI", "FASTLY", "GOOGLE",
	"MICROSOFT", "INCAPSULA", "SQUARESPACE", "SHOPIFY",
}

// HorizontalPhase maps the apex domain to its autonomous system and
// records the IPv4 prefixes that system announces.
type HorizontalPhase struct {
	deps *Deps
}

// NewHorizontalPhase creates the ASN mapping phase.
func NewHorizontalPhase(d *Deps) *HorizontalPhase {
	return &HorizontalPhase{deps: d}
}

// Name returns the phase name.
func (p *HorizontalPhase) Name() string { return NameHorizontal }

type bgpIPResponse struct {
	Status string `json:"status"`
	Data   struct {
		Prefixes []struct {
			ASN struct {
				ASN  int    `json:"asn"`
				Name string `json:"name"`
			} `json:"asn"`
		} `json:"prefixes"`
	} `json:"data"`
}

type bgpPrefixesResponse struct {
	Status string `json:"status"`
	Data   struct {
		IPv4Prefixes []struct {
			Prefix string `json:"prefix"`
		} `json:"ipv4_prefixes"`
	} `json:"data"`
}

// Run executes the phase.
func (p *HorizontalPhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	p.deps.banner("HORIZONTAL RECON (ASN/CIDR MAPPING)")
	domain := sess.Domain()

	ips, err := lookupA(ctx, p.deps.Resolver, domain)
	if err != nil || len(ips) == 0 {
		p.deps.Logger.Warn("cannot resolve apex domain, skipping ASN mapping", "domain", domain, "error", err)
		return nil
	}

	var ipInfo bgpIPResponse
	if err := p.getJSON(ctx, fmt.Sprintf("%s/ip/%s", p.deps.APIs.BGPView, ips[0]), &ipInfo); err != nil {
		p.deps.Logger.Warn("BGP lookup failed", "ip", ips[0], "error", err)
		return nil
	}
	if ipInfo.Status != "ok" || len(ipInfo.Data.Prefixes) == 0 {
		p.deps.Logger.Info("no ASN announces the origin address", "ip", ips[0])
		return nil
	}

	asn := ipInfo.Data.Prefixes[0].ASN
	p.deps.notice("AS%d (%s)", asn.ASN, asn.Name)
	if isSharedProvider(asn.Name) {
		p.deps.Logger.Warn("origin is on shared infrastructure, not expanding scope", "asn", asn.ASN, "org", asn.Name)
		return nil
	}

	var prefixes bgpPrefixesResponse
	if err := p.getJSON(ctx, fmt.Sprintf("%s/asn/%d/prefixes", p.deps.APIs.BGPView, asn.ASN), &prefixes); err != nil {
		p.deps.Logger.Warn("prefix lookup failed", "asn", asn.ASN, "error", err)
		return nil
	}

	var cidrs []string
	for _, pfx := range prefixes.Data.IPv4Prefixes {
		parsed, err := netip.ParsePrefix(strings.TrimSpace(pfx.Prefix))
		if err != nil || !parsed.Addr().Is4() {
			continue
		}
		cidrs = append(cidrs, parsed.Masked().String())
	}
	added := sess.AddressRanges.Extend(ctx, cidrs)
	p.deps.notice("%d IPv4 prefixes in scope", added)
	return nil
}

func (p *HorizontalPhase) getJSON(ctx context.Context, endpoint string, v any) error {
	resp, err := p.deps.HTTP.Get(ctx, endpoint)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return json.Unmarshal(resp.Body, v)
}

func isSharedProvider(org string) bool {
	org = strings.ToUpper(org)
	for _, provider := range sharedProviders {
		if strings.Contains(org, provider) {
			return true
		}
	}
	return false
}
