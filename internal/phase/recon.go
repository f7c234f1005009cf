package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/session"
)

// ReconPhase collects subdomains passively from subfinder and the
// Wayback Machine. The apex domain is always recorded.
type ReconPhase struct {
	deps *Deps
}

// NewReconPhase creates the passive recon phase.
func NewReconPhase(d *Deps) *ReconPhase {
	return &ReconPhase{deps: d}
}

// Name returns the phase name.
func (p *ReconPhase) Name() string { return NameRecon }

// Run executes the phase.
func (p *ReconPhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	p.deps.banner("PASSIVE RECON")
	domain := sess.Domain()

	found := []string{domain}

	lines, err := p.deps.runTool(ctx, cfg, ToolSubfinder, []string{"-d", domain, "-silent", "-all"}, nil)
	if err != nil {
		return err
	}
	subfinder := inScopeHosts(lines, domain)
	p.deps.Logger.Info("subfinder finished", "domain", domain, "count", len(subfinder))
	found = append(found, subfinder...)

	archived, err := p.wayback(ctx, domain)
	if err != nil {
		p.deps.Logger.Warn("wayback machine query failed", "domain", domain, "error", err)
	}
	found = append(found, archived...)

	added := sess.Subdomains.Extend(ctx, found)
	p.deps.notice("%d new subdomains (%d total)", added, sess.Subdomains.Count(ctx))
	return nil
}

// wayback returns the in-scope hosts of every URL the Wayback Machine has
// archived under the domain.
func (p *ReconPhase) wayback(ctx context.Context, domain string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/cdx/search/cdx?url=*.%s/*&output=json&fl=original&collapse=urlkey",
		p.deps.APIs.Wayback, url.QueryEscape(domain))
	resp, err := p.deps.HTTP.Get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if len(resp.Body) == 0 {
		return nil, nil
	}

	var rows [][]string
	if err := json.Unmarshal(resp.Body, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode CDX response: %w", err)
	}

	hosts := make([]string, 0, len(rows))
	// The first row is the column header.
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		if h := model.HostOf(row[0]); h != "" {
			hosts = append(hosts, h)
		}
	}
	return inScopeHosts(hosts, domain), nil
}

// inScopeHosts normalizes raw host names and keeps those under domain.
func inScopeHosts(raw []string, domain string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, h := range raw {
		h = strings.TrimPrefix(trimDot(h), "*.")
		if h == "" || seen[h] || !model.InScope(h, domain) {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}
