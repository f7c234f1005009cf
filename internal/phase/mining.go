package phase

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/session"
)

// interestingParams are query parameters that commonly feed injection,
// redirect, or file inclusion bugs.
var interestingParams = []string{"id", "file", "page", "dir", "search", "url", "redirect", "return"}

// inclusionParams name files or directories on the server.
var inclusionParams = []string{"file", "dir"}

// MiningPhase picks out known URLs whose query parameters are worth
// testing by hand.
type MiningPhase struct {
	deps *Deps
}

// NewMiningPhase creates the parameter mining phase.
func NewMiningPhase(d *Deps) *MiningPhase {
	return &MiningPhase{deps: d}
}

// Name returns the phase name.
func (p *MiningPhase) Name() string { return NameMining }

// Run executes the phase.
func (p *MiningPhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	p.deps.banner("PARAMETER MINING")

	seen := make(map[string]bool)
	var candidates []string
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			candidates = append(candidates, u)
		}
	}
	for h := range sess.LiveHosts.All(ctx) {
		add(h.URL)
	}
	for u := range sess.CrawledURLs.All(ctx) {
		add(u)
	}
	for v := range sess.Vulnerabilities.All(ctx) {
		add(v.URL)
	}

	var mined []string
	for _, u := range candidates {
		params := matchedParams(u)
		if len(params) == 0 {
			continue
		}
		mined = append(mined, u)
		if slices.ContainsFunc(params, func(name string) bool { return slices.Contains(inclusionParams, name) }) {
			p.deps.report(ctx, sess, model.Vulnerability{
				Name:     "Potential File Inclusion Parameter",
				Severity: model.SeverityLow,
				URL:      u,
				Info:     "Parameters: " + strings.Join(params, ", "),
			})
		}
	}

	added := sess.Endpoints.Extend(ctx, mined)
	p.deps.notice("%d URLs with potential injection points", added)
	return nil
}

// matchedParams returns the interesting parameter names in u's query, sorted.
func matchedParams(u string) []string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.RawQuery == "" {
		return nil
	}
	var out []string
	for name := range parsed.Query() {
		name = strings.ToLower(name)
		if slices.Contains(interestingParams, name) && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}
