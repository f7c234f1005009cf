package phase

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/pipeline"
	"github.com/nao1215/arbiter/internal/session"
)

// permutationWords is a short, high-signal list; larger lists mostly
// earn resolver rate limits.
var permutationWords = []string{
	"dev", "staging", "test", "prod", "beta",
	"admin", "api", "vpn", "corp", "internal",
	"demo", "stage", "preprod", "public", "private",
	"v1", "v2", "bak", "old", "new",
}

// PermutationsPhase guesses sibling subdomains from the known ones
// (api.example.com yields dev-api.example.com, api-dev.example.com, and
// api.dev.example.com) and keeps the guesses that resolve.
type PermutationsPhase struct {
	deps *Deps
}

// NewPermutationsPhase creates the permutation phase.
func NewPermutationsPhase(d *Deps) *PermutationsPhase {
	return &PermutationsPhase{deps: d}
}

// Name returns the phase name.
func (p *PermutationsPhase) Name() string { return NamePermutations }

// Run executes the phase.
func (p *PermutationsPhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	p.deps.banner("SUBDOMAIN PERMUTATIONS")

	known := sess.Subdomains.Items(ctx)
	if len(known) == 0 {
		p.deps.Logger.Warn("no subdomains to permute")
		return nil
	}

	words := p.deps.loadWordlist(cfg.Settings.Wordlists.Permutations, permutationWords)
	candidates := permutations(known, sess.Domain(), words)
	if len(candidates) == 0 {
		return nil
	}
	p.deps.Logger.Info("resolving permutations", "count", len(candidates))

	resolved := pipeline.Map(ctx, candidates, func(ctx context.Context, name string) (string, error) {
		ips, err := lookupA(ctx, p.deps.Resolver, name)
		if errors.Is(err, ErrNXDomain) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if len(ips) == 0 {
			return "", nil
		}
		return name, nil
	}, p.deps.probeOptions(cfg, "permutations")...)

	var found []string
	for _, name := range resolved {
		if name != "" {
			found = append(found, name)
		}
	}
	slices.Sort(found)
	added := sess.Subdomains.Extend(ctx, found)
	p.deps.notice("%d hidden subdomains", added)
	return nil
}

// permutations returns the sorted candidate names derived from known and
// words that are not already known.
func permutations(known []string, domain string, words []string) []string {
	existing := make(map[string]bool, len(known))
	prefixes := make(map[string]bool)
	for _, sub := range known {
		existing[sub] = true
		if prefix, ok := strings.CutSuffix(sub, "."+domain); ok && prefix != "" {
			prefixes[prefix] = true
		}
	}

	set := make(map[string]bool)
	for prefix := range prefixes {
		for _, w := range words {
			for _, c := range []string{
				prefix + "-" + w + "." + domain,
				w + "-" + prefix + "." + domain,
				prefix + "." + w + "." + domain,
			} {
				if !existing[c] {
					set[c] = true
				}
			}
		}
	}

	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
