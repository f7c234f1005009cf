package phase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/crawler"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/pipeline"
	"github.com/nao1215/arbiter/internal/session"
	wappalyzer "github.com/projectdiscovery/wappalyzergo"
)

// ProbingPhase requests every subdomain over HTTPS, falling back to HTTP,
// and profiles the hosts that answer.
type ProbingPhase struct {
	deps *Deps

	once    sync.Once
	wappler *wappalyzer.Wappalyze
}

// NewProbingPhase creates the active probing phase.
func NewProbingPhase(d *Deps) *ProbingPhase {
	return &ProbingPhase{deps: d}
}

// Name returns the phase name.
func (p *ProbingPhase) Name() string { return NameProbing }

type probeResult struct {
	host       model.LiveHost
	categories model.Technologies
}

// Run executes the phase.
func (p *ProbingPhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	p.deps.banner("ACTIVE PROBING & TECH PROFILING")

	targets := sess.Subdomains.Items(ctx)
	if len(targets) == 0 {
		p.deps.Logger.Warn("no targets available for active probing")
		return nil
	}
	p.initFingerprints()

	results := pipeline.Map(ctx, targets, p.probe, p.deps.probeOptions(cfg, "probing")...)

	tech := make(model.Technologies)
	hosts := make([]model.LiveHost, 0, len(results))
	for _, r := range results {
		if r.host.URL == "" {
			continue
		}
		hosts = append(hosts, r.host)
		tech.Merge(r.categories)
	}
	slices.SortFunc(hosts, func(a, b model.LiveHost) int {
		return strings.Compare(a.URL, b.URL)
	})

	added := sess.LiveHosts.Extend(ctx, hosts)
	if len(tech) > 0 {
		if err := sess.MergeTechnologies(ctx, tech); err != nil {
			p.deps.Logger.Error("failed to store technologies", "error", err)
		}
	}
	p.deps.notice("%d live hosts profiled", added)
	return nil
}

func (p *ProbingPhase) initFingerprints() {
	p.once.Do(func() {
		w, err := wappalyzer.New()
		if err != nil {
			p.deps.Logger.Warn("technology fingerprints unavailable", "error", err)
			return
		}
		p.wappler = w
	})
}

// probe returns the first scheme that answers. When neither does, the
// request errors are returned so the pool can retry the host.
func (p *ProbingPhase) probe(ctx context.Context, host string) (probeResult, error) {
	var errs []error
	for _, scheme := range []string{"https", "http"} {
		target := scheme + "://" + host
		resp, err := p.deps.HTTP.Get(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return probeResult{}, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}

		live := model.LiveHost{
			URL:        target,
			StatusCode: resp.StatusCode,
			Title:      crawler.ExtractTitle(resp.Body),
			Server:     resp.Header.Get("Server"),
		}
		categories := make(model.Technologies)
		if p.wappler != nil {
			for name, info := range p.wappler.FingerprintWithInfo(resp.Header, resp.Body) {
				live.Technologies = append(live.Technologies, name)
				if len(info.Categories) == 0 {
					categories.Add("Other", target)
				}
				for _, c := range info.Categories {
					categories.Add(c, target)
				}
			}
			slices.Sort(live.Technologies)
		}
		if live.Technologies == nil {
			live.Technologies = []string{}
		}
		return probeResult{host: live, categories: categories}, nil
	}
	return probeResult{}, fmt.Errorf("%s is not reachable: %w", host, errors.Join(errs...))
}
