package phase

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/pipeline"
	"github.com/nao1215/arbiter/internal/session"
	"github.com/nao1215/arbiter/internal/transport"
)

// hostileOrigin is sent in the Origin header of every CORS probe.
const hostileOrigin = "https://evil-arbiter.com"

// OffensivePhase probes every live host for CORS policies that trust an
// arbitrary origin with credentials.
type OffensivePhase struct {
	deps *Deps
}

// NewOffensivePhase creates the CORS probing phase.
func NewOffensivePhase(d *Deps) *OffensivePhase {
	return &OffensivePhase{deps: d}
}

// Name returns the phase name.
func (p *OffensivePhase) Name() string { return NameOffensive }

// Run executes the phase.
func (p *OffensivePhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	p.deps.banner("OFFENSIVE STRIKES (CORS)")

	targets := liveURLs(ctx, sess)
	if len(targets) == 0 {
		p.deps.Logger.Warn("no live hosts to probe")
		return nil
	}

	findings := pipeline.Map(ctx, targets, p.probe, p.deps.probeOptions(cfg, "cors")...)
	n := 0
	for _, v := range findings {
		if v.URL == "" {
			continue
		}
		p.deps.report(ctx, sess, v)
		n++
	}
	if n == 0 {
		p.deps.notice("no CORS misconfigurations detected")
	}
	return nil
}

func (p *OffensivePhase) probe(ctx context.Context, target string) (model.Vulnerability, error) {
	header := http.Header{}
	header.Set("Origin", hostileOrigin)
	resp, err := p.deps.HTTP.Fetch(ctx, transport.Request{URL: target, Header: header})
	if err != nil {
		return model.Vulnerability{}, nil
	}

	acao := resp.Header.Get("Access-Control-Allow-Origin")
	acac := strings.ToLower(resp.Header.Get("Access-Control-Allow-Credentials"))
	if (acao != hostileOrigin && acao != "*") || acac != "true" {
		return model.Vulnerability{}, nil
	}
	return model.Vulnerability{
		Name:     "CORS Misconfiguration (API Hijack)",
		Severity: model.SeverityHigh,
		URL:      target,
		Info:     fmt.Sprintf("Server trusts Origin: %s with Credentials: %s", acao, acac),
	}, nil
}
