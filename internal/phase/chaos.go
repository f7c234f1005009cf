package phase

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/pipeline"
	"github.com/nao1215/arbiter/internal/session"
	"github.com/nao1215/arbiter/internal/transport"
)

// contentWords is the built-in discovery list, used when no content
// wordlist is configured.
var contentWords = []string{
	".env", ".git/HEAD", ".git/config", "api/v1/users", "server-status",
	"backup.zip", ".DS_Store", "phpinfo.php", "config.json", "admin/",
}

// softNotFoundSlack is how far a response length may drift from the
// calibration response and still count as the same catch-all page.
// Catch-all pages often echo the requested path.
const softNotFoundSlack = 64

// ChaosPhase requests well-known sensitive paths on every live host and
// reports those that exist, after filtering catch-all responses.
type ChaosPhase struct {
	deps *Deps
}

// NewChaosPhase creates the content discovery phase.
func NewChaosPhase(d *Deps) *ChaosPhase {
	return &ChaosPhase{deps: d}
}

// Name returns the phase name.
func (p *ChaosPhase) Name() string { return NameChaos }

// baseline is the response of a host to a path that cannot exist.
type baseline struct {
	status int
	length int
}

// matches reports whether a response looks like the host's catch-all page.
func (b baseline) matches(status, length int) bool {
	if status != b.status {
		return false
	}
	diff := length - b.length
	return diff >= -softNotFoundSlack && diff <= softNotFoundSlack
}

type contentProbe struct {
	url  string
	base baseline
}

// Run executes the phase.
func (p *ChaosPhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	p.deps.banner("CHAOS (CONTENT DISCOVERY)")

	hosts := liveURLs(ctx, sess)
	if len(hosts) == 0 {
		p.deps.Logger.Warn("no live hosts to fuzz")
		return nil
	}
	words := p.deps.loadWordlist(cfg.Settings.Wordlists.Content, contentWords)

	type calibrated struct {
		host string
		base baseline
	}
	calibrations := pipeline.Map(ctx, hosts, func(ctx context.Context, host string) (calibrated, error) {
		b, err := p.calibrate(ctx, host)
		return calibrated{host: host, base: b}, err
	}, p.deps.probeOptions(cfg, "calibration")...)

	var probes []contentProbe
	for _, c := range calibrations {
		root := strings.TrimSuffix(c.host, "/")
		for _, w := range words {
			probes = append(probes, contentProbe{url: root + "/" + strings.TrimPrefix(w, "/"), base: c.base})
		}
	}

	findings := pipeline.Map(ctx, probes, p.probe, p.deps.probeOptions(cfg, "content discovery")...)
	n := 0
	for _, v := range findings {
		if v.URL == "" {
			continue
		}
		p.deps.report(ctx, sess, v)
		n++
	}
	if n == 0 {
		p.deps.notice("all responses filtered as false positives")
	}
	return nil
}

// calibrate requests a random path to learn the host's not-found response.
func (p *ChaosPhase) calibrate(ctx context.Context, host string) (baseline, error) {
	target := strings.TrimSuffix(host, "/") + "/" + uuid.New().String()
	resp, err := p.deps.HTTP.Fetch(ctx, transport.Request{URL: target, NoRedirect: true})
	if err != nil {
		return baseline{}, err
	}
	return baseline{status: resp.StatusCode, length: len(resp.Body)}, nil
}

// probe returns a zero finding for a path that answered but is not
// interesting. Request errors are returned so the pool retries the path.
func (p *ChaosPhase) probe(ctx context.Context, cp contentProbe) (model.Vulnerability, error) {
	resp, err := p.deps.HTTP.Fetch(ctx, transport.Request{URL: cp.url, NoRedirect: true})
	if err != nil {
		return model.Vulnerability{}, err
	}

	var severity model.Severity
	switch resp.StatusCode {
	case http.StatusOK:
		severity = model.SeverityHigh
	case http.StatusForbidden, http.StatusMovedPermanently, http.StatusFound:
		severity = model.SeverityMedium
	default:
		return model.Vulnerability{}, nil
	}
	if cp.base.matches(resp.StatusCode, len(resp.Body)) {
		return model.Vulnerability{}, nil
	}

	return model.Vulnerability{
		Name:     fmt.Sprintf("Sensitive File/Directory (%d)", resp.StatusCode),
		Severity: severity,
		URL:      cp.url,
		Info:     fmt.Sprintf("Found hidden path via content discovery. Status: %d", resp.StatusCode),
	}, nil
}
