package phase

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/session"
)

// TakeoverPhase runs the nuclei takeover templates against the live hosts.
type TakeoverPhase struct {
	deps *Deps
}

// NewTakeoverPhase creates the subdomain takeover phase.
func NewTakeoverPhase(d *Deps) *TakeoverPhase {
	return &TakeoverPhase{deps: d}
}

// Name returns the phase name.
func (p *TakeoverPhase) Name() string { return NameTakeover }

// nucleiResult is the subset of a nuclei JSONL result the phase reads.
type nucleiResult struct {
	Host    string `json:"host"`
	Matched string `json:"matched-at"`
	Info    struct {
		Name string `json:"name"`
	} `json:"info"`
}

// Run executes the phase.
func (p *TakeoverPhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	p.deps.banner("SUBDOMAIN TAKEOVER CHECK")

	targets := liveURLs(ctx, sess)
	if len(targets) == 0 {
		p.deps.Logger.Warn("no targets to check for takeover")
		return nil
	}

	lines, err := p.deps.runTool(ctx, cfg, ToolNuclei,
		[]string{"-t", "takeovers", "-silent", "-jsonl", "-retries", "2"},
		strings.NewReader(strings.Join(targets, "\n")+"\n"))
	if err != nil {
		return err
	}

	found := 0
	for _, line := range lines {
		var r nucleiResult
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue
		}
		name := r.Info.Name
		if name == "" {
			name = "Unknown Takeover"
		}
		host := r.Host
		if host == "" {
			host = r.Matched
		}
		p.deps.report(ctx, sess, model.Vulnerability{
			Name:     "Subdomain Takeover (" + name + ")",
			Severity: model.SeverityCritical,
			URL:      host,
			Info:     "Dangling CNAME record detected. Asset can be seized.",
		})
		found++
	}
	if found == 0 {
		p.deps.notice("no dangling assets")
	}
	return nil
}
