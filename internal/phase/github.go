package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/session"
	"github.com/nao1215/arbiter/internal/transport"
)

// leakKeywords are searched for next to the domain name.
var leakKeywords = []string{"password", "secret", "api_key", "token", "aws_access_key_id", "credentials"}

// placeholderToken is the value shipped in the sample settings file.
const placeholderToken = "YOUR_GITHUB_TOKEN"

// GitHubPhase searches public code on GitHub for credentials mentioned
// alongside the target domain.
type GitHubPhase struct {
	deps *Deps
	// pause spaces out searches; code search allows few requests per minute.
	pause time.Duration
	// perKeyword caps the hits reported for one keyword.
	perKeyword int
}

// NewGitHubPhase creates the GitHub intelligence phase.
func NewGitHubPhase(d *Deps) *GitHubPhase {
	return &GitHubPhase{deps: d, pause: 3 * time.Second, perKeyword: 5}
}

// Name returns the phase name.
func (p *GitHubPhase) Name() string { return NameGitHub }

type codeSearchResponse struct {
	Items []struct {
		HTMLURL    string `json:"html_url"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	} `json:"items"`
}

// Run executes the phase.
func (p *GitHubPhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	p.deps.banner("GITHUB INTELLIGENCE (SOURCE CODE RECON)")

	token := cfg.Settings.GitHubToken
	if token == "" || token == placeholderToken {
		p.deps.Logger.Warn("no GitHub token configured, skipping code search",
			"hint", fmt.Sprintf("set github_token in %s or %s", config.DefaultConfigFile, config.GitHubTokenEnv))
		return nil
	}

	domain := sess.Domain()
	header := http.Header{}
	header.Set("Authorization", "token "+token)
	header.Set("Accept", "application/vnd.github.v3+json")

	findings := 0
	for i, keyword := range leakKeywords {
		if i > 0 && !sleepCtx(ctx, p.pause) {
			break
		}

		query := url.QueryEscape(fmt.Sprintf("%q %q", domain, keyword))
		resp, err := p.deps.HTTP.Fetch(ctx, transport.Request{
			URL:    fmt.Sprintf("%s/search/code?q=%s", p.deps.APIs.GitHub, query),
			Header: header,
		})
		if err != nil {
			p.deps.Logger.Warn("GitHub API request failed", "error", err)
			break
		}
		if resp.StatusCode == http.StatusForbidden {
			p.deps.Logger.Warn("GitHub API rate limit exceeded, stopping code search")
			break
		}
		if resp.StatusCode != http.StatusOK {
			p.deps.Logger.Debug("GitHub search failed", "keyword", keyword, "status", resp.StatusCode)
			continue
		}

		var result codeSearchResponse
		if err := json.Unmarshal(resp.Body, &result); err != nil {
			p.deps.Logger.Debug("undecodable GitHub response", "error", err)
			continue
		}
		for j, item := range result.Items {
			if j >= p.perKeyword {
				break
			}
			repo := item.Repository.FullName
			if repo == "" {
				repo = "Unknown"
			}
			p.deps.report(ctx, sess, model.Vulnerability{
				Name:     "GitHub Source Code Leak (" + keyword + ")",
				Severity: model.SeverityHigh,
				URL:      item.HTMLURL,
				Info:     fmt.Sprintf("Found '%s' associated with '%s' in repository '%s'.", keyword, domain, repo),
			})
			findings++
		}
	}

	if findings == 0 {
		p.deps.notice("no source code leaks found")
	}
	return nil
}

// sleepCtx waits for d and reports whether ctx is still live.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
