package phase

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/pipeline"
	"github.com/nao1215/arbiter/internal/session"
	"github.com/nao1215/arbiter/internal/transport"
)

// bucketSuffixes are appended to the target keyword to guess bucket names.
var bucketSuffixes = []string{
	"", "-dev", "-prod", "-staging", "-test", "-backup", "-backups",
	"-assets", "-static", "-media", "-files", "-data", "-logs",
	"-public", "-private", "-uploads",
}

// bucketProvider builds the probe URL of a bucket name on one cloud.
type bucketProvider struct {
	name string
	url  func(bucket string) string
	// valid filters names the provider would reject outright.
	valid func(bucket string) bool
}

var defaultBucketProviders = []bucketProvider{
	{
		name:  "aws",
		url:   func(b string) string { return "https://" + b + ".s3.amazonaws.com" },
		valid: func(b string) bool { return len(b) >= 3 && len(b) <= 63 },
	},
	{
		name:  "gcp",
		url:   func(b string) string { return "https://storage.googleapis.com/" + b },
		valid: func(b string) bool { return len(b) >= 3 && len(b) <= 63 },
	},
	{
		name: "azure",
		url:  func(b string) string { return "https://" + b + ".blob.core.windows.net" },
		// Storage account names are 3-24 lowercase letters and digits.
		valid: func(b string) bool {
			if len(b) < 3 || len(b) > 24 {
				return false
			}
			return !strings.ContainsFunc(b, func(r rune) bool {
				return (r < 'a' || r > 'z') && (r < '0' || r > '9')
			})
		},
	},
}

// CloudPhase looks for storage buckets named after the target.
type CloudPhase struct {
	deps      *Deps
	providers []bucketProvider
}

// NewCloudPhase creates the cloud recon phase.
func NewCloudPhase(d *Deps) *CloudPhase {
	return &CloudPhase{deps: d, providers: defaultBucketProviders}
}

// Name returns the phase name.
func (p *CloudPhase) Name() string { return NameCloud }

type bucketProbe struct {
	provider string
	url      string
}

// Run executes the phase.
func (p *CloudPhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	p.deps.banner("CLOUD RECON")

	keyword := model.Keyword(sess.Domain())
	p.deps.Logger.Info("derived cloud keyword", "keyword", keyword)

	assets, err := p.s3enum(ctx, cfg, keyword)
	if err != nil {
		return err
	}

	if cfg.Profile.SkipSlowEnumeration {
		p.deps.Logger.Info("skipping bucket permutation sweep in this mode", "mode", cfg.Mode.String())
	} else {
		suffixes := p.deps.loadWordlist(cfg.Settings.Wordlists.Buckets, bucketSuffixes)
		probes := p.candidates(keyword, suffixes)
		found := pipeline.Map(ctx, probes, p.probe, p.deps.probeOptions(cfg, "buckets")...)
		for _, a := range found {
			if a.URL != "" {
				assets = append(assets, a)
			}
		}
	}

	slices.SortFunc(assets, func(a, b model.CloudAsset) int { return strings.Compare(a.URL, b.URL) })
	if err := sess.AddCloudAssets(ctx, assets); err != nil {
		p.deps.Logger.Error("failed to store cloud assets", "error", err)
	}
	for _, a := range assets {
		p.deps.notice("%s %s: %s", strings.ToUpper(a.Provider), a.Type, a.URL)
	}
	return nil
}

// candidates expands keyword and suffixes into one probe per provider.
func (p *CloudPhase) candidates(keyword string, suffixes []string) []bucketProbe {
	seen := make(map[string]bool)
	var probes []bucketProbe
	for _, suffix := range suffixes {
		name := strings.ToLower(keyword + suffix)
		for _, prov := range p.providers {
			candidate := name
			if prov.name == "azure" {
				candidate = strings.ReplaceAll(candidate, "-", "")
			}
			if !prov.valid(candidate) {
				continue
			}
			u := prov.url(candidate)
			if seen[u] {
				continue
			}
			seen[u] = true
			probes = append(probes, bucketProbe{provider: prov.name, url: u})
		}
	}
	return probes
}

// probe returns the asset when the bucket exists: 200 means listable,
// 403 means present but private. Anything else is a zero asset.
func (p *CloudPhase) probe(ctx context.Context, b bucketProbe) (model.CloudAsset, error) {
	resp, err := p.deps.HTTP.Fetch(ctx, transport.Request{Method: http.MethodHead, URL: b.url, NoRedirect: true})
	if err != nil {
		if ctx.Err() != nil {
			return model.CloudAsset{}, ctx.Err()
		}
		return model.CloudAsset{}, nil
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return model.CloudAsset{Provider: b.provider, Type: "public bucket", URL: b.url}, nil
	case http.StatusForbidden:
		return model.CloudAsset{Provider: b.provider, Type: "bucket", URL: b.url}, nil
	default:
		return model.CloudAsset{}, nil
	}
}

// s3enum runs the s3enum binary when a wordlist is configured for it.
func (p *CloudPhase) s3enum(ctx context.Context, cfg *config.Config, keyword string) ([]model.CloudAsset, error) {
	tool := cfg.Settings.Tool(ToolS3Enum)
	wordlist := tool.Wordlist
	if wordlist == "" {
		wordlist = cfg.Settings.Wordlists.Buckets
	}
	if wordlist == "" {
		p.deps.Logger.Debug("no s3enum wordlist configured, skipping")
		return nil, nil
	}

	lines, err := p.deps.runTool(ctx, cfg, ToolS3Enum,
		[]string{"-wordlist", wordlist, "-suffix", "", "-threads", "10", keyword}, nil)
	if err != nil {
		return nil, err
	}

	var assets []model.CloudAsset
	for _, line := range lines {
		if !strings.Contains(line, "amazonaws.com") {
			continue
		}
		u := line
		if !strings.HasPrefix(u, "http") {
			u = fmt.Sprintf("https://%s", u)
		}
		assets = append(assets, model.CloudAsset{Provider: "aws", Type: "bucket", URL: u})
	}
	return assets, nil
}
