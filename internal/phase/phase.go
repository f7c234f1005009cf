package phase

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/fatih/color"
	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/pipeline"
	"github.com/nao1215/arbiter/internal/session"
	"github.com/nao1215/arbiter/internal/transport"
)

// Phase names, in execution order.
const (
	NameRecon        = "recon"
	NameHorizontal   = "horizontal"
	NameDNSForensics = "dns_forensics"
	NamePorts        = "ports"
	NamePermutations = "permutations"
	NameProbing      = "probing"
	NameSpider       = "spider"
	NameTakeover     = "takeover"
	NameCloud        = "cloud"
	NameEmail        = "email"
	NameGitHub       = "github"
	NameCortex       = "cortex"
	NameOffensive    = "offensive"
	NameMetadata     = "metadata"
	NameMining       = "mining"
	NameChaos        = "chaos"
)

// HTTPClient is the HTTP egress used by the phases.
// *transport.Client implements it.
type HTTPClient interface {
	Get(ctx context.Context, url string) (*transport.Response, error)
	Fetch(ctx context.Context, r transport.Request) (*transport.Response, error)
}

// Dialer opens raw TCP connections. *transport.Client implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// APIs holds the base URLs of the third-party services phases query.
type APIs struct {
	Wayback string
	BGPView string
	GitHub  string
}

// DefaultAPIs returns the public service endpoints.
func DefaultAPIs() APIs {
	return APIs{
		Wayback: "http://web.archive.org",
		BGPView: "https://api.bgpview.io",
		GitHub:  "https://api.github.com",
	}
}

// Deps are the collaborators shared by every phase.
type Deps struct {
	HTTP     HTTPClient
	Dialer   Dialer
	Resolver Resolver
	Tools    ToolRunner
	APIs     APIs
	Logger   *slog.Logger

	// Out receives phase banners and progress bars. Nil disables both.
	Out io.Writer
}

// NewDeps wires the production collaborators for cfg around client.
func NewDeps(cfg *config.Config, client *transport.Client, logger *slog.Logger, out io.Writer) *Deps {
	return &Deps{
		HTTP:     client,
		Dialer:   client,
		Resolver: NewDNSResolver(cfg.Settings.ResolverList(), cfg.Profile.TaskTimeout),
		Tools:    ExecRunner{},
		APIs:     DefaultAPIs(),
		Logger:   logger,
		Out:      out,
	}
}

// All returns every phase in execution order.
func All(d *Deps) []pipeline.Phase {
	return []pipeline.Phase{
		NewReconPhase(d),
		NewHorizontalPhase(d),
		NewDNSForensicsPhase(d),
		NewPortsPhase(d),
		NewPermutationsPhase(d),
		NewProbingPhase(d),
		NewSpiderPhase(d),
		NewTakeoverPhase(d),
		NewCloudPhase(d),
		NewEmailPhase(d),
		NewGitHubPhase(d),
		NewCortexPhase(d),
		NewOffensivePhase(d),
		NewMetadataPhase(d),
		NewMiningPhase(d),
		NewChaosPhase(d),
	}
}

// NewRegistry returns the scan pipeline.
func NewRegistry(d *Deps) (*pipeline.Registry, error) {
	return pipeline.NewRegistry(All(d)...)
}

var (
	bannerColor = color.New(color.FgBlue, color.Bold)
	alertColor  = color.New(color.FgRed, color.Bold)
	okColor     = color.New(color.FgGreen)
)

// banner announces the start of a phase.
func (d *Deps) banner(title string) {
	if d.Out == nil {
		return
	}
	bannerColor.Fprintf(d.Out, "━━ %s ━━\n", title) //nolint:errcheck // terminal output
}

// report records a finding and echoes it to the terminal.
func (d *Deps) report(ctx context.Context, sess *session.Session, v model.Vulnerability) {
	if !sess.Vulnerabilities.Append(ctx, v) {
		return
	}
	d.Logger.Info("finding", "name", v.Name, "severity", v.Severity.String(), "url", v.URL)
	if d.Out != nil {
		alertColor.Fprintf(d.Out, "  %s %s: %s\n", v.Severity.Emoji(), v.Name, v.URL) //nolint:errcheck // terminal output
	}
}

// notice prints an informational line under the current banner.
func (d *Deps) notice(format string, args ...any) {
	if d.Out == nil {
		return
	}
	okColor.Fprintf(d.Out, "  + "+format+"\n", args...) //nolint:errcheck // terminal output
}

// probeOptions returns bounded pool options for cfg with an optional progress bar.
func (d *Deps) probeOptions(cfg *config.Config, desc string) []pipeline.PoolOption {
	opts := append(pipeline.ProbeOptions(cfg.Profile), pipeline.WithPoolLogger(d.Logger))
	if d.Out != nil {
		opts = append(opts, pipeline.WithProgress(d.Out, desc))
	}
	return opts
}

// liveURLs returns the distinct live host URLs in first-seen order.
func liveURLs(ctx context.Context, sess *session.Session) []string {
	seen := make(map[string]bool)
	var urls []string
	for h := range sess.LiveHosts.All(ctx) {
		if h.URL == "" || seen[h.URL] {
			continue
		}
		seen[h.URL] = true
		urls = append(urls, h.URL)
	}
	return urls
}

// baseURL strips any path from a URL: "https://a.example.com/x" yields
// "https://a.example.com".
func baseURL(rawURL string) string {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return rawURL
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host
}
