package phase

import (
	"context"
	"slices"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/crawler"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/pipeline"
	"github.com/nao1215/arbiter/internal/session"
)

// SpiderPhase collects same-host links, and photos that may carry EXIF
// data, from the landing page of every live host in one cooperative batch.
type SpiderPhase struct {
	deps *Deps
}

// NewSpiderPhase creates the spider phase.
func NewSpiderPhase(d *Deps) *SpiderPhase {
	return &SpiderPhase{deps: d}
}

// Name returns the phase name.
func (p *SpiderPhase) Name() string { return NameSpider }

// Run executes the phase.
func (p *SpiderPhase) Run(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	p.deps.banner("SPIDER (SURFACE MAPPING)")

	targets := liveURLs(ctx, sess)
	if len(targets) == 0 {
		p.deps.Logger.Warn("no live hosts to crawl")
		return nil
	}

	spider := crawler.NewSpider(p.deps.HTTP, crawler.WithMaxLinks(cfg.Profile.MaxLinksPerHost))
	opts := append(pipeline.CrawlOptions(cfg.Profile), pipeline.WithPoolLogger(p.deps.Logger))
	if p.deps.Out != nil {
		opts = append(opts, pipeline.WithProgress(p.deps.Out, "spider"))
	}

	links := pipeline.Gather(ctx, targets, model.HostOf, func(ctx context.Context, target string) ([]string, error) {
		page, err := spider.Fetch(ctx, target)
		if err != nil {
			return nil, err
		}
		// Same-host photos are kept for the metadata phase.
		out := page.Links
		host := model.HostOf(page.URL)
		for _, img := range page.Images {
			if isEXIFImage(img) && model.HostOf(img) == host {
				out = append(out, crawler.NormalizeURL(img))
			}
		}
		return out, nil
	}, opts...)
	slices.Sort(links)

	added := sess.CrawledURLs.Extend(ctx, links)
	p.deps.notice("%d URLs mapped", added)
	return nil
}
