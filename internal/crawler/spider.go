package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/nao1215/arbiter/internal/transport"
)

// Fetcher retrieves a URL. *transport.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, url string) (*transport.Response, error)
}

// DefaultIgnorePatterns skip static assets that never lead to new endpoints.
var DefaultIgnorePatterns = []string{
	"*.css", "*.png", "*.jpg", "*.jpeg", "*.gif", "*.svg", "*.ico", "*.webp",
	"*.woff", "*.woff2", "*.ttf", "*.eot", "*.mp4", "*.mp3", "*.pdf", "*.zip",
}

// Spider fetches a page and returns the same-host links on it.
//
// It does not recurse: the spider phase fans one Fetch per live host out
// through a cooperative batch, which owns the concurrency limits.
type Spider struct {
	fetcher        Fetcher
	maxLinks       int
	ignorePatterns []string
}

// SpiderOption configures a Spider.
type SpiderOption func(*Spider)

// WithMaxLinks caps the links returned per page. Zero means no cap.
func WithMaxLinks(n int) SpiderOption {
	return func(s *Spider) {
		s.maxLinks = n
	}
}

// WithIgnorePatterns replaces the glob patterns of paths to skip
// (e.g. "/logout*", "*.pdf").
func WithIgnorePatterns(patterns []string) SpiderOption {
	return func(s *Spider) {
		s.ignorePatterns = patterns
	}
}

// NewSpider creates a new Spider that fetches through f.
func NewSpider(f Fetcher, opts ...SpiderOption) *Spider {
	s := &Spider{
		fetcher:        f,
		maxLinks:       25,
		ignorePatterns: DefaultIgnorePatterns,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Page is what one fetch of an HTML page yields.
type Page struct {
	URL     string
	Title   string
	Links   []string
	Scripts []string
	Images  []string
}

// Fetch retrieves pageURL and extracts its same-host links, scripts, and
// images. Non-HTML responses yield an empty page.
func (s *Spider) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	resp, err := s.fetcher.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	page := &Page{URL: resp.URL}
	if !isHTML(resp.Header.Get("Content-Type"), resp.Body) {
		return page, nil
	}

	parser, err := NewParser(resp.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}
	result, err := parser.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", pageURL, err)
	}

	page.Title = result.Title
	page.Scripts = result.Scripts
	page.Images = result.Images

	seen := make(map[string]bool)
	for _, link := range result.InternalLinks {
		if s.maxLinks > 0 && len(page.Links) >= s.maxLinks {
			break
		}
		link = NormalizeURL(link)
		if seen[link] || !s.shouldCrawl(link) {
			continue
		}
		seen[link] = true
		page.Links = append(page.Links, link)
	}
	return page, nil
}

// Links is Fetch reduced to the link list, in the shape a cooperative
// batch consumes.
func (s *Spider) Links(ctx context.Context, pageURL string) ([]string, error) {
	page, err := s.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return page.Links, nil
}

func isHTML(contentType string, body []byte) bool {
	if contentType != "" {
		return strings.Contains(strings.ToLower(contentType), "html")
	}
	head := bytes.ToLower(body[:min(len(body), 512)])
	return bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<!doctype html"))
}

// NormalizeURL drops the fragment, lowercases scheme and host, and maps an
// empty path to "/", so equivalent URLs deduplicate.
func NormalizeURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// shouldCrawl reports whether a URL's path matches none of the ignore patterns.
func (s *Spider) shouldCrawl(targetURL string) bool {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	for _, pattern := range s.ignorePatterns {
		if matchPattern(pattern, path) {
			return false
		}
	}
	return true
}

// matchPattern checks if a path matches a glob pattern.
//   - "/admin/*" matches "/admin/dashboard"
//   - "*.pdf" matches "/docs/file.pdf" (case-insensitive extension)
//   - "/api/v?" matches "/api/v1"
func matchPattern(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
	}

	if strings.HasPrefix(pattern, "*.") {
		ext := strings.TrimPrefix(pattern, "*")
		if strings.HasSuffix(strings.ToLower(path), ext) {
			return true
		}
	}

	matched, err := filepath.Match(pattern, path)
	if err != nil {
		return false
	}
	return matched
}
