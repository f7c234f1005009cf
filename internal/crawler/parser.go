package crawler

import (
	"bytes"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Parser extracts links and page metadata from HTML.
// Malformed markup is common on scanned hosts, so parsing goes through
// golang.org/x/net/html rather than regular expressions.
type Parser struct {
	// baseURL is the URL of the page being parsed, used for resolving relative URLs.
	baseURL *url.URL
}

// ParseResult contains everything extracted from one HTML page.
type ParseResult struct {
	// Title is the text of the first <title> element.
	Title string

	// Links are resolved href targets of <a> and <area>, and form actions.
	Links []string

	// InternalLinks are the Links on the same host as the page.
	InternalLinks []string

	// Forms describes the page's forms.
	Forms []FormInfo

	// Scripts are resolved <script src> URLs.
	Scripts []string

	// Images are resolved <img src> and icon URLs.
	Images []string

	// Comments are HTML comments, which sometimes leak internal paths.
	Comments []string
}

// FormInfo contains information about an HTML form.
type FormInfo struct {
	Action string
	Method string
	Fields []string
}

// NewParser creates a new HTML parser with the given base URL.
func NewParser(baseURL string) (*Parser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Parser{baseURL: u}, nil
}

// Parse parses HTML content.
func (p *Parser) Parse(content io.Reader) (*ParseResult, error) {
	doc, err := html.Parse(content)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			p.processElement(n, result)
		case html.CommentNode:
			if c := strings.TrimSpace(n.Data); c != "" {
				result.Comments = append(result.Comments, c)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return result, nil
}

// processElement handles HTML element nodes.
func (p *Parser) processElement(n *html.Node, result *ParseResult) {
	switch n.Data {
	case "title":
		if result.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			result.Title = strings.Join(strings.Fields(n.FirstChild.Data), " ")
		}

	case "a", "area":
		p.addLink(getAttr(n, "href"), result)

	case "form":
		action := p.resolveURL(getAttr(n, "action"))
		if action == "" {
			action = p.baseURL.String()
		}
		form := FormInfo{
			Action: action,
			Method: strings.ToUpper(getAttr(n, "method")),
		}
		if form.Method == "" {
			form.Method = "GET"
		}
		collectFields(n, &form)
		result.Forms = append(result.Forms, form)
		p.addLink(getAttr(n, "action"), result)

	case "script":
		if src := p.resolveURL(getAttr(n, "src")); src != "" {
			result.Scripts = append(result.Scripts, src)
		}

	case "img":
		if src := p.resolveURL(getAttr(n, "src")); src != "" {
			result.Images = append(result.Images, src)
		}

	case "link":
		rel := strings.ToLower(getAttr(n, "rel"))
		if rel == "icon" || rel == "shortcut icon" || rel == "apple-touch-icon" {
			if href := p.resolveURL(getAttr(n, "href")); href != "" {
				result.Images = append(result.Images, href)
			}
		}
	}
}

func (p *Parser) addLink(href string, result *ParseResult) {
	resolved := p.resolveURL(href)
	if resolved == "" {
		return
	}
	result.Links = append(result.Links, resolved)
	if u, err := url.Parse(resolved); err == nil && strings.EqualFold(u.Host, p.baseURL.Host) {
		result.InternalLinks = append(result.InternalLinks, resolved)
	}
}

// collectFields records the names of a form's input fields.
func collectFields(n *html.Node, form *FormInfo) {
	if n.Type == html.ElementNode && (n.Data == "input" || n.Data == "select" || n.Data == "textarea") {
		if name := getAttr(n, "name"); name != "" {
			form.Fields = append(form.Fields, name)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectFields(c, form)
	}
}

// resolveURL resolves href against the base URL, dropping the fragment.
// Pseudo-URLs (javascript:, mailto:, tel:, data:) resolve to "".
func (p *Parser) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" {
		return ""
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return ""
		}
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := p.baseURL.ResolveReference(u)
	resolved.Fragment = ""
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// ExtractTitle returns the page title of an HTML body, or "" if there is none.
func ExtractTitle(body []byte) string {
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) != "title" {
				continue
			}
			if z.Next() == html.TextToken {
				return strings.Join(strings.Fields(string(z.Text())), " ")
			}
			return ""
		}
	}
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
