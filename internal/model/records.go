package model

import (
	"sort"
	"strings"
)

// LiveHost is an HTTP(S) endpoint that answered a probe.
//
// Identity is the whole record: probing the same URL twice with a
// different title or technology list yields two entries, and readers
// that need one row per URL use GroupLiveHostsByURL.
type LiveHost struct {
	URL          string   `json:"url"`
	StatusCode   int      `json:"status_code"`
	Title        string   `json:"title"`
	Technologies []string `json:"tech"`
	Server       string   `json:"server"`
}

// Vulnerability is a single finding produced by a phase.
type Vulnerability struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	URL      string   `json:"url"`
	Info     string   `json:"info"`
}

// CloudAsset is a storage bucket or similar resource attributed to the target.
type CloudAsset struct {
	Provider string `json:"provider"`
	Type     string `json:"type"`
	URL      string `json:"url"`
}

// EmailSecurity summarizes the mail posture of the apex domain.
type EmailSecurity struct {
	SPF       string   `json:"spf"`
	DMARC     string   `json:"dmarc"`
	MX        []string `json:"mx"`
	Providers []string `json:"providers"`
	DNSSEC    bool     `json:"dnssec"`
	OpenPorts []int    `json:"open_ports"`
	Spoofable bool     `json:"spoofable"`
	Analyzed  bool     `json:"analyzed"`
}

// Technologies maps a technology category to the URLs it was seen on.
type Technologies map[string][]string

// Add records url under category, keeping the URL list sorted and unique.
func (t Technologies) Add(category, url string) {
	urls := t[category]
	i := sort.SearchStrings(urls, url)
	if i < len(urls) && urls[i] == url {
		return
	}
	urls = append(urls, "")
	copy(urls[i+1:], urls[i:])
	urls[i] = url
	t[category] = urls
}

// Categories returns the category names in sorted order.
func (t Technologies) Categories() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge adds every entry of other into t.
func (t Technologies) Merge(other Technologies) {
	for category, urls := range other {
		for _, u := range urls {
			t.Add(category, u)
		}
	}
}

// GroupLiveHostsByURL collapses hosts that share a URL into one row.
// The last record for a URL wins for status, title, and server; technology
// lists are unioned. The result is sorted by URL.
func GroupLiveHostsByURL(hosts []LiveHost) []LiveHost {
	byURL := make(map[string]*LiveHost, len(hosts))
	order := make([]string, 0, len(hosts))
	for _, h := range hosts {
		existing, ok := byURL[h.URL]
		if !ok {
			copied := h
			copied.Technologies = uniqueSorted(h.Technologies)
			byURL[h.URL] = &copied
			order = append(order, h.URL)
			continue
		}
		existing.StatusCode = h.StatusCode
		if h.Title != "" {
			existing.Title = h.Title
		}
		if h.Server != "" {
			existing.Server = h.Server
		}
		existing.Technologies = uniqueSorted(append(existing.Technologies, h.Technologies...))
	}

	sort.Strings(order)
	grouped := make([]LiveHost, 0, len(order))
	for _, u := range order {
		grouped = append(grouped, *byURL[u])
	}
	return grouped
}

// SortVulnerabilities orders findings by descending severity, then name, then URL.
func SortVulnerabilities(vulns []Vulnerability) {
	sort.SliceStable(vulns, func(i, j int) bool {
		if vulns[i].Severity != vulns[j].Severity {
			return vulns[i].Severity > vulns[j].Severity
		}
		if vulns[i].Name != vulns[j].Name {
			return vulns[i].Name < vulns[j].Name
		}
		return vulns[i].URL < vulns[j].URL
	})
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
