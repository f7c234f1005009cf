package config

import (
	"net"
	"strings"
)

// DefaultResolvers are the DNS servers used when the settings file lists none.
var DefaultResolvers = []string{"8.8.8.8:53", "1.1.1.1:53"}

// Tool describes an external binary a phase may shell out to.
type Tool struct {
	// Path is the executable name or absolute path.
	// If empty, the tool name itself is looked up in PATH.
	Path string `yaml:"path,omitempty"`

	// Required makes a missing binary fail the phase instead of being skipped.
	Required bool `yaml:"required,omitempty"`

	// Args are extra arguments appended to the phase's own arguments.
	Args []string `yaml:"args,omitempty"`

	// Wordlist is passed to tools that take one, such as s3enum.
	Wordlist string `yaml:"wordlist,omitempty"`
}

// Wordlists overrides the built-in word lists of the brute-force phases.
type Wordlists struct {
	// Permutations replaces the subdomain permutation words.
	Permutations string `yaml:"permutations,omitempty"`

	// Content replaces the content discovery paths.
	Content string `yaml:"content,omitempty"`

	// Buckets replaces the bucket name suffixes.
	Buckets string `yaml:"buckets,omitempty"`
}

// Settings represents the structure of the arbiter.yaml settings file.
type Settings struct {
	// Tools maps a tool name (subfinder, naabu, nuclei, s3enum) to its settings.
	Tools map[string]Tool `yaml:"tools,omitempty"`

	// Resolvers are DNS servers in "host:port" form.
	Resolvers []string `yaml:"resolvers,omitempty"`

	// GitHubToken enables the GitHub code search phase.
	// The GITHUB_TOKEN environment variable takes precedence.
	GitHubToken string `yaml:"github_token,omitempty"`

	// Wordlists overrides built-in word lists.
	Wordlists Wordlists `yaml:"wordlists,omitempty"`

	// UserAgent overrides the default User-Agent header.
	UserAgent string `yaml:"user_agent,omitempty"`
}

// NewSettings returns settings with no tools configured and the default resolvers.
func NewSettings() *Settings {
	return &Settings{
		Tools:     make(map[string]Tool),
		Resolvers: append([]string(nil), DefaultResolvers...),
	}
}

// Tool returns the settings of the named tool.
// An unconfigured tool resolves to its own name and is optional.
func (s *Settings) Tool(name string) Tool {
	tool := Tool{}
	if s != nil {
		if t, ok := s.Tools[name]; ok {
			tool = t
		}
	}
	if tool.Path == "" {
		tool.Path = name
	}
	return tool
}

// ResolverList returns the configured resolvers with a default port added
// where missing, or DefaultResolvers when none are configured.
func (s *Settings) ResolverList() []string {
	if s == nil || len(s.Resolvers) == 0 {
		return append([]string(nil), DefaultResolvers...)
	}
	out := make([]string, 0, len(s.Resolvers))
	for _, r := range s.Resolvers {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(r); err != nil {
			r = net.JoinHostPort(strings.Trim(r, "[]"), "53")
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultResolvers...)
	}
	return out
}
