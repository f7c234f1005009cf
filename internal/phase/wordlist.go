package phase

import (
	"os"
	"strings"
)

// loadWordlist reads one word per line from path, skipping blank lines and
// '#' comments. An empty path, an unreadable file, or an empty file yields
// fallback.
func (d *Deps) loadWordlist(path string, fallback []string) []string {
	if path == "" {
		return fallback
	}
	data, err := os.ReadFile(path) //nolint:gosec // wordlist path comes from the operator's settings file
	if err != nil {
		d.Logger.Warn("cannot read wordlist, using built-in list", "path", path, "error", err)
		return fallback
	}
	var words []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if len(words) == 0 {
		return fallback
	}
	return words
}
