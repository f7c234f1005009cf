package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/arbiter/internal/session"
)

// Writer renders a session snapshot.
// Implementations never reach back into the durable store; everything
// they show is in the snapshot.
type Writer interface {
	// Write outputs the report to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(snapshot *model.Snapshot) (int, error)
}

// MultiWriter writes to multiple Writers in turn.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the report to all configured Writers.
// Returns the total bytes written across all writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(snapshot *model.Snapshot) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(snapshot)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// NewWriter returns the writer for a report format.
func NewWriter(format string, output io.Writer) (Writer, error) {
	switch format {
	case config.FormatHTML:
		return NewHTMLWriter(output), nil
	case config.FormatMarkdown:
		return NewMarkdownWriter(output), nil
	case config.FormatJSON:
		return NewJSONWriter(output, WithPrettyPrint()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// FileName returns the report file name of a format.
func FileName(format string) string {
	switch format {
	case config.FormatMarkdown:
		return "report.md"
	default:
		return "report." + format
	}
}

// WriteFiles renders snapshot in every format into
// <outputDir>/<domain>/ and returns the paths written.
//
// Each report is rendered in memory first so a failing writer never
// leaves a truncated file behind.
func WriteFiles(outputDir string, snapshot *model.Snapshot, formats []string) ([]string, error) {
	dir := session.OutputDir(outputDir, snapshot.Domain)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	paths := make([]string, 0, len(formats))
	for _, format := range formats {
		var buf bytes.Buffer
		w, err := NewWriter(format, &buf)
		if err != nil {
			return paths, err
		}
		if _, err := w.Write(snapshot); err != nil {
			return paths, fmt.Errorf("failed to render %s report: %w", format, err)
		}

		path := filepath.Join(dir, FileName(format))
		if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
			return paths, fmt.Errorf("failed to write report: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// sortedFindings returns the snapshot's findings most severe first,
// without modifying the snapshot.
func sortedFindings(snapshot *model.Snapshot) []model.Vulnerability {
	vulns := append([]model.Vulnerability(nil), snapshot.Vulnerabilities...)
	model.SortVulnerabilities(vulns)
	return vulns
}

// findingsBySeverity groups sorted findings by severity.
func findingsBySeverity(snapshot *model.Snapshot) map[model.Severity][]model.Vulnerability {
	groups := make(map[model.Severity][]model.Vulnerability, 4)
	for _, v := range sortedFindings(snapshot) {
		groups[v.Severity] = append(groups[v.Severity], v)
	}
	return groups
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
