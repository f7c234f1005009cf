package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/arbiter/internal/model"
)

// JSONWriter outputs reports in JSON format for tool integration.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	// When false, output is compact (no extra whitespace).
	indent bool

	// indentPrefix is the prefix for each line in indented output.
	indentPrefix string

	// indentString is the indentation string (typically "  " or "\t").
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint is shorthand for WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// JSONReport wraps a snapshot with the derived verdict so consumers do
// not have to recompute it.
type JSONReport struct {
	Grade          model.Grade    `json:"grade"`
	SeverityCounts map[string]int `json:"severity_counts"`
	Total          int            `json:"total_findings"`
	*model.Snapshot
}

// NewJSONReport builds the JSON document for a snapshot.
func NewJSONReport(snapshot *model.Snapshot) *JSONReport {
	counts := snapshot.SeverityCounts()
	labeled := make(map[string]int, len(counts))
	for _, sev := range model.Severities() {
		labeled[sev.String()] = counts[sev]
	}
	return &JSONReport{
		Grade:          snapshot.Grade(),
		SeverityCounts: labeled,
		Total:          len(snapshot.Vulnerabilities),
		Snapshot:       snapshot,
	}
}

// Write outputs the snapshot in JSON format.
func (w *JSONWriter) Write(snapshot *model.Snapshot) (int, error) {
	return w.writeJSON(NewJSONReport(snapshot))
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var (
		data []byte
		err  error
	)
	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	data = append(data, '\n')
	return w.output.Write(data)
}
