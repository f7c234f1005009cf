package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/nao1215/arbiter/internal/model"
)

// SummaryWriter prints a short verdict to the terminal after a scan:
// the grade, the per-severity counts, and the most severe findings.
// The full picture lives in the file reports.
type SummaryWriter struct {
	baseWriter

	// limit caps the number of findings listed. Zero lists none.
	limit int

	// files are the report paths mentioned in the footer.
	files []string
}

// SummaryWriterOption configures a SummaryWriter.
type SummaryWriterOption func(*SummaryWriter)

// WithTopFindings lists at most n findings, most severe first.
func WithTopFindings(n int) SummaryWriterOption {
	return func(w *SummaryWriter) {
		w.limit = n
	}
}

// WithReportFiles lists the written report files in the footer.
func WithReportFiles(paths ...string) SummaryWriterOption {
	return func(w *SummaryWriter) {
		w.files = paths
	}
}

// NewSummaryWriter creates a SummaryWriter that outputs to the given writer.
func NewSummaryWriter(output io.Writer, opts ...SummaryWriterOption) *SummaryWriter {
	w := &SummaryWriter{
		baseWriter: newBaseWriter(output),
		limit:      10,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the summary.
func (w *SummaryWriter) Write(snapshot *model.Snapshot) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, snapshot)
	w.writeSummary(&sb, snapshot)
	w.writeFindings(&sb, snapshot)
	w.writeFooter(&sb)

	return io.WriteString(w.output, sb.String())
}

func (w *SummaryWriter) writeHeader(sb *strings.Builder, snapshot *model.Snapshot) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                         ARBITER SUMMARY\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Target:     %s\n", snapshot.Domain)
	fmt.Fprintf(sb, "Mode:       %s\n", snapshot.Mode)
	fmt.Fprintf(sb, "Phases:     %d completed\n", len(snapshot.CompletedPhases))
	fmt.Fprintf(sb, "Subdomains: %d\n", len(snapshot.Subdomains))
	fmt.Fprintf(sb, "Live hosts: %d\n", len(model.GroupLiveHostsByURL(snapshot.LiveHosts)))
	fmt.Fprintf(sb, "Status:     %s\n\n", gradeColor(snapshot.Grade()).Sprint(snapshot.Grade()))
}

func (w *SummaryWriter) writeSummary(sb *strings.Builder, snapshot *model.Snapshot) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("SEVERITY SUMMARY\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	counts := snapshot.SeverityCounts()
	for _, sev := range model.Severities() {
		fmt.Fprintf(sb, "  %-9s %d\n", sev.String()+":", counts[sev])
	}
	fmt.Fprintf(sb, "\n  %-9s %d findings\n\n", "TOTAL:", len(snapshot.Vulnerabilities))
}

func (w *SummaryWriter) writeFindings(sb *strings.Builder, snapshot *model.Snapshot) {
	if w.limit <= 0 || len(snapshot.Vulnerabilities) == 0 {
		return
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("TOP FINDINGS\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	findings := sortedFindings(snapshot)
	shown := min(w.limit, len(findings))
	for _, f := range findings[:shown] {
		fmt.Fprintf(sb, "  [%s] %s\n", severityIndicator(f.Severity), f.Name)
		if f.URL != "" {
			fmt.Fprintf(sb, "        %s\n", truncateString(f.URL, 60))
		}
	}
	if rest := len(findings) - shown; rest > 0 {
		fmt.Fprintf(sb, "\n  ... and %d more\n", rest)
	}
	sb.WriteString("\n")
}

func (w *SummaryWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	for _, path := range w.files {
		fmt.Fprintf(sb, "Report: %s\n", path)
	}
	if len(w.files) > 0 {
		sb.WriteString(strings.Repeat("=", 70))
		sb.WriteString("\n")
	}
}

// severityIndicator returns a visual indicator for the severity level.
func severityIndicator(severity model.Severity) string {
	switch severity {
	case model.SeverityCritical:
		return "!!!"
	case model.SeverityHigh:
		return "!! "
	case model.SeverityMedium:
		return "!  "
	default:
		return "-  "
	}
}

// gradeColor picks the terminal color of a verdict. fatih/color strips
// the escapes itself when the output is not a terminal.
func gradeColor(g model.Grade) *color.Color {
	switch g {
	case model.GradeCriticalFailure, model.GradeCompromised:
		return color.New(color.FgRed, color.Bold)
	case model.GradeVulnerable:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgGreen, color.Bold)
	}
}
