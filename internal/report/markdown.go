package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/arbiter/internal/model"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MarkdownWriter outputs reports in Markdown format for sharing in
// tickets and pull requests.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the snapshot in Markdown format.
func (w *MarkdownWriter) Write(snapshot *model.Snapshot) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, snapshot)
	w.writeSummary(md, snapshot)
	w.writeFindings(md, snapshot)
	w.writeSurface(md, snapshot)
	w.writeEmail(md, snapshot)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the report header with scan information.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, snapshot *model.Snapshot) {
	md.H1("Arbiter Report: " + snapshot.Domain)
	md.PlainText("")

	phases := "-"
	if len(snapshot.CompletedPhases) > 0 {
		phases = strings.Join(snapshot.CompletedPhases, ", ")
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Target", "`" + snapshot.Domain + "`"},
			{"Mode", cases.Title(language.English).String(snapshot.Mode.String())},
			{"Generated", snapshot.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
			{"Integrity Status", "**" + string(snapshot.Grade()) + "**"},
			{"Completed Phases", phases},
		},
	})
	md.PlainText("")
}

// writeSummary writes the severity summary section.
func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, snapshot *model.Snapshot) {
	md.H2("Severity Summary")
	md.PlainText("")

	counts := snapshot.SeverityCounts()
	rows := make([][]string, 0, 5)
	for _, sev := range model.Severities() {
		rows = append(rows, []string{sev.Emoji() + " " + severityTitle(sev), strconv.Itoa(counts[sev])})
	}
	rows = append(rows, []string{"**Total**", "**" + strconv.Itoa(len(snapshot.Vulnerabilities)) + "**"})
	md.Table(markdown.TableSet{
		Header: []string{"Severity", "Count"},
		Rows:   rows,
	})
	md.PlainText("")

	if len(snapshot.Vulnerabilities) > 0 {
		w.writePieChart(md, counts)
	}
	w.writeAlert(md, counts, len(snapshot.Vulnerabilities))
}

// writePieChart writes a mermaid pie chart for severity distribution.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, counts map[model.Severity]int) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Finding Severity Distribution"),
		piechart.WithShowData(true),
	)
	for _, sev := range model.Severities() {
		if counts[sev] > 0 {
			chart.LabelAndIntValue(severityTitle(sev), uint64(counts[sev]))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeAlert writes an alert matching the most severe finding.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, counts map[model.Severity]int, total int) {
	switch {
	case counts[model.SeverityCritical] > 0:
		md.Cautionf(
			"Critical exposure detected! %d critical finding(s) require immediate attention.",
			counts[model.SeverityCritical],
		)
	case counts[model.SeverityHigh] > 0:
		md.Warningf(
			"High severity issues detected. %d high severity finding(s) should be addressed.",
			counts[model.SeverityHigh],
		)
	case counts[model.SeverityMedium] > 0:
		md.Importantf(
			"Medium severity issues found. %d finding(s) widen the attack surface.",
			counts[model.SeverityMedium],
		)
	case total > 0:
		md.Note("Only low severity findings detected.")
	default:
		md.Tip("No significant security issues detected.")
	}
	md.PlainText("")
}

// writeFindings writes all findings grouped by severity.
func (w *MarkdownWriter) writeFindings(md *markdown.Markdown, snapshot *model.Snapshot) {
	md.H2("Findings")
	md.PlainText("")

	if len(snapshot.Vulnerabilities) == 0 {
		md.PlainText("No security findings detected.")
		md.PlainText("")
		return
	}

	groups := findingsBySeverity(snapshot)
	for _, sev := range model.Severities() {
		findings := groups[sev]
		if len(findings) == 0 {
			continue
		}
		md.H3(sev.Emoji() + " " + severityTitle(sev))
		md.PlainText("")

		rows := make([][]string, len(findings))
		for i, f := range findings {
			rows[i] = []string{
				escapeCell(f.Name),
				orDash(escapeCell(truncateString(f.URL, 60))),
				orDash(escapeCell(truncateString(f.Info, 80))),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Finding", "Location", "Details"},
			Rows:   rows,
		})
		md.PlainText("")
	}
}

// writeSurface writes the discovered attack surface.
func (w *MarkdownWriter) writeSurface(md *markdown.Markdown, snapshot *model.Snapshot) {
	md.H2("Attack Surface")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Asset", "Count"},
		Rows: [][]string{
			{"Subdomains", strconv.Itoa(len(snapshot.Subdomains))},
			{"Live Hosts", strconv.Itoa(len(model.GroupLiveHostsByURL(snapshot.LiveHosts)))},
			{"Address Ranges", strconv.Itoa(len(snapshot.AddressRanges))},
			{"Crawled URLs", strconv.Itoa(len(snapshot.CrawledURLs))},
			{"Endpoints", strconv.Itoa(len(snapshot.Endpoints))},
			{"Cloud Assets", strconv.Itoa(len(snapshot.CloudAssets))},
		},
	})
	md.PlainText("")

	if hosts := model.GroupLiveHostsByURL(snapshot.LiveHosts); len(hosts) > 0 {
		md.H3("Live Hosts")
		md.PlainText("")
		rows := make([][]string, len(hosts))
		for i, h := range hosts {
			rows[i] = []string{
				h.URL,
				strconv.Itoa(h.StatusCode),
				orDash(escapeCell(truncateString(h.Title, 40))),
				orDash(h.Server),
				orDash(strings.Join(h.Technologies, ", ")),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"URL", "Status", "Title", "Server", "Technologies"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	if categories := snapshot.Technologies.Categories(); len(categories) > 0 {
		md.H3("Technology Stack")
		md.PlainText("")
		items := make([]string, len(categories))
		for i, c := range categories {
			items[i] = c + " (" + strconv.Itoa(len(snapshot.Technologies[c])) + " hosts)"
		}
		md.BulletList(items...)
		md.PlainText("")
	}

	if len(snapshot.CloudAssets) > 0 {
		md.H3("Cloud Assets")
		md.PlainText("")
		rows := make([][]string, len(snapshot.CloudAssets))
		for i, a := range snapshot.CloudAssets {
			rows[i] = []string{strings.ToUpper(a.Provider), a.Type, a.URL}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Provider", "Type", "URL"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	if len(snapshot.AddressRanges) > 0 {
		md.H3("Address Ranges")
		md.PlainText("")
		md.BulletList(snapshot.AddressRanges...)
		md.PlainText("")
	}

	if len(snapshot.Endpoints) > 0 {
		md.Details("Endpoints ("+strconv.Itoa(len(snapshot.Endpoints))+")", strings.Join(snapshot.Endpoints, "\n"))
		md.PlainText("")
	}
}

// writeEmail writes the mail posture table when the email phase ran.
func (w *MarkdownWriter) writeEmail(md *markdown.Markdown, snapshot *model.Snapshot) {
	es := snapshot.EmailSecurity
	if !es.Analyzed {
		return
	}
	md.H2("Email Security")
	md.PlainText("")

	ports := make([]string, len(es.OpenPorts))
	for i, p := range es.OpenPorts {
		ports[i] = strconv.Itoa(p)
	}
	md.Table(markdown.TableSet{
		Header: []string{"Check", "Result"},
		Rows: [][]string{
			{"SPF", "`" + es.SPF + "`"},
			{"DMARC", "`" + es.DMARC + "`"},
			{"Spoofable", yesNo(es.Spoofable)},
			{"DNSSEC", yesNo(es.DNSSEC)},
			{"MX", orDash(strings.Join(es.MX, ", "))},
			{"Providers", orDash(strings.Join(es.Providers, ", "))},
			{"Open Mail Ports", orDash(strings.Join(ports, ", "))},
		},
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [arbiter](https://github.com/nao1215/arbiter)*")
}

func severityTitle(s model.Severity) string {
	return cases.Title(language.English).String(strings.ToLower(s.String()))
}

// escapeCell keeps a value from breaking out of its table cell.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
