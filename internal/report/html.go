package report

import (
	"bytes"
	_ "embed"
	"html/template"
	"io"
	"strings"

	"github.com/nao1215/arbiter/internal/model"
)

//go:embed templates/report.html
var htmlTemplate string

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"join":          strings.Join,
	"severityClass": severityClass,
}).Parse(htmlTemplate))

// HTMLWriter outputs a self-contained HTML report.
// All values are escaped by html/template; findings routinely carry
// attacker-controlled strings such as page titles.
type HTMLWriter struct {
	baseWriter
}

// NewHTMLWriter creates an HTMLWriter that outputs to the given writer.
func NewHTMLWriter(output io.Writer) *HTMLWriter {
	return &HTMLWriter{baseWriter: newBaseWriter(output)}
}

type severityCount struct {
	Label string
	Class string
	Count int
}

type techRow struct {
	Category string
	URLs     []string
}

// htmlView is the data the template renders.
type htmlView struct {
	Snapshot     *model.Snapshot
	Domain       string
	Mode         string
	GeneratedAt  string
	Grade        model.Grade
	GradeClass   string
	Counts       []severityCount
	Findings     []model.Vulnerability
	LiveHosts    []model.LiveHost
	Technologies []techRow
}

// Write outputs the snapshot as HTML.
func (w *HTMLWriter) Write(snapshot *model.Snapshot) (int, error) {
	counts := snapshot.SeverityCounts()
	view := htmlView{
		Snapshot:    snapshot,
		Domain:      snapshot.Domain,
		Mode:        snapshot.Mode.String(),
		GeneratedAt: snapshot.GeneratedAt.Format("2006-01-02 15:04:05 MST"),
		Grade:       snapshot.Grade(),
		GradeClass:  gradeClass(snapshot.Grade()),
		Findings:    sortedFindings(snapshot),
		LiveHosts:   model.GroupLiveHostsByURL(snapshot.LiveHosts),
	}
	for _, sev := range model.Severities() {
		view.Counts = append(view.Counts, severityCount{Label: sev.String(), Class: severityClass(sev), Count: counts[sev]})
	}
	for _, c := range snapshot.Technologies.Categories() {
		view.Technologies = append(view.Technologies, techRow{Category: c, URLs: snapshot.Technologies[c]})
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, view); err != nil {
		return 0, err
	}
	return w.output.Write(buf.Bytes())
}

func gradeClass(g model.Grade) string {
	switch g {
	case model.GradeCriticalFailure:
		return "grade-critical"
	case model.GradeCompromised:
		return "grade-compromised"
	case model.GradeVulnerable:
		return "grade-vulnerable"
	default:
		return "grade-optimal"
	}
}

func severityClass(s model.Severity) string {
	return "sev-" + strings.ToLower(s.String())
}
