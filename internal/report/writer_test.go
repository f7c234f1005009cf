package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/arbiter/internal/config"
	"github.com/nao1215/arbiter/internal/model"
)

// createTestSnapshot creates a snapshot with sample data for testing.
func createTestSnapshot() *model.Snapshot {
	return &model.Snapshot{
		Domain:          "example.com",
		Mode:            model.ModeStandard,
		GeneratedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		CompletedPhases: []string{"recon", "probing"},
		Subdomains:      []string{"example.com", "www.example.com", "dev.example.com"},
		LiveHosts: []model.LiveHost{
			{URL: "https://www.example.com", StatusCode: 200, Title: "<script>alert(1)</script>", Server: "nginx", Technologies: []string{"Nginx"}},
			{URL: "https://www.example.com", StatusCode: 200, Technologies: []string{"React"}},
			{URL: "https://dev.example.com", StatusCode: 403},
		},
		Vulnerabilities: []model.Vulnerability{
			{Name: "Missing DMARC Record", Severity: model.SeverityHigh, URL: "example.com", Info: "No _dmarc TXT record"},
			{Name: "Subdomain Takeover", Severity: model.SeverityCritical, URL: "dev.example.com", Info: "CNAME points to unclaimed | bucket"},
			{Name: "Plaintext SMTP", Severity: model.SeverityLow, URL: "mx.example.com:25"},
		},
		AddressRanges: []string{"192.0.2.0/24"},
		CrawledURLs:   []string{"https://www.example.com/login"},
		Endpoints:     []string{"https://www.example.com/search?q=1"},
		EmailSecurity: model.EmailSecurity{
			SPF:       "v=spf1 ~all",
			MX:        []string{"mx.example.com"},
			OpenPorts: []int{25},
			Spoofable: true,
			Analyzed:  true,
		},
		Technologies: model.Technologies{"Web servers": {"https://www.example.com"}},
		CloudAssets:  []model.CloudAsset{{Provider: "aws", Type: "s3", URL: "https://example-backup.s3.amazonaws.com"}},
	}
}

func emptySnapshot() *model.Snapshot {
	return &model.Snapshot{
		Domain:       "empty.example",
		Mode:         model.ModeStealth,
		GeneratedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Technologies: model.Technologies{},
	}
}

func TestNewWriter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format   string
		expected string
	}{
		{format: config.FormatHTML, expected: "*report.HTMLWriter"},
		{format: config.FormatMarkdown, expected: "*report.MarkdownWriter"},
		{format: config.FormatJSON, expected: "*report.JSONWriter"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			t.Parallel()

			w, err := NewWriter(tt.format, &bytes.Buffer{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			switch w.(type) {
			case *HTMLWriter, *MarkdownWriter, *JSONWriter:
			default:
				t.Errorf("expected %s, got %T", tt.expected, w)
			}
		})
	}

	t.Run("unknown format", func(t *testing.T) {
		t.Parallel()

		_, err := NewWriter("pdf", &bytes.Buffer{})
		if !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("expected ErrUnknownFormat, got %v", err)
		}
	})
}

func TestFileName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		config.FormatHTML:     "report.html",
		config.FormatMarkdown: "report.md",
		config.FormatJSON:     "report.json",
	}
	for format, expected := range tests {
		if got := FileName(format); got != expected {
			t.Errorf("expected %s, got %s", expected, got)
		}
	}
}

func TestWriteFiles(t *testing.T) {
	t.Parallel()

	t.Run("writes every format under the domain directory", func(t *testing.T) {
		t.Parallel()

		out := t.TempDir()
		formats := []string{config.FormatHTML, config.FormatMarkdown, config.FormatJSON}
		paths, err := WriteFiles(out, createTestSnapshot(), formats)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(paths) != 3 {
			t.Fatalf("expected 3 paths, got %d", len(paths))
		}

		for _, name := range []string{"report.html", "report.md", "report.json"} {
			path := filepath.Join(out, "example.com", name)
			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("expected %s to exist: %v", name, err)
			}
			if info.Size() == 0 {
				t.Errorf("expected %s to be non-empty", name)
			}
			if runtime.GOOS != "windows" && info.Mode().Perm() != 0o600 {
				t.Errorf("expected mode 0600 for %s, got %o", name, info.Mode().Perm())
			}
		}
	})

	t.Run("unknown format fails without writing it", func(t *testing.T) {
		t.Parallel()

		out := t.TempDir()
		paths, err := WriteFiles(out, createTestSnapshot(), []string{config.FormatJSON, "pdf"})
		if !errors.Is(err, ErrUnknownFormat) {
			t.Fatalf("expected ErrUnknownFormat, got %v", err)
		}
		if len(paths) != 1 {
			t.Errorf("expected the json report to be written before failing, got %v", paths)
		}
		if _, err := os.Stat(filepath.Join(out, "example.com", "report.pdf")); !os.IsNotExist(err) {
			t.Error("expected no report.pdf")
		}
	})

	t.Run("keeps domains in separate directories", func(t *testing.T) {
		t.Parallel()

		out := t.TempDir()
		if _, err := WriteFiles(out, createTestSnapshot(), []string{config.FormatJSON}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := WriteFiles(out, emptySnapshot(), []string{config.FormatJSON}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		data, err := os.ReadFile(filepath.Join(out, "example.com", "report.json"))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "Subdomain Takeover") {
			t.Error("expected the example.com report to be left untouched by another domain")
		}
	})
}

func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes header, grade and findings", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		n, err := NewMarkdownWriter(&buf).Write(createTestSnapshot())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n == 0 {
			t.Error("expected a non-zero byte count")
		}

		output := buf.String()
		for _, want := range []string{
			"# Arbiter Report: example.com",
			"CRITICAL FAILURE",
			"Standard",
			"Subdomain Takeover",
			"Missing DMARC Record",
			"```mermaid",
			"## Email Security",
			"192.0.2.0/24",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q", want)
			}
		}
	})

	t.Run("escapes pipes in table cells", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(createTestSnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), `unclaimed \| bucket`) {
			t.Error("expected pipe to be escaped")
		}
	})

	t.Run("empty snapshot renders optimal", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(emptySnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		if !strings.Contains(output, "OPTIMAL") {
			t.Error("expected OPTIMAL grade")
		}
		if !strings.Contains(output, "No security findings detected.") {
			t.Error("expected empty findings message")
		}
		if strings.Contains(output, "## Email Security") {
			t.Error("expected no email section when the posture was not analyzed")
		}
	})
}

func TestHTMLWriter(t *testing.T) {
	t.Parallel()

	t.Run("escapes untrusted values", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewHTMLWriter(&buf).Write(createTestSnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		if strings.Contains(output, "<script>alert(1)</script>") {
			t.Error("expected page title to be escaped")
		}
		if !strings.Contains(output, "&lt;script&gt;") {
			t.Error("expected escaped page title in output")
		}
	})

	t.Run("orders findings most severe first", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewHTMLWriter(&buf).Write(createTestSnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		critical := strings.Index(output, "Subdomain Takeover")
		high := strings.Index(output, "Missing DMARC Record")
		low := strings.Index(output, "Plaintext SMTP")
		if critical < 0 || high < 0 || low < 0 {
			t.Fatal("expected every finding in output")
		}
		if critical >= high || high >= low {
			t.Errorf("expected critical < high < low, got %d %d %d", critical, high, low)
		}
		if !strings.Contains(output, "grade-critical") {
			t.Error("expected critical grade class")
		}
	})

	t.Run("groups live hosts by url", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewHTMLWriter(&buf).Write(createTestSnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "Live Hosts (2)") {
			t.Error("expected two grouped live hosts")
		}
		if !strings.Contains(buf.String(), "Nginx, React") {
			t.Error("expected merged technology list")
		}
	})

	t.Run("empty snapshot renders optimal", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewHTMLWriter(&buf).Write(emptySnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "grade-optimal") {
			t.Error("expected optimal grade class")
		}
	})
}

func TestJSONWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes decodable document with verdict", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).Write(createTestSnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var decoded struct {
			Grade           string                `json:"grade"`
			SeverityCounts  map[string]int        `json:"severity_counts"`
			Total           int                   `json:"total_findings"`
			Domain          string                `json:"domain"`
			Vulnerabilities []model.Vulnerability `json:"vulnerabilities"`
		}
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if decoded.Grade != string(model.GradeCriticalFailure) {
			t.Errorf("expected grade %s, got %s", model.GradeCriticalFailure, decoded.Grade)
		}
		if decoded.Domain != "example.com" {
			t.Errorf("expected domain example.com, got %s", decoded.Domain)
		}
		if decoded.Total != 3 || decoded.SeverityCounts["CRITICAL"] != 1 || decoded.SeverityCounts["MEDIUM"] != 0 {
			t.Errorf("unexpected counts: total=%d counts=%v", decoded.Total, decoded.SeverityCounts)
		}
		if len(decoded.Vulnerabilities) != 3 {
			t.Errorf("expected 3 vulnerabilities, got %d", len(decoded.Vulnerabilities))
		}
	})

	t.Run("compact by default", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).Write(emptySnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Count(buf.String(), "\n") != 1 {
			t.Error("expected a single line of compact JSON")
		}
	})

	t.Run("pretty print indents", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithPrettyPrint()).Write(emptySnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "\n  \"grade\": \"OPTIMAL\"") {
			t.Errorf("expected indented grade, got %s", buf.String())
		}
	})
}

func TestSummaryWriter(t *testing.T) {
	t.Parallel()

	t.Run("lists top findings and report files", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		w := NewSummaryWriter(&buf, WithTopFindings(1), WithReportFiles("/tmp/out/report.html"))
		if _, err := w.Write(createTestSnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		if !strings.Contains(output, "ARBITER SUMMARY") {
			t.Error("expected summary header")
		}
		if !strings.Contains(output, "[!!!] Subdomain Takeover") {
			t.Error("expected the critical finding to be listed first")
		}
		if strings.Contains(output, "Plaintext SMTP") {
			t.Error("expected findings beyond the limit to be omitted")
		}
		if !strings.Contains(output, "... and 2 more") {
			t.Error("expected remaining count")
		}
		if !strings.Contains(output, "Report: /tmp/out/report.html") {
			t.Error("expected report path in footer")
		}
	})

	t.Run("no findings section when clean", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewSummaryWriter(&buf).Write(emptySnapshot()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(buf.String(), "TOP FINDINGS") {
			t.Error("expected no findings section")
		}
		if !strings.Contains(buf.String(), "OPTIMAL") {
			t.Error("expected OPTIMAL grade")
		}
	})
}

type failingWriter struct{}

func (failingWriter) Write(*model.Snapshot) (int, error) {
	return 0, errors.New("boom")
}

func TestMultiWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes to all writers", func(t *testing.T) {
		t.Parallel()

		var summary, js bytes.Buffer
		n, err := NewMultiWriter(NewSummaryWriter(&summary), NewJSONWriter(&js)).Write(createTestSnapshot())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if summary.Len() == 0 || js.Len() == 0 {
			t.Error("expected both writers to produce output")
		}
		if n != summary.Len()+js.Len() {
			t.Errorf("expected %d bytes, got %d", summary.Len()+js.Len(), n)
		}
	})

	t.Run("stops on first error", func(t *testing.T) {
		t.Parallel()

		var js bytes.Buffer
		_, err := NewMultiWriter(failingWriter{}, NewJSONWriter(&js)).Write(createTestSnapshot())
		if err == nil {
			t.Fatal("expected error")
		}
		if js.Len() != 0 {
			t.Error("expected later writers to be skipped")
		}
	})
}

func TestTruncateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{input: "short", maxLen: 10, expected: "short"},
		{input: "exactly10!", maxLen: 10, expected: "exactly10!"},
		{input: "this is too long", maxLen: 10, expected: "this is..."},
		{input: "abcdef", maxLen: 2, expected: "ab"},
		{input: "日本語のタイトルです", maxLen: 6, expected: "日本語..."},
	}
	for _, tt := range tests {
		if got := truncateString(tt.input, tt.maxLen); got != tt.expected {
			t.Errorf("truncateString(%q, %d): expected %q, got %q", tt.input, tt.maxLen, tt.expected, got)
		}
	}
}
