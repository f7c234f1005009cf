package model

import "time"

// Snapshot is a read-only, fully materialized view of a session.
// Report writers receive a Snapshot and never touch the durable store.
type Snapshot struct {
	Domain          string          `json:"domain"`
	Mode            Mode            `json:"mode"`
	GeneratedAt     time.Time       `json:"generated_at"`
	CompletedPhases []string        `json:"completed_phases"`
	Subdomains      []string        `json:"subdomains"`
	LiveHosts       []LiveHost      `json:"live_hosts"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	AddressRanges   []string        `json:"address_ranges"`
	CrawledURLs     []string        `json:"crawled_urls"`
	Endpoints       []string        `json:"endpoints"`
	EmailSecurity   EmailSecurity   `json:"email_security"`
	Technologies    Technologies    `json:"technologies"`
	CloudAssets     []CloudAsset    `json:"cloud_assets"`
	Runs            []Run           `json:"runs"`
}

// Run describes one invocation of the scan command against a session.
type Run struct {
	ID         string    `json:"id"`
	Mode       Mode      `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Status     string    `json:"status"`
}

// Run status values.
const (
	RunStatusRunning     = "running"
	RunStatusCompleted   = "completed"
	RunStatusFailed      = "failed"
	RunStatusInterrupted = "interrupted"
)

// SeverityCounts returns the number of findings per severity.
func (s *Snapshot) SeverityCounts() map[Severity]int {
	counts := make(map[Severity]int, 4)
	for _, v := range s.Vulnerabilities {
		counts[v.Severity]++
	}
	return counts
}

// Grade is the overall integrity verdict shown at the top of a report.
type Grade string

// Grades, from best to worst.
const (
	GradeOptimal         Grade = "OPTIMAL"
	GradeVulnerable      Grade = "VULNERABLE"
	GradeCompromised     Grade = "COMPROMISED"
	GradeCriticalFailure Grade = "CRITICAL FAILURE"
)

// Grade derives the verdict from the most severe finding present.
func (s *Snapshot) Grade() Grade {
	counts := s.SeverityCounts()
	switch {
	case counts[SeverityCritical] > 0:
		return GradeCriticalFailure
	case counts[SeverityHigh] > 0:
		return GradeCompromised
	case counts[SeverityMedium] > 0 || counts[SeverityLow] > 0:
		return GradeVulnerable
	default:
		return GradeOptimal
	}
}
