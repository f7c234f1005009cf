package model

import (
	"fmt"
	"strings"
)

// Severity represents the risk level of a vulnerability finding.
// The zero value is SeverityLow so that an unset severity never
// inflates the report grade.
type Severity int

const (
	// SeverityLow indicates minor issues with limited impact.
	// Examples: plaintext mail ports, DNS TXT verification tokens.
	SeverityLow Severity = iota

	// SeverityMedium indicates issues that warrant attention.
	// Examples: forbidden but present sensitive paths.
	SeverityMedium

	// SeverityHigh indicates serious issues that are usually exploitable.
	// Examples: permissive CORS, missing DMARC, exposed dotfiles.
	SeverityHigh

	// SeverityCritical indicates issues that likely lead to compromise.
	// Examples: subdomain takeover, zone transfer, live secrets in JavaScript.
	SeverityCritical
)

// Severities returns every severity from most to least severe.
// Report writers iterate in this order.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
}

// String returns the upper-case label of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity converts a label such as "high" or "CRITICAL" into a Severity.
// Nuclei's "info" level is folded into SeverityLow.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW", "INFO":
		return SeverityLow, nil
	case "MEDIUM":
		return SeverityMedium, nil
	case "HIGH":
		return SeverityHigh, nil
	case "CRITICAL":
		return SeverityCritical, nil
	default:
		return SeverityLow, fmt.Errorf("unknown severity %q", s)
	}
}

// MarshalText encodes the severity as its label so persisted records
// stay readable and stable across releases.
func (s Severity) MarshalText() ([]byte, error) {
	if s < SeverityLow || s > SeverityCritical {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity label.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Emoji returns the marker used in Markdown and terminal output.
func (s Severity) Emoji() string {
	switch s {
	case SeverityCritical:
		return "🔴"
	case SeverityHigh:
		return "🟠"
	case SeverityMedium:
		return "🟡"
	default:
		return "🔵"
	}
}
