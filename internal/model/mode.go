package model

import (
	"fmt"
	"strings"
)

// Mode is the scan intensity selected on the command line.
// It is recorded when a session is created and never changes afterwards.
type Mode string

const (
	// ModeStealth keeps concurrency and request rate low and skips
	// slow brute-force enumeration.
	ModeStealth Mode = "stealth"

	// ModeStandard is a moderate profile suitable for most targets.
	ModeStandard Mode = "standard"

	// ModeBalanced trades a little noise for noticeably faster scans.
	ModeBalanced Mode = "balanced"

	// ModeLoud removes the request rate limit entirely.
	ModeLoud Mode = "loud"
)

// Modes returns every supported mode from quietest to loudest.
func Modes() []Mode {
	return []Mode{ModeStealth, ModeStandard, ModeBalanced, ModeLoud}
}

// ParseMode converts user input into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes() {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q: expected one of stealth, standard, balanced, loud", s)
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	return string(m)
}
