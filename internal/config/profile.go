package config

import (
	"time"

	"github.com/nao1215/arbiter/internal/model"
)

// Profile holds the concurrency and pacing parameters of a mode.
type Profile struct {
	// Workers is the size of the bounded pool used for probing fan-out.
	Workers int

	// RequestsPerSecond caps outgoing HTTP requests. Zero means unlimited.
	RequestsPerSecond float64

	// CrawlConcurrency caps in-flight requests of the cooperative batch.
	CrawlConcurrency int

	// PerHostConnections caps in-flight requests to a single host.
	PerHostConnections int

	// TaskTimeout bounds a single unit of work, including one HTTP request
	// or DNS exchange.
	TaskTimeout time.Duration

	// Retries is the number of extra attempts after a failed task.
	Retries int

	// SkipSlowEnumeration disables brute-force style enumeration that
	// generates many requests, such as bucket permutation sweeps.
	SkipSlowEnumeration bool

	// MaxLinksPerHost caps links collected per host by the spider.
	MaxLinksPerHost int
}

// ProfileFor returns the profile of mode. Unknown modes get the stealth profile.
func ProfileFor(mode model.Mode) Profile {
	switch mode {
	case model.ModeStandard:
		return Profile{
			Workers:            20,
			RequestsPerSecond:  10,
			CrawlConcurrency:   50,
			PerHostConnections: 5,
			TaskTimeout:        10 * time.Second,
			Retries:            1,
			MaxLinksPerHost:    25,
		}
	case model.ModeBalanced:
		return Profile{
			Workers:            30,
			RequestsPerSecond:  20,
			CrawlConcurrency:   75,
			PerHostConnections: 8,
			TaskTimeout:        8 * time.Second,
			Retries:            2,
			MaxLinksPerHost:    25,
		}
	case model.ModeLoud:
		return Profile{
			Workers:            50,
			RequestsPerSecond:  0,
			CrawlConcurrency:   100,
			PerHostConnections: 10,
			TaskTimeout:        5 * time.Second,
			Retries:            2,
			MaxLinksPerHost:    25,
		}
	default:
		return Profile{
			Workers:             5,
			RequestsPerSecond:   2,
			CrawlConcurrency:    20,
			PerHostConnections:  2,
			TaskTimeout:         10 * time.Second,
			Retries:             1,
			SkipSlowEnumeration: true,
			MaxLinksPerHost:     25,
		}
	}
}
