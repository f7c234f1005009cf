package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and can be matched with errors.Is().
var (
	// ErrNoTarget is returned when no target domain is specified.
	ErrNoTarget = errors.New("no target specified: provide a domain such as example.com")

	// ErrInvalidTarget is returned when the target cannot be reduced to a domain name.
	ErrInvalidTarget = errors.New("invalid target: expected a domain name")

	// ErrInvalidMode is returned for an unknown scan mode.
	ErrInvalidMode = errors.New("invalid mode: expected stealth, standard, balanced, or loud")

	// ErrInvalidConcurrency is returned when a worker count is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: worker counts must be positive")

	// ErrInvalidTimeout is returned when a timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidRate is returned when the request rate is negative.
	// Zero means unlimited.
	ErrInvalidRate = errors.New("invalid request rate: must be non-negative")

	// ErrNoDataDir is returned when no session directory is configured.
	ErrNoDataDir = errors.New("no data directory configured")

	// ErrInvalidOnFinish is returned for an unknown retain-or-purge policy.
	ErrInvalidOnFinish = errors.New("invalid --on-finish value: expected ask, keep, or purge")

	// ErrInvalidReportFormat is returned for an unknown report format.
	ErrInvalidReportFormat = errors.New("invalid report format: expected html, markdown, or json")

	// ErrConflictingProxy is returned when both --tor and --proxy are given.
	ErrConflictingProxy = errors.New("conflicting proxy settings: --tor and --proxy cannot be used together")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")
)
