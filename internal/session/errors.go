package session

import "errors"

// Session lifecycle errors.
// Callers match them with errors.Is.
var (
	// ErrModeMismatch is returned when a session is resumed with a mode
	// different from the one it was created with.
	ErrModeMismatch = errors.New("scan mode differs from the mode this session was created with")

	// ErrDomainMismatch is returned when the store for a key belongs to a
	// different domain, which happens when two domains sanitize to the same key.
	ErrDomainMismatch = errors.New("session store belongs to a different domain")

	// ErrNoSession is returned by Load when no durable state exists for the domain.
	ErrNoSession = errors.New("no saved session for this domain")
)
