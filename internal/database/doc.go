// Package database provides SQLite-based storage for scan sessions.
//
// Each target domain gets its own SessionDB file, which stores:
//   - Session metadata (domain, mode)
//   - Completed phases in completion order
//   - Deduplicated members of every findings collection
//   - Single-valued documents such as the email security summary
//   - One row per scan invocation
//
// The store is opened in WAL mode with a single connection through
// modernc.org/sqlite, which needs no cgo. Appends are committed as they
// happen, so a crash loses at most the statement in flight.
package database
