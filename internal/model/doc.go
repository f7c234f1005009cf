// Package model defines the data structures shared by the session, the
// phases and the report writers.
//
// This package contains the following main types:
//   - LiveHost, Vulnerability, CloudAsset: records stored in session collections
//   - EmailSecurity, Technologies: single-value session state
//   - Snapshot: a read-only copy of a whole session, consumed by reports
//   - Mode, Severity, Grade: the enumerations that steer and summarize a scan
//
// Models live in their own package so that session, phase and report can
// all depend on them without import cycles. Every type marshals to JSON,
// which is both the storage encoding and the report encoding.
package model
