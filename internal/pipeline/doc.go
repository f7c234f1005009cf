// Package pipeline runs the scan phases against a session and provides the
// worker pools the phases fan out with.
//
// A Registry is the fixed, ordered list of phases. The Driver walks it,
// skips phases the session already completed, and records each phase as
// completed only after it returns successfully, so an interrupted or failed
// scan can be resumed without re-running finished work.
//
// Inside a phase, Map runs independent probes on a bounded pool and Gather
// runs many lightweight fetches at once under aggregate and per-host caps.
// In both, a failing task contributes nothing and never cancels its siblings.
package pipeline
