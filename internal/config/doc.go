// Package config provides configuration structures and utilities for arbiter.
// It defines the scan options built from CLI flags, the per-mode concurrency
// profiles, and the YAML settings file holding tool paths and tokens.
package config
