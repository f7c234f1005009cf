// Package log provides slog loggers that redact secrets before they are written.
//
// Reconnaissance output is full of credentials found in the wild: keys in
// JavaScript bundles, tokens in GitHub search results, cookies in probe
// responses. SecureHandler masks attribute values whose key names a secret
// (cookie, authorization, github_token) or whose value matches a known
// credential format (JWT, AWS, GitHub, Google, Slack, Stripe, PEM keys).
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	logger.Warn("phase failed", "phase", "probing", "error", err)
//
// The same logger is handed to tornago when --tor is used.
package log
