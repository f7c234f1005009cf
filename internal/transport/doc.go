// Package transport provides the rate-limited HTTP client and TCP dialer
// every scan phase sends traffic through, optionally over a SOCKS5 proxy.
package transport
