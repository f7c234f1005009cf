// Package tor manages the optional Tor egress of a scan.
//
// With --tor, arbiter starts an embedded daemon through tornago and routes
// all HTTP traffic through its SOCKS port. With --proxy, an existing SOCKS5
// proxy is used instead; CheckProxy verifies either before the scan starts.
package tor
