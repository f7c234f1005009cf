// Package phase implements the reconnaissance phases of a scan.
//
// Each phase reads what earlier phases stored in the session and appends
// its own discoveries. Phases share their collaborators through Deps, so
// tests can replace the network, DNS, and external tools with fakes.
//
// A phase tolerates failures of individual targets: an unreachable host
// or a refused query contributes nothing and the phase moves on. Only a
// missing tool that the settings file marks as required fails a phase.
//
// Phases run in the order returned by All:
//
//	recon, horizontal, dns_forensics, ports, permutations, probing,
//	spider, takeover, cloud, email, github, cortex, offensive,
//	metadata, mining, chaos
package phase
