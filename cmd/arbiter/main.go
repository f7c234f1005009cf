// Package main provides the entry point for the arbiter CLI.
//
// arbiter runs a resumable, phased reconnaissance pipeline against a
// domain and writes an HTML, Markdown, or JSON report of what it found.
//
// Usage:
//
//	arbiter scan example.com --mode standard
//	arbiter scan example.com --resume
//	arbiter purge example.com
//
// See --help for all available options.
package main

func main() {
	Execute()
}
