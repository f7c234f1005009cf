// Package crawler extracts links, scripts, images, and titles from HTML.
//
// Parser walks a document with golang.org/x/net/html, which copes with the
// malformed markup common on scanned hosts. Spider fetches one page through
// a Fetcher and returns its same-host links with static assets filtered
// out; breadth and concurrency are left to the caller.
//
// # Usage
//
//	spider := crawler.NewSpider(client, crawler.WithMaxLinks(25))
//	links, err := spider.Links(ctx, "https://app.example.com/")
package crawler
