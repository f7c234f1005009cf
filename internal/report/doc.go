// Package report renders session snapshots.
//
// Three file formats are written into <output>/<domain>/:
//   - HTMLWriter: report.html, a self-contained page
//   - MarkdownWriter: report.md, for tickets and pull requests
//   - JSONWriter: report.json, for tool integration
//
// SummaryWriter prints the short terminal verdict shown when a scan ends.
//
// Writers only ever see a model.Snapshot, so a report can be produced
// from a partial or interrupted session as well as a finished one.
package report
