// Package report renders crawl summaries for `darc stats`.
//
// A Summary combines the persistence store's statistics with the frontier's
// counters. Writers render it as plain text for the terminal, as Markdown
// with a Mermaid pie chart of outcomes, or as JSON.
package report
