// Package model defines the records shared by the crawler's components.
//
// A URLRecord is the frontier's view of a URL: its status, retry count and
// lease. A VisitOutcome is the result of one visit and is what gets stored,
// cached and published. URLs are normalized with NormalizeURL before they are
// used as keys anywhere.
package model
