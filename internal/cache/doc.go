// Package cache implements the freshness cache that decides whether a
// visited URL is due for another visit.
//
// An entry is written only after the visit outcome has been persisted, so a
// crash between fetch and persistence never leaves a URL marked fresh.
package cache
