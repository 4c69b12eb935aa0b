// Package frontier holds the crawl frontier: every URL darc knows about,
// its lifecycle state, and the leases workers hold while fetching.
//
// Two implementations share the Queue interface. MemoryQueue serves a
// single process. RedisQueue lets several darc processes share one frontier
// and relies on server-side Lua scripts for atomic claim and release.
package frontier
