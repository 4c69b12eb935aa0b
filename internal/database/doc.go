// Package database provides the durable storage of darc.
//
// Store keeps one row per visit in a SQLite database (via modernc.org/sqlite,
// so no cgo is needed) together with the outbound links found on the page.
// Rows are only ever appended. BlobStore keeps page bodies on disk, addressed
// by their SHA-256 digest, and the visit rows reference them.
package database
