// Package extract finds outbound links in fetched HTML pages.
//
// The Extractor resolves anchors, frames and form targets against the page
// URL (or its <base href>), adds hidden-service addresses that only appear
// as text, normalizes every result and keeps the ones matching the target
// pattern. Broken markup is parsed as far as possible and never fails the
// crawl.
package extract
