// Package fetch retrieves pages for the crawler.
//
// DirectFetcher issues plain HTTP requests through Tor. RenderedFetcher loads
// the page in headless Chrome through the same proxy and returns the DOM after
// scripts ran. Strategy tries the direct path first and falls back to
// rendering when the page needs it.
//
// Failures are reported as *Error values whose Kind tells the scheduler how
// to react.
package fetch
