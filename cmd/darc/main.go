// Package main is the entry point of darc, a crawler for Tor hidden services.
//
// darc keeps a frontier of URLs, fetches them through Tor with plain HTTP or a
// headless browser, follows the hidden-service links it finds and stores every
// visit in SQLite.
//
// Usage:
//
//	darc crawl [url...] [flags]
//	darc seed [url...] --redis host:port
//	darc stats [--markdown | --json]
//	darc reset <url> --redis host:port
//	darc init
//	darc version
package main

func main() {
	Execute()
}
