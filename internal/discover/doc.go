// Package discover handles the first contact with a new host.
//
// When the crawler meets a host for the first time it reads the host's
// robots.txt and sitemaps. Robots rules decide which URLs may be fetched;
// sitemap entries seed the frontier with pages no link points to.
package discover
