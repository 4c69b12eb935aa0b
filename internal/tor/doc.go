// Package tor connects darc to the Tor network.
//
// Client routes HTTP traffic through a Tor SOCKS5 proxy. EmbeddedTor launches
// a private Tor daemon with tornago when no external daemon is configured.
// ControlClient speaks the Tor control protocol, and CircuitManager uses it to
// switch to fresh circuits after repeated proxy failures.
package tor
