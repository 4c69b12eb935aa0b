// Package log builds the slog loggers of darc, with automatic masking of
// sensitive information.
//
// This package provides:
//   - Masking of sensitive values (cookies, tokens, control port passwords)
//   - Debug or warn level selection from the --debug flag
//   - Text or JSON output from the --json-log flag
//   - Compatibility with tornago's slog-based logging
//
// # Security Features
//
// Every logger is wrapped in a SecureHandler, which masks:
//   - HTTP headers (Authorization, Cookie, Set-Cookie, X-Api-Key)
//   - Tor control settings (control_password, HashedControlPassword, CookieFile)
//   - Raw AUTHENTICATE commands sent to the control port
//   - Values detected by pattern matching (JWTs, bearer tokens, long keys)
//
// Even at debug level, sensitive values are masked. Crawl logs are often
// shared; site cookies and the Tor control password must never end up in them.
//
// # Usage
//
//	// Create a masking logger
//	logger := log.NewLogger(os.Stderr, debug, false)
//
//	// Use as a standard slog.Logger
//	logger.Info("visited",
//	    "url", "http://example.onion/",
//	    "cookie", "session=abc123", // logged as ***REDACTED***
//	)
//
//	// Set as default logger
//	slog.SetDefault(logger)
//
// # Integration with tornago
//
// The embedded Tor daemon is started by tornago, which accepts the same
// *slog.Logger, so its output is masked too.
package log
