package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// Kind classifies fetch failures.
type Kind int

const (
	// Other is any failure that fits no other kind.
	Other Kind = iota

	// Timeout means the fetch did not finish within its deadline.
	Timeout

	// ConnectionRefused means the target could not be reached.
	ConnectionRefused

	// ProxyError means the Tor proxy itself failed. Repeated proxy errors
	// trigger a circuit rotation.
	ProxyError

	// HTTPError means the server answered with a status of 400 or above.
	HTTPError

	// Blocked means the server served a block or captcha page.
	Blocked

	// EmptyBody means the response had no content.
	EmptyBody

	// Unsupported means the URL or content cannot be crawled.
	Unsupported
)

// String returns the name used in logs and stored outcomes.
func (k Kind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case ConnectionRefused:
		return "connection-refused"
	case ProxyError:
		return "proxy-error"
	case HTTPError:
		return "http-error"
	case Blocked:
		return "blocked"
	case EmptyBody:
		return "empty-body"
	case Unsupported:
		return "unsupported"
	default:
		return "other"
	}
}

// Error is returned by every Fetcher.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// StatusCode is the HTTP status for HTTPError and Blocked.
	StatusCode int

	// URL is the requested URL.
	URL string

	// RetryAfter is the server's Retry-After hint, if any.
	RetryAfter time.Duration

	// Err is the underlying error, if any.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("fetch ")
	b.WriteString(e.URL)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or Other if err is not an *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Other
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

// classify wraps a transport error into an *Error.
func classify(url string, err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return &Error{Kind: kindOf(err), URL: url, Err: err}
}

func kindOf(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}

	// SOCKS failures are reported as *net.OpError with Op "socks connect".
	// The wrapped error is either the failed dial to the proxy or the
	// proxy's reply to CONNECT.
	var opErr *net.OpError
	if errors.As(err, &opErr) && strings.HasPrefix(opErr.Op, "socks") {
		var inner *net.OpError
		if errors.As(opErr.Err, &inner) && inner.Op == "dial" {
			return ProxyError
		}
		msg := strings.ToLower(opErr.Err.Error())
		switch {
		case strings.Contains(msg, "connection refused"),
			strings.Contains(msg, "host unreachable"),
			strings.Contains(msg, "network unreachable"):
			return ConnectionRefused
		case strings.Contains(msg, "ttl expired"):
			return Timeout
		default:
			return ProxyError
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ConnectionRefused
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "err_proxy"), strings.Contains(msg, "err_socks"), strings.Contains(msg, "err_tunnel"):
		return ProxyError
	case strings.Contains(msg, "err_connection_refused"), strings.Contains(msg, "err_name_not_resolved"),
		strings.Contains(msg, "err_address_unreachable"), strings.Contains(msg, "connection refused"):
		return ConnectionRefused
	case strings.Contains(msg, "err_timed_out"), strings.Contains(msg, "err_connection_timed_out"):
		return Timeout
	default:
		return Other
	}
}
