package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/darc/internal/cache"
)

// ParseTTL parses a cache TTL. It accepts a Go duration ("12h"), a number
// of seconds ("3600"), or one of "infinite", "inf", "never", "none" and
// "-1" for entries that never expire.
func ParseTTL(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "infinite", "inf", "never", "none", "-1":
		return cache.Infinite, nil
	case "":
		return 0, fmt.Errorf("%w: empty", ErrInvalidTTL)
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTTL, s)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTTL, s)
	}
	return d, nil
}

// FormatTTL is the inverse of ParseTTL for display.
func FormatTTL(d time.Duration) string {
	if d == cache.Infinite {
		return "infinite"
	}
	return d.String()
}
