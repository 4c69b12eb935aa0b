package model

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Key returns a short, fixed-size identifier for a normalized URL.
// Shared stores use it instead of the URL itself so that very long URLs do
// not produce very long keys.
func Key(normalizedURL string) string {
	return strconv.FormatUint(xxhash.Sum64String(normalizedURL), 16)
}
