package model

import "errors"

var (
	// ErrEmptyURL is returned when an empty string is given as URL.
	ErrEmptyURL = errors.New("empty url")

	// ErrUnsupportedScheme is returned for URLs that are not http or https.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")

	// ErrMissingHost is returned for URLs without a host component.
	ErrMissingHost = errors.New("url has no host")

	// ErrUnknownStatus is returned by ParseStatus for unknown names.
	ErrUnknownStatus = errors.New("unknown status")
)
