package database

import "errors"

var (
	// ErrDatabaseNotFound is returned by Open when the database must exist but does not.
	ErrDatabaseNotFound = errors.New("database not found")

	// ErrVisitNotFound is returned when no visit is recorded for a URL.
	ErrVisitNotFound = errors.New("visit not found")

	// ErrInvalidRef is returned for content references outside the blob root.
	ErrInvalidRef = errors.New("invalid content reference")

	// ErrNilVisit is returned when InsertVisit is called without a visit.
	ErrNilVisit = errors.New("visit is nil")
)
