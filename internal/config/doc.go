// Package config holds the settings of a darc run.
//
// Config is filled from command line flags and validated once before
// anything starts. The optional .darc YAML file adds per-site settings
// (cookies, headers, forced rendering, ignore and follow globs). Helpers
// parse cache TTLs and seed files.
package config
