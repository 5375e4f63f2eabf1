// Package common defines constants and sentinel errors shared by the
// pipeline stages, the remote clients and the CLI. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Configuration errors, fatal before any file is processed.
	ErrMissingConfig  = errors.New("missing config")
	ErrInvalidConfig  = errors.New("invalid config")
	ErrUnknownBackend = errors.New("unknown backend")
	ErrNoSources      = errors.New("no source globs")

	// Remote errors.
	ErrUploadRejected = errors.New("upload rejected")
)
