package session

import (
	"errors"
	"fmt"
)

// ErrNoWorkspace is returned by FindRoot when no .snek directory exists in
// the starting directory or any of its parents.
var ErrNoWorkspace = errors.New("no snek workspace found")

// ConfigError is returned when the session pointer is missing, unparsable or
// points at a directory that does not exist.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return "invalid session pointer " + e.Path + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadError is returned when a session's metadata cannot be read or parsed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return "failed to load session metadata " + e.Path + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// PartialLoadWarning reports that an optional session file (chat or context)
// was missing or unparsable and an empty collection was used in its place.
type PartialLoadWarning struct {
	Path string
	Err  error
}

func (e *PartialLoadWarning) Error() string {
	return "partial load of " + e.Path + ": " + e.Err.Error()
}

func (e *PartialLoadWarning) Unwrap() error {
	return e.Err
}

// RangeError is returned by ExtractRange when the start line lies at or past
// the end of the file.
type RangeError struct {
	Path      string
	StartLine int
	LineCount int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: start line %d exceeds file length %d", e.Path, e.StartLine, e.LineCount)
}
