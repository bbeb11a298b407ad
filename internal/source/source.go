// Package source lists and fetches the raw Markdown files a load consumes.
package source

import (
	"context"
	"errors"
	"fmt"
)

// Entry types reported by a listing.
const (
	EntryFile = "file"
	EntryDir  = "dir"
)

// Entry describes one item in a source directory listing.
type Entry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	DownloadURL string `json:"download_url"`
}

// Source is a directory of Markdown files.
type Source interface {
	// List returns the entries of the source directory.
	List(ctx context.Context) ([]Entry, error)
	// Fetch returns the raw content of a file entry.
	Fetch(ctx context.Context, e Entry) ([]byte, error)
	// String describes the source for logs.
	String() string
}

// ErrMissingToken is reported when a GitHub source is built without a token.
var ErrMissingToken = errors.New("github token is not set")

// ConfigError reports an invalid source configuration.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("source config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// StatusError is returned when a remote request answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d (%s)", e.StatusCode, e.URL)
}
