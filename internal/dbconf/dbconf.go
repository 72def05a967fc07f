// Package dbconf resolves the database configuration file into a connection
// string and a set of engine keyword options.
//
// Resolution never fails: a missing file, malformed content or an engine
// other than sqlite is logged and replaced by DefaultResolution, so a broken
// configuration degrades to the local SQLite database instead of aborting
// startup.
package dbconf

import (
	"errors"
	"log/slog"
	"maps"
	"os"
)

const (
	// DefaultConnString is used whenever the configuration cannot be resolved.
	DefaultConnString = "sqlite:///.panoptes.db?check_same_thread=False"

	// EngineSQLite is the only engine the resolver builds connection strings for.
	EngineSQLite = "sqlite"
)

var (
	ErrMissingKey         = errors.New("missing configuration key")
	ErrUnsupportedEngine  = errors.New("unsupported database engine")
	ErrLegacySyntax       = errors.New("invalid legacy configuration syntax")
	errMalformedParameter = errors.New("malformed parameter")
)

// Resolution is the resolver output: a connection string plus the keyword
// options to pass alongside it when opening the database.
type Resolution struct {
	ConnString string         `json:"conn_string"`
	Options    map[string]any `json:"options"`
}

// DefaultResolution returns a fresh copy of the fallback resolution.
func DefaultResolution() Resolution {
	return Resolution{
		ConnString: DefaultConnString,
		Options:    map[string]any{"convert_unicode": true},
	}
}

// Clone returns a copy of r whose Options map can be modified independently.
func (r Resolution) Clone() Resolution {
	return Resolution{ConnString: r.ConnString, Options: maps.Clone(r.Options)}
}

// Resolve reads the TOML configuration at path. Any failure is logged and
// DefaultResolution is returned instead.
func Resolve(path string) Resolution {
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback(path, err)
	}
	res, err := ParseTOML(data)
	if err != nil {
		return fallback(path, err)
	}
	return res
}

// ResolveLegacy reads the line-oriented configuration at path. Any failure is
// logged and DefaultResolution is returned instead.
func ResolveLegacy(path string) Resolution {
	f, err := os.Open(path)
	if err != nil {
		return fallback(path, err)
	}
	defer f.Close()

	lc, err := ParseLegacy(f)
	if err != nil {
		return fallback(path, err)
	}
	res, err := lc.Resolution()
	if err != nil {
		return fallback(path, err)
	}
	return res
}

func fallback(path string, err error) Resolution {
	slog.Warn("database configuration is invalid, using default database",
		"path", path,
		"error", err,
		"conn_string", DefaultConnString,
	)
	return DefaultResolution()
}
