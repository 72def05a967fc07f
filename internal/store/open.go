package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Open connects to the database named by connString and returns the matching
// Store. Supported schemes are sqlite (SQLAlchemy-style URLs such as
// sqlite:///relative.db, sqlite:////abs/path.db and sqlite:// for an
// in-memory database) and postgres / postgresql.
func Open(ctx context.Context, connString string, opts Options) (Store, error) {
	scheme, _, ok := strings.Cut(connString, "://")
	if !ok {
		return nil, fmt.Errorf("parse database URL: missing scheme in %q", connString)
	}

	// SQLAlchemy driver suffixes (sqlite+aiosqlite, postgresql+asyncpg) name
	// a Python driver; only the dialect matters here.
	dialect, _, _ := strings.Cut(scheme, "+")

	switch dialect {
	case "sqlite":
		dsn, err := sqliteDSN(connString)
		if err != nil {
			return nil, err
		}
		return OpenSQLite(ctx, dsn, opts)
	case "postgres", "postgresql":
		if dialect != scheme {
			connString = dialect + connString[len(scheme):]
		}
		return Connect(ctx, connString, opts)
	default:
		return nil, fmt.Errorf("unsupported database engine %q", dialect)
	}
}

// sqliteQueryParams lists the URL query parameters understood by the
// modernc SQLite driver; all others are dropped.
var sqliteQueryParams = map[string]bool{
	"_pragma":      true,
	"_time_format": true,
	"_txlock":      true,
	"vfs":          true,
}

// sqliteDSN converts sqlite://<host>/<path>?<query> into a driver DSN.
func sqliteDSN(connString string) (string, error) {
	_, rest, _ := strings.Cut(connString, "://")
	rest, rawQuery, _ := strings.Cut(rest, "?")

	host, path, _ := strings.Cut(rest, "/")
	if host != "" {
		return "", fmt.Errorf("parse database URL: sqlite does not take a host, got %q", host)
	}
	if path == "" {
		path = ":memory:"
	}

	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("parse database URL query: %w", err)
	}
	kept := url.Values{}
	for k, vs := range query {
		if sqliteQueryParams[k] {
			kept[k] = vs
		}
	}
	if len(kept) == 0 {
		return path, nil
	}
	return "file:" + path + "?" + kept.Encode(), nil
}
