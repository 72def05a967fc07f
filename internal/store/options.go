package store

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/kiranshivaraju/panoptes/internal/config"
)

// Options are the pool settings applied when a store is opened.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OptionsFromConfig returns the pool settings configured through the environment.
func OptionsFromConfig(cfg config.DatabaseConfig) Options {
	return Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
}

// OptionsFromMap overlays engine keyword options, as produced by the database
// configuration resolver, onto base. Recognised keys are pool_size and
// pool_recycle (seconds); anything else is ignored.
func OptionsFromMap(base Options, kwargs map[string]any) (Options, error) {
	opts := base
	for k, v := range kwargs {
		switch k {
		case "pool_size":
			n, err := toInt(v)
			if err != nil {
				return base, fmt.Errorf("option %s: %w", k, err)
			}
			if n < 0 || n > math.MaxInt32 {
				return base, fmt.Errorf("option %s: %d out of range", k, n)
			}
			opts.MaxOpenConns = n
		case "pool_recycle":
			n, err := toInt(v)
			if err != nil {
				return base, fmt.Errorf("option %s: %w", k, err)
			}
			opts.ConnMaxLifetime = time.Duration(n) * time.Second
		default:
			slog.Debug("ignoring unsupported engine option", "option", k)
		}
	}
	return opts, nil
}

// poolConns converts a connection count to the int32 pgxpool expects,
// clamping instead of wrapping.
func poolConns(n int) int32 {
	return int32(min(max(n, 0), math.MaxInt32))
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}
