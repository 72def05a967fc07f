package dbconf

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// LegacyConfig is the content of a line-oriented configuration file:
//
//	# comment
//	DATABASE = sqlite
//	PATH = .panoptes.db
//	NUBER_OF_EXTRA = 1
//	EXTRA = ?check_same_thread=False
//	NUBER_OF_PARAMETERS = 1
//	convert_unicode = True
//
// Every non-comment line has at least three whitespace-separated tokens and
// the third is the value; keywords left out stay empty. A counter line makes
// the following N lines contribute to Extra (their value) or Parameters (all
// three tokens joined without separators, so "key = value" becomes
// "key=value").
type LegacyConfig struct {
	Database     string
	NoHostname   string
	Path         string
	SQLiteThread string
	Extra        string
	Parameters   string
}

// Counter keywords. The misspelled forms are what deployed files contain.
var (
	extraCounterKeywords     = map[string]bool{"NUBER_OF_EXTRA": true, "NUMBER_OF_EXTRA": true}
	parameterCounterKeywords = map[string]bool{"NUBER_OF_PARAMETERS": true, "NUMBER_OF_PARAMETERS": true}
)

// ParseLegacy reads a line-oriented configuration. A single line with fewer
// than three tokens invalidates the whole file, whatever was parsed before it.
func ParseLegacy(r io.Reader) (*LegacyConfig, error) {
	var (
		cfg                      LegacyConfig
		extraLeft, parameterLeft int
		params                   []string
	)

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("%w: line %d: expected KEYWORD OP VALUE, got %q", ErrLegacySyntax, lineNo, line)
		}

		switch fields[0] {
		case "DATABASE":
			cfg.Database = fields[2]
		case "PATH":
			cfg.Path = fields[2]
		case "NOHOSTNAME":
			cfg.NoHostname = fields[2]
		case "SQLITE_THREAD":
			cfg.SQLiteThread = fields[2]
		}

		if extraLeft > 0 {
			cfg.Extra += fields[2]
			extraLeft--
		}
		if parameterLeft > 0 {
			params = append(params, fields[0]+fields[1]+fields[2])
			parameterLeft--
		}

		// Counters take effect from the next line.
		if extraCounterKeywords[fields[0]] {
			n, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %s: %v", ErrLegacySyntax, lineNo, fields[0], err)
			}
			extraLeft = n
		}
		if parameterCounterKeywords[fields[0]] {
			n, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %s: %v", ErrLegacySyntax, lineNo, fields[0], err)
			}
			parameterLeft = n
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read legacy configuration: %w", err)
	}

	cfg.Parameters = strings.Join(params, ", ")
	return &cfg, nil
}

// Resolution builds "<DATABASE>://<NOHOSTNAME>/<PATH><extra>" and splits
// Parameters into string options. Only sqlite is supported.
func (c *LegacyConfig) Resolution() (Resolution, error) {
	if c.Database != EngineSQLite {
		return Resolution{}, fmt.Errorf("%w: %q", ErrUnsupportedEngine, c.Database)
	}

	opts, err := parseLegacyParameters(c.Parameters)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		ConnString: c.Database + "://" + c.NoHostname + "/" + c.Path + c.Extra,
		Options:    opts,
	}, nil
}

// parseLegacyParameters splits "a=1, b=2" into {"a": "1", "b": "2"}.
func parseLegacyParameters(s string) (map[string]any, error) {
	opts := map[string]any{}
	if s == "" {
		return opts, nil
	}
	for _, item := range strings.Split(s, ", ") {
		key, value, ok := strings.Cut(item, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %w %q", ErrLegacySyntax, errMalformedParameter, item)
		}
		opts[key] = value
	}
	return opts, nil
}
