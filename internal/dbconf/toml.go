package dbconf

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pelletier/go-toml/v2/unstable"
)

const (
	sectionDatabaseInfo = "Database_info"
	sectionExtra        = "Extra"
	sectionParameters   = "Parameters"
)

// File is the structured database configuration file.
//
//	[Database_info]
//	DATABASE = "sqlite"
//	NOHOSTNAME = ""
//	PATH = ".panoptes.db"
//
//	[Extra]
//	thread = "?check_same_thread=False"
//
//	[Parameters]
//	convert_unicode = true
type File struct {
	DatabaseInfo DatabaseInfo      `toml:"Database_info"`
	Extra        map[string]string `toml:"Extra"`
	Parameters   map[string]any    `toml:"Parameters"`
}

// DatabaseInfo fields are pointers so a missing key can be told apart from an
// empty one: NOHOSTNAME is normally present and empty.
type DatabaseInfo struct {
	Database   *string `toml:"DATABASE"`
	NoHostname *string `toml:"NOHOSTNAME"`
	Path       *string `toml:"PATH"`
}

// ParseTOML decodes a structured configuration and builds its Resolution.
// All three sections and all Database_info keys are required; Extra values
// are appended to "<DATABASE>://<NOHOSTNAME>/<PATH>" in file order and
// Parameters are returned verbatim as the options.
func ParseTOML(data []byte) (Resolution, error) {
	layout, err := scanLayout(data)
	if err != nil {
		return Resolution{}, fmt.Errorf("parse toml: %w", err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return Resolution{}, fmt.Errorf("decode toml: %w", err)
	}

	info := f.DatabaseInfo
	switch {
	case !layout.sections[sectionDatabaseInfo]:
		return Resolution{}, fmt.Errorf("%w: %s", ErrMissingKey, sectionDatabaseInfo)
	case info.Database == nil:
		return Resolution{}, fmt.Errorf("%w: %s.DATABASE", ErrMissingKey, sectionDatabaseInfo)
	case *info.Database != EngineSQLite:
		return Resolution{}, fmt.Errorf("%w: %q", ErrUnsupportedEngine, *info.Database)
	case !layout.sections[sectionExtra]:
		return Resolution{}, fmt.Errorf("%w: %s", ErrMissingKey, sectionExtra)
	case info.NoHostname == nil:
		return Resolution{}, fmt.Errorf("%w: %s.NOHOSTNAME", ErrMissingKey, sectionDatabaseInfo)
	case info.Path == nil:
		return Resolution{}, fmt.Errorf("%w: %s.PATH", ErrMissingKey, sectionDatabaseInfo)
	case !layout.sections[sectionParameters]:
		return Resolution{}, fmt.Errorf("%w: %s", ErrMissingKey, sectionParameters)
	}

	var b strings.Builder
	b.WriteString(*info.Database + "://" + *info.NoHostname + "/" + *info.Path)
	for _, key := range orderedKeys(layout.extraKeys, f.Extra) {
		b.WriteString(f.Extra[key])
	}

	params := f.Parameters
	if params == nil {
		params = map[string]any{}
	}
	return Resolution{ConnString: b.String(), Options: params}, nil
}

// layout records the document structure the decoder throws away: which top
// level sections exist and the order of the keys under Extra.
type layout struct {
	sections  map[string]bool
	extraKeys []string
}

func scanLayout(data []byte) (layout, error) {
	l := layout{sections: map[string]bool{}}

	var p unstable.Parser
	p.Reset(data)

	var table []string
	for p.NextExpression() {
		e := p.Expression()
		switch e.Kind {
		case unstable.Table, unstable.ArrayTable:
			table = keyParts(e.Key())
			if len(table) > 0 {
				l.sections[table[0]] = true
			}
		case unstable.KeyValue:
			path := append(slices.Clone(table), keyParts(e.Key())...)
			l.sections[path[0]] = true
			if path[0] != sectionExtra {
				continue
			}
			switch {
			case len(path) == 2:
				l.extraKeys = append(l.extraKeys, path[1])
			case len(path) == 1 && e.Value().Kind == unstable.InlineTable:
				it := e.Value().Children()
				for it.Next() {
					if parts := keyParts(it.Node().Key()); len(parts) == 1 {
						l.extraKeys = append(l.extraKeys, parts[0])
					}
				}
			}
		}
	}
	if err := p.Error(); err != nil {
		return layout{}, err
	}
	return l, nil
}

func keyParts(it unstable.Iterator) []string {
	var parts []string
	for it.Next() {
		parts = append(parts, string(it.Node().Data))
	}
	return parts
}

// orderedKeys returns the keys of m in document order, followed by any key
// the scan did not see, sorted.
func orderedKeys(order []string, m map[string]string) []string {
	keys := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, k := range order {
		if _, ok := m[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	var rest []string
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	return append(keys, rest...)
}
