// Package main is a small CLI that resolves a database configuration file
// the same way the server does and prints the result.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kiranshivaraju/panoptes/internal/dbconf"
	"github.com/spf13/cobra"
)

const (
	defaultTOMLPath   = ".db_conf.toml"
	defaultLegacyPath = ".db.conf"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		legacy bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "dbconf [path]",
		Short: "Resolve a database configuration file into a connection string and options",
		Long: `dbconf reads a database configuration file and prints the connection
string and engine options it resolves to. An invalid file resolves to the
default local SQLite database, exactly as the server would.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultTOMLPath
			if legacy {
				path = defaultLegacyPath
			}
			if len(args) == 1 {
				path = args[0]
			}

			var res dbconf.Resolution
			if legacy {
				res = dbconf.ResolveLegacy(path)
			} else {
				res = dbconf.Resolve(path)
			}
			return printResolution(cmd.OutOrStdout(), res, asJSON)
		},
	}

	cmd.Flags().BoolVar(&legacy, "legacy", false, "read the line-oriented legacy format (default path "+defaultLegacyPath+")")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the resolution as a JSON object")
	return cmd
}

func printResolution(w io.Writer, res dbconf.Resolution, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err := fmt.Fprintf(w, "%s,%v\n", res.ConnString, res.Options)
	return err
}
