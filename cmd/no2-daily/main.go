// Package main provides the no2-daily command: daily tiled acquisition, merge
// and gap filling of the tropospheric NO2 field.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alberthnahas/sentinel-no2-daily/internal/config"
)

const version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.New()
	var configPath string

	cmd := &cobra.Command{
		Use:   "no2-daily",
		Short: "Daily tropospheric NO2 grids from tiled satellite acquisitions",
		Long: "no2-daily partitions the configured area into tiles, fetches each tile for a day,\n" +
			"merges them into one grid and writes the original, linear and cubic gap-filled\n" +
			"variants as NetCDF files.\n\n" +
			"Every setting can be given in a YAML file (--config) or as an NO2_* environment\n" +
			"variable, e.g. NO2_FETCH_SOURCE=http or NO2_EXTENT_WEST=95.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				return nil
			}
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config %q: %w", configPath, err)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "console", "log format (console, json)")
	_ = v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = v.BindPFlag("log.format", pf.Lookup("log-format"))

	cmd.AddCommand(
		newRunCommand(v),
		newServeCommand(v),
		newTilesCommand(v),
	)
	return cmd
}
