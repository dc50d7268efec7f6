package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/vango-dev/lx/internal/config"
	"github.com/vango-dev/lx/internal/errors"
)

func initCmd(a *app) *cobra.Command {
	var (
		asJSON bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default lx.yaml",
		Long: `Write a configuration file with the default settings.

The file is lx.yaml, or lx.json with --json. An existing file is left
alone unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			name := config.ConfigFileName
			if asJSON {
				name = "lx.json"
			}
			path := filepath.Join(dir, name)

			if !force {
				if _, err := os.Stat(path); err == nil {
					return errors.New("E104").
						WithDetail(path + " already exists").
						WithSuggestion("Pass --force to overwrite it")
				}
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return errors.New("E103").Wrap(err)
			}
			if err := config.New().SaveTo(path); err != nil {
				return err
			}

			success(cmd.OutOrStdout(), "Wrote %s", path)
			a.logger.Debug("config written", "path", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Write lx.json instead of lx.yaml")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}
