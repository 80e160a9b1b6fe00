package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/loomhq/loom/internal/config"
)

func buildValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate project configuration files",
		Long: `Validate one or more project JSON configs, or every *.json file in a
directory. Environment substitution (` + "`${VAR}`" + `) runs during validation, so
referenced variables must be set.`,
		Example: `  loom validate ./projects
  loom validate ./projects/support-bot.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var paths []string
			for _, arg := range args {
				info, err := os.Stat(arg)
				if err != nil {
					return err
				}
				if info.IsDir() {
					matches, err := filepath.Glob(filepath.Join(arg, "*.json"))
					if err != nil {
						return err
					}
					paths = append(paths, matches...)
				} else {
					paths = append(paths, arg)
				}
			}
			sort.Strings(paths)
			if len(paths) == 0 {
				return fmt.Errorf("no project configs found")
			}

			failed := 0
			for _, path := range paths {
				p, err := config.LoadProject(path)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL  %s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK    %s (%s)\n", path, p.ID)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d configs invalid", failed, len(paths))
			}
			return nil
		},
	}
}
