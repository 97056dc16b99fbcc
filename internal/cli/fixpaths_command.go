package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"trackq/internal/discovery"
	"trackq/internal/runstore"
	"trackq/internal/settings"
)

func newFixPathsCmd(root *rootOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "fix-paths",
		Short: "Replace backslash path separators in settings files",
		Long: `Rewrite every settings file so Windows path separators become forward
slashes. Files that need no change are left untouched; running it twice is a
no-op. track runs this automatically unless --no-fix-paths is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			files, err := discovery.SettingsFiles(discovery.Options{
				Workspace:    cfg.Workspace,
				SettingsDir:  cfg.SettingsDir,
				SettingsGlob: cfg.SettingsGlob,
			})
			if err != nil {
				return err
			}
			res, err := settings.FixPaths(files)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			for _, f := range res.Changed {
				fmt.Fprintf(out, "fixed %s\n", runstore.RelTo(cfg.Workspace, f))
			}
			fmt.Fprintf(out, "settings scanned: %d, changed: %d\n", res.Scanned, len(res.Changed))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}
