package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"trackq/internal/collect"
	"trackq/internal/runstore"
)

func newCopyCmd(root *rootOptions) *cobra.Command {
	var (
		dest    string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Collect trajectory files of done jobs into one folder",
		Long: `Copy the trajectory file of every done job into the copy directory, named
after its session. Jobs whose session has no trajectory file are reported and
skipped. Files already present with identical content are not copied again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			copyDir := cfg.CopyDir
			if dest != "" {
				copyDir = runstore.Resolve(cfg.Workspace, dest)
			}
			res, err := collect.Copy(collect.Options{
				Workspace:      cfg.Workspace,
				RegistryPath:   cfg.Registry,
				CopyDir:        copyDir,
				TrajectoryPath: cfg.Tracker.TrajectoryPath,
				Logger:         logger,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			for _, it := range res.Items {
				switch it.Action {
				case collect.ActionMissing:
					fmt.Fprintf(out, "warn  %s: no trajectory in %s\n", it.SettingsFile, defaultIfEmpty(it.Session, "(no session)"))
				case collect.ActionError:
					fmt.Fprintf(out, "warn  %s: %s\n", it.SettingsFile, it.Error)
				case collect.ActionCopied:
					fmt.Fprintf(out, "copy  %s\n", runstore.RelTo(cfg.Workspace, it.Dest))
				}
			}
			fmt.Fprintln(out, res.Summary())
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "destination directory (default: copy_dir)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}
