package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trackq/internal/discovery"
)

func newInitCmd(root *rootOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Register new settings files as pending jobs",
		Long: `Scan the settings directory for settings files and add a pending record to
the job registry for every file not registered yet. Existing records are never
changed, so init can be rerun at any time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			res, err := discovery.Register(discovery.Options{
				Workspace:    cfg.Workspace,
				RegistryPath: cfg.Registry,
				SettingsDir:  cfg.SettingsDir,
				SettingsGlob: cfg.SettingsGlob,
			})
			if err != nil {
				if errors.Is(err, discovery.ErrNoSettingsFound) {
					return fmt.Errorf("%w (create settings with `trackq gui` first)", err)
				}
				return err
			}
			for _, f := range res.NoVideo {
				logger.Warn("settings file has no usable video_paths; registered without video", zap.String("settings_file", f))
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}

			out := cmd.OutOrStdout()
			if res.Created {
				fmt.Fprintf(out, "created registry %s\n", res.RegistryPath)
			}
			fmt.Fprintf(out, "settings found: %d\n", res.Found)
			fmt.Fprintf(out, "jobs added: %d\n", res.Added)
			fmt.Fprintf(out, "jobs total: %d\n", res.Total)
			if res.Added > 0 {
				fmt.Fprintln(out, "next: trackq track --dry-run")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}
