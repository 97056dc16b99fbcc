package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"trackq/internal/discovery"
)

func newDoctorCmd(root *rootOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the tracker binary and workspace directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			res, err := discovery.Doctor(discovery.DoctorOptions{
				RegistryPath:  cfg.Registry,
				SettingsDir:   cfg.SettingsDir,
				OutputRoot:    cfg.OutputRoot,
				LogsDir:       cfg.LogsDir,
				TrackerBinary: cfg.Tracker.Binary,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printChecks(cmd.OutOrStdout(), "", res.Checks)
			if !res.OK {
				return errors.New("doctor checks failed")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "doctor: all checks passed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}
