package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trackq/internal/batch"
	"trackq/internal/classify"
	"trackq/internal/config"
	"trackq/internal/discovery"
	"trackq/internal/registry"
	"trackq/internal/settings"
	"trackq/internal/tracker"
)

func newTrackCmd(root *rootOptions) *cobra.Command {
	var (
		dryRun     bool
		noFixPaths bool
		maxJobs    int
		progress   bool
		rawOutput  bool
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Run every pending or failed job once",
		Long: `Run the tracker for each pending or failed job in registry order, one at a
time. After each run the new session directory is identified, its log is
classified, and the outcome is written to the registry before the next job
starts. Interrupting with Ctrl-C keeps everything finished so far.

With --dry-run the tracker is not invoked: session names are predicted, every
job is treated as done, and the registry is restored afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if !registry.Exists(cfg.Registry) {
				return fmt.Errorf("%w: %s (run `trackq init` first)", registry.ErrRegistryMissing, cfg.Registry)
			}
			if !cmd.Flags().Changed("progress") {
				progress = cfg.Track.Progress
			}
			if jsonOut {
				progress = false
			}

			client := &tracker.Client{Binary: cfg.Tracker.Binary, KillGrace: cfg.Tracker.KillGrace}
			if !dryRun {
				if err := client.CheckDependencies(); err != nil {
					return err
				}
				if cfg.Track.FixPaths && !noFixPaths {
					fixSettingsPaths(cfg, logger)
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				out = cmd.ErrOrStderr()
			}
			res, err := batch.Run(cmd.Context(), batch.Options{
				Workspace:     cfg.Workspace,
				RegistryPath:  cfg.Registry,
				OutputRoot:    cfg.OutputRoot,
				LogsDir:       cfg.LogsDir,
				SessionPrefix: cfg.Tracker.SessionPrefix,
				ExtraArgs:     cfg.Tracker.ExtraArgs,
				Classifier: classify.Classifier{
					LogName:        cfg.Tracker.LogName,
					SuccessMarker:  cfg.Markers.Success,
					CriticalMarker: cfg.Markers.Critical,
				},
				Tracker:   client,
				MaxJobs:   maxJobs,
				DryRun:    dryRun,
				Progress:  progress,
				RawOutput: rawOutput,
				Out:       out,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printTrackSummary(cmd, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate the batch without running the tracker; registry is restored")
	cmd.Flags().BoolVar(&noFixPaths, "no-fix-paths", false, "skip the path separator fix on settings files")
	cmd.Flags().IntVar(&maxJobs, "max-jobs", 0, "max jobs to process this invocation (0 = no limit)")
	cmd.Flags().BoolVar(&progress, "progress", true, "show a live progress line (default from track.progress)")
	cmd.Flags().BoolVar(&rawOutput, "raw-output", false, "echo raw tracker output when progress is off")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}

// fixSettingsPaths runs the separator fix before a batch. Failures are
// warnings; the batch still runs.
func fixSettingsPaths(cfg *config.Config, logger *zap.Logger) {
	files, err := discovery.SettingsFiles(discovery.Options{
		Workspace:    cfg.Workspace,
		SettingsDir:  cfg.SettingsDir,
		SettingsGlob: cfg.SettingsGlob,
	})
	if err != nil {
		if !errors.Is(err, discovery.ErrNoSettingsFound) {
			logger.Warn("fix-paths skipped", zap.Error(err))
		}
		return
	}
	res, err := settings.FixPaths(files)
	if err != nil {
		logger.Warn("fix-paths incomplete", zap.Error(err))
	}
	if len(res.Changed) > 0 {
		logger.Info("fixed path separators in settings files", zap.Int("changed", len(res.Changed)), zap.Int("scanned", res.Scanned))
	}
}

func printTrackSummary(cmd *cobra.Command, res batch.Result) {
	out := cmd.OutOrStdout()
	if res.DryRun {
		fmt.Fprintln(out, "dry run summary (registry restored)")
	} else {
		fmt.Fprintln(out, "track summary")
	}
	fmt.Fprintf(out, "run_id: %s\n", res.RunID)
	fmt.Fprintf(out, "eligible: %d\n", res.Eligible)
	fmt.Fprintf(out, "processed_now: %d\n", res.Processed)
	fmt.Fprintf(out, "done: %d\n", res.Done)
	fmt.Fprintf(out, "failed: %d\n", res.Failed)
	fmt.Fprintf(out, "remaining: %d\n", res.Remaining)
	if res.Interrupted {
		fmt.Fprintln(out, "interrupted: rerun `trackq track` to continue")
		return
	}
	if !res.DryRun && res.Remaining > 0 {
		fmt.Fprintln(out, "next: inspect failed sessions, then rerun `trackq track`")
	}
}
