package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trackq/internal/config"
	"trackq/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo is called from main with values injected at build time.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

type rootOptions struct {
	configFile string
	workspace  string
	verbose    bool
}

// Run executes the command line with SIGINT/SIGTERM wired to cancellation.
func Run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	observability.InitCLILogger("trackq", slices.Contains(args, "-v") || slices.Contains(args, "--verbose"))
	defer func() { _ = observability.CLILogger.Sync() }()
	return run(ctx, args, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "trackq",
		Short: "Batch job queue for idtracker.ai tracking runs",
		Long: `trackq queues idtracker.ai settings files, runs them one at a time, and
records which session directory each run produced.

Quick start:
  trackq gui                 pick a project folder and prepare settings
  trackq init                register new settings files as pending jobs
  trackq track --dry-run     preview the batch without running the tracker
  trackq track               run every pending or failed job
  trackq status              summarize the job registry
  trackq copy                collect trajectories of finished jobs

Running two track commands against the same workspace at once is not
supported.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: <workspace>/trackq.yaml)")
	root.PersistentFlags().StringVarP(&opts.workspace, "workspace", "w", "", "workspace directory (default: current directory)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newInitCmd(opts),
		newTrackCmd(opts),
		newFixPathsCmd(opts),
		newCopyCmd(opts),
		newStatusCmd(opts),
		newDoctorCmd(opts),
		newGUICmd(opts),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and installs the process logger for a command.
func (o *rootOptions) setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	var overrides []map[string]any
	if ws := strings.TrimSpace(o.workspace); ws != "" {
		overrides = append(overrides, map[string]any{"workspace": ws})
	}
	cfg, err := config.Load(cmd.Context(), o.configFile, overrides...)
	if err != nil {
		observability.CLILogger.Debug("config load failed",
			zap.String("command", cmd.Name()),
			zap.String("config_file", o.configFile),
			zap.Error(err),
		)
		return nil, nil, err
	}
	logger, err := observability.NewCLILogger(observability.Options{
		AppName:    "trackq",
		Level:      cfg.Logging.Level,
		Verbose:    o.verbose,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Console:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, err
	}
	observability.SetCLILogger(logger)
	logger.Debug("config loaded",
		zap.String("workspace", cfg.Workspace),
		zap.String("config_file", cfg.ConfigFile),
		zap.String("registry", cfg.Registry),
	)
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "trackq %s (commit %s, built %s)\n", versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
			return nil
		},
	}
}
