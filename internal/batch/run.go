package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"trackq/internal/classify"
	"trackq/internal/model"
	"trackq/internal/registry"
	"trackq/internal/runstore"
	"trackq/internal/session"
	"trackq/internal/settings"
	"trackq/internal/tracker"
)

// Tracker is the external tool invocation. A returned error never decides a
// job's outcome by itself.
type Tracker interface {
	Track(ctx context.Context, req tracker.Request) error
}

type Options struct {
	Workspace     string
	RegistryPath  string
	OutputRoot    string
	LogsDir       string
	SessionPrefix string
	ExtraArgs     []string
	Classifier    classify.Classifier
	Tracker       Tracker
	MaxJobs       int
	DryRun        bool
	Progress      bool
	RawOutput     bool
	Out           io.Writer
	Logger        *zap.Logger
	Now           func() time.Time
}

type Result struct {
	RunID       string       `json:"run_id"`
	DryRun      bool         `json:"dry_run"`
	Eligible    int          `json:"eligible"`
	Processed   int          `json:"processed"`
	Done        int          `json:"done"`
	Failed      int          `json:"failed"`
	Remaining   int          `json:"remaining"`
	Interrupted bool         `json:"interrupted"`
	Jobs        []JobOutcome `json:"jobs"`
}

type JobOutcome struct {
	Seq           int    `json:"seq"`
	SettingsFile  string `json:"settings_file"`
	Video         string `json:"video"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	SessionFolder string `json:"session_folder"`
	Timestamp     string `json:"timestamp"`
	TrackerError  string `json:"tracker_error,omitempty"`
	ConsoleLog    string `json:"console_log,omitempty"`
	ArchivedLog   string `json:"archived_log,omitempty"`
	Persisted     bool   `json:"persisted"`
}

type runner struct {
	opts     Options
	reg      *registry.Registry
	resolver *session.Resolver
	log      *zap.Logger
	runID    string
}

// Run processes every eligible record of the registry once, in stored order,
// persisting each outcome before moving on. Only a missing registry is
// fatal. Cancelling ctx stops the batch; the job in flight is left as it was.
func Run(ctx context.Context, opts Options) (res Result, err error) {
	opts = withDefaults(opts)
	reg, err := registry.Load(opts.RegistryPath)
	if err != nil {
		return Result{}, err
	}
	if !opts.DryRun && opts.Tracker == nil {
		return Result{}, fmt.Errorf("tracker client is required")
	}
	if err := runstore.Mkdir(opts.LogsDir); err != nil {
		return Result{}, err
	}

	runID := NewRunID(opts.Now())
	r := &runner{
		opts:     opts,
		reg:      reg,
		resolver: session.NewResolver(opts.OutputRoot, opts.SessionPrefix),
		log:      opts.Logger.With(zap.String("run_id", runID), zap.Bool("dry_run", opts.DryRun)),
		runID:    runID,
	}

	if opts.DryRun {
		sim, serr := beginDryRun(reg, r.log)
		if serr != nil {
			return Result{}, serr
		}
		defer func() {
			if rerr := sim.finish(); rerr != nil && err == nil {
				err = rerr
			}
			res.Remaining = remaining(reg)
		}()
	}

	res = r.loop(ctx)
	return res, nil
}

// NewRunID returns a sortable batch identifier.
func NewRunID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

func withDefaults(opts Options) Options {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if strings.TrimSpace(opts.LogsDir) == "" {
		opts.LogsDir = filepath.Join(opts.Workspace, "logs")
	}
	if strings.TrimSpace(opts.OutputRoot) == "" {
		opts.OutputRoot = filepath.Join(opts.Workspace, "sessions")
	}
	return opts
}

func (r *runner) loop(ctx context.Context) Result {
	keys := r.reg.Eligible()
	res := Result{RunID: r.runID, DryRun: r.opts.DryRun, Eligible: len(keys), Jobs: []JobOutcome{}}
	if r.opts.MaxJobs > 0 && len(keys) > r.opts.MaxJobs {
		keys = keys[:r.opts.MaxJobs]
	}
	if len(keys) == 0 {
		r.log.Info("no eligible jobs", zap.String("registry", r.reg.Path()))
	}

	for n, key := range keys {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		job, ok := r.reg.Get(key)
		if !ok {
			continue
		}
		if err := model.TransitionJobStatus(&job, model.StatusRunning); err != nil {
			r.log.Warn("skipping record", zap.String("settings_file", key), zap.Error(err))
			continue
		}

		seq := n + 1
		fmt.Fprintf(r.opts.Out, "[%d/%d] start %s (%s)\n", seq, len(keys), job.SettingsFile, displayVideo(job.Video))

		var out JobOutcome
		var interrupted bool
		if r.opts.DryRun {
			out = r.simulate(job, seq)
		} else {
			out, interrupted = r.track(ctx, job, seq, len(keys))
		}
		if interrupted {
			fmt.Fprintf(r.opts.Out, "[%d/%d] interrupted %s; left as %s\n", seq, len(keys), job.SettingsFile, statusBefore(r.reg, key))
			res.Interrupted = true
			break
		}

		if err := model.TransitionJobStatus(&job, out.Status); err != nil {
			r.log.Warn("unexpected outcome status", zap.String("settings_file", key), zap.Error(err))
			out.Status = model.StatusFailed
		}
		out.Timestamp = r.opts.Now().UTC().Format(time.RFC3339)
		out.Persisted = r.persist(out)

		res.Processed++
		if out.Status == model.StatusDone {
			res.Done++
		} else {
			res.Failed++
		}
		res.Jobs = append(res.Jobs, out)
		fmt.Fprintf(r.opts.Out, "[%d/%d] %-5s %s%s\n", seq, len(keys), out.Status, job.SettingsFile, reasonSuffix(out.Reason))
	}
	res.Remaining = remaining(r.reg)
	return res
}

// track runs one real tracker invocation and attributes its session.
func (r *runner) track(ctx context.Context, job model.JobRecord, seq, total int) (JobOutcome, bool) {
	out := JobOutcome{Seq: seq, SettingsFile: job.SettingsFile, Video: job.Video}
	log := r.log.With(zap.String("settings_file", job.SettingsFile), zap.String("video", job.Video))
	stem := settings.Stem(job.SettingsFile)

	before, err := session.List(r.opts.OutputRoot)
	if err != nil {
		log.Warn("cannot list output root; job not started", zap.Error(err))
		out.Status = model.StatusFailed
		out.Reason = classify.ReasonUnresolved
		return out, false
	}

	consolePath := filepath.Join(r.opts.LogsDir, fmt.Sprintf("%s_%04d_%s.out.log", r.runID, seq, stem))
	var console io.Writer = io.Discard
	consoleFile, err := os.Create(consolePath)
	if err != nil {
		log.Warn("cannot capture tracker output", zap.String("path", consolePath), zap.Error(err))
	} else {
		console = consoleFile
		out.ConsoleLog = consolePath
	}

	progress := newLiveProgress(r.opts.Progress, r.opts.Out, seq, total, job.Video)
	progress.Start()

	req := tracker.Request{
		SettingsPath: runstore.Resolve(r.opts.Workspace, job.SettingsFile),
		OutputRoot:   r.opts.OutputRoot,
		ExtraArgs:    r.opts.ExtraArgs,
		WorkDir:      r.opts.Workspace,
		Stdout:       r.opts.Out,
		Stderr:       os.Stderr,
		LogWriter:    console,
		EchoOutput:   r.opts.RawOutput && !r.opts.Progress,
		Progress:     progress.Handle,
	}
	if r.reg.HasKnowledgeTransfer() && strings.TrimSpace(job.KnowledgeTransfer) != "" {
		req.KnowledgeTransfer = runstore.Resolve(r.opts.Workspace, job.KnowledgeTransfer)
	}

	trackErr := r.opts.Tracker.Track(ctx, req)
	if consoleFile != nil {
		_ = consoleFile.Close()
	}
	if ctx.Err() != nil {
		progress.Stop("")
		log.Warn("batch interrupted during tracking")
		return JobOutcome{}, true
	}
	progress.Stop("")
	if trackErr != nil {
		out.TrackerError = firstLine(trackErr.Error())
		log.Warn("tracker exited abnormally; classifying from log", zap.Error(trackErr))
	}

	sessionDir, err := r.resolver.Resolve(before, job.Video)
	if err != nil {
		log.Warn("session not resolved", zap.Error(err))
	}
	verdict := r.opts.Classifier.Classify(sessionDir)
	out.Status = verdict.Status
	out.Reason = verdict.Reason
	if sessionDir != "" {
		out.SessionFolder = runstore.RelTo(r.opts.Workspace, sessionDir)
	}

	archived, err := archiveLog(r.opts.Classifier, sessionDir, r.opts.Workspace, r.opts.LogsDir, stem)
	if err != nil {
		log.Warn("log archive failed", zap.String("session", out.SessionFolder), zap.Error(err))
	}
	out.ArchivedLog = archived

	log.Info("job classified",
		zap.String("session", out.SessionFolder),
		zap.String("status", out.Status),
		zap.String("reason", out.Reason),
	)
	return out, false
}

// persist writes the outcome triple. A failed rewrite is a warning; the next
// job still gets its own attempt.
func (r *runner) persist(out JobOutcome) bool {
	err := r.reg.Update(out.SettingsFile, registry.Outcome{
		Status:        out.Status,
		Timestamp:     out.Timestamp,
		SessionFolder: out.SessionFolder,
	})
	if err != nil {
		r.log.Warn("registry update failed",
			zap.String("settings_file", out.SettingsFile),
			zap.String("status", out.Status),
			zap.Error(err),
		)
		return false
	}
	return true
}

func remaining(reg *registry.Registry) int {
	counts := reg.Counts()
	return counts[model.StatusPending] + counts[model.StatusFailed]
}

func statusBefore(reg *registry.Registry, key string) string {
	rec, ok := reg.Get(key)
	if !ok {
		return "unknown"
	}
	return rec.Status
}

func displayVideo(v string) string {
	if strings.TrimSpace(v) == "" {
		return "no video"
	}
	return v
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " (" + reason + ")"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
