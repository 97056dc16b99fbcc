package batch

import (
	"fmt"

	"go.uber.org/zap"

	"trackq/internal/classify"
	"trackq/internal/model"
	"trackq/internal/registry"
	"trackq/internal/runstore"
)

// dryRun holds what a simulated batch needs to put back afterwards.
type dryRun struct {
	reg    *registry.Registry
	snap   registry.Snapshot
	digest string
	log    *zap.Logger
}

func beginDryRun(reg *registry.Registry, log *zap.Logger) (*dryRun, error) {
	digest, err := runstore.Digest(reg.Path())
	if err != nil {
		return nil, fmt.Errorf("hash registry before dry run: %w", err)
	}
	log.Info("dry run: tracker will not be invoked; registry is restored afterwards")
	return &dryRun{reg: reg, snap: reg.Snapshot(), digest: digest, log: log}, nil
}

// finish restores every snapshotted triple and checks the rewritten resource
// against the pre-run digest.
func (d *dryRun) finish() error {
	if err := d.reg.Restore(d.snap); err != nil {
		return fmt.Errorf("restore registry after dry run: %w", err)
	}
	after, err := runstore.Digest(d.reg.Path())
	if err != nil {
		d.log.Warn("cannot hash registry after dry run", zap.Error(err))
		return nil
	}
	if after != d.digest {
		d.log.Warn("registry restored with formatting-only differences", zap.String("registry", d.reg.Path()))
	}
	return nil
}

// simulate stands in for a tracker invocation: the session name is
// predicted and the classification is forced to done.
func (r *runner) simulate(job model.JobRecord, seq int) JobOutcome {
	out := JobOutcome{Seq: seq, SettingsFile: job.SettingsFile, Video: job.Video}
	sessionDir, err := r.resolver.Predict(job.Video)
	if err != nil {
		r.log.Warn("session prediction failed",
			zap.String("settings_file", job.SettingsFile),
			zap.String("video", job.Video),
			zap.Error(err),
		)
		out.Status = model.StatusFailed
		out.Reason = classify.ReasonUnresolved
		return out
	}
	out.Status = model.StatusDone
	out.SessionFolder = runstore.RelTo(r.opts.Workspace, sessionDir)
	return out
}
