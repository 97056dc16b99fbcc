package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackq/internal/classify"
	"trackq/internal/model"
	"trackq/internal/registry"
	"trackq/internal/tracker"
)

type fixture struct {
	ws       string
	registry string
	sessions string
	logs     string
}

func newFixture(t *testing.T, videos ...string) fixture {
	t.Helper()
	ws := t.TempDir()
	fx := fixture{
		ws:       ws,
		registry: filepath.Join(ws, "jobs.csv"),
		sessions: filepath.Join(ws, "sessions"),
		logs:     filepath.Join(ws, "logs"),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "settings"), 0o755))
	require.NoError(t, os.MkdirAll(fx.sessions, 0o755))

	cands := make([]registry.Candidate, 0, len(videos))
	for i, v := range videos {
		rel := fmt.Sprintf("settings/job%02d.toml", i)
		body := fmt.Sprintf("video_paths = [\"/videos/%s.avi\"]\n", v)
		require.NoError(t, os.WriteFile(filepath.Join(ws, filepath.FromSlash(rel)), []byte(body), 0o644))
		cands = append(cands, registry.Candidate{SettingsFile: rel, Video: v})
	}
	_, err := registry.Create(fx.registry).RegisterNew(cands)
	require.NoError(t, err)
	return fx
}

func (fx fixture) options(tr Tracker) Options {
	return Options{
		Workspace:    fx.ws,
		RegistryPath: fx.registry,
		OutputRoot:   fx.sessions,
		LogsDir:      fx.logs,
		Tracker:      tr,
		Out:          io.Discard,
		Now:          func() time.Time { return time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC) },
	}
}

func (fx fixture) record(t *testing.T, key string) model.JobRecord {
	t.Helper()
	reg, err := registry.Load(fx.registry)
	require.NoError(t, err)
	rec, ok := reg.Get(key)
	require.True(t, ok, "missing record %s", key)
	return rec
}

// stubTracker simulates the tracker by creating session directories the way
// the real tool names them.
type stubTracker struct {
	calls []tracker.Request
	run   func(n int, req tracker.Request) error
}

func (s *stubTracker) Track(_ context.Context, req tracker.Request) error {
	s.calls = append(s.calls, req)
	if s.run == nil {
		return nil
	}
	return s.run(len(s.calls), req)
}

func makeSession(t *testing.T, root, name, log string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, classify.DefaultLogName), []byte(log), 0o644))
}

func TestRun_SingleJobBecomesDone(t *testing.T) {
	fx := newFixture(t, "clip-00")
	tr := &stubTracker{run: func(_ int, req tracker.Request) error {
		makeSession(t, req.OutputRoot, "session_clip-00", "INFO Success\n")
		return nil
	}}

	res, err := Run(context.Background(), fx.options(tr))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Done)
	assert.Equal(t, 0, res.Remaining)
	assert.NotEmpty(t, res.RunID)

	rec := fx.record(t, "settings/job00.toml")
	assert.Equal(t, model.StatusDone, rec.Status)
	assert.Equal(t, "sessions/session_clip-00", rec.SessionFolder)
	assert.Equal(t, "2026-10-18T09:30:00Z", rec.Timestamp)

	require.Len(t, tr.calls, 1)
	assert.Equal(t, filepath.Join(fx.ws, "settings", "job00.toml"), tr.calls[0].SettingsPath)
	assert.Equal(t, fx.sessions, tr.calls[0].OutputRoot)
	assert.Empty(t, tr.calls[0].KnowledgeTransfer)
	assert.FileExists(t, filepath.Join(fx.logs, "session_clip-00.log"))
}

func TestRun_OutcomesFollowLogNotExitStatus(t *testing.T) {
	cases := []struct {
		name       string
		log        string
		trackErr   error
		noSession  bool
		wantStatus string
		wantReason string
	}{
		{name: "abnormal exit with success log", log: "Success", trackErr: errors.New("idtrackerai exited abnormally: exit status 1"), wantStatus: model.StatusDone},
		{name: "critical wins over success", log: "Success\nCRITICAL GPU lost\n", wantStatus: model.StatusFailed, wantReason: classify.ReasonCriticalMarker},
		{name: "no markers", log: "frame 10/100\n", wantStatus: model.StatusFailed, wantReason: classify.ReasonNoSuccessMarker},
		{name: "no session created", noSession: true, trackErr: errors.New("boom"), wantStatus: model.StatusFailed, wantReason: classify.ReasonUnresolved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t, "clip-00")
			tr := &stubTracker{run: func(_ int, req tracker.Request) error {
				if !tc.noSession {
					makeSession(t, req.OutputRoot, "session_clip-00", tc.log)
				}
				return tc.trackErr
			}}

			res, err := Run(context.Background(), fx.options(tr))
			require.NoError(t, err)
			require.Len(t, res.Jobs, 1)
			assert.Equal(t, tc.wantStatus, res.Jobs[0].Status)
			assert.Equal(t, tc.wantReason, res.Jobs[0].Reason)
			assert.Equal(t, tc.wantStatus, fx.record(t, "settings/job00.toml").Status)
		})
	}
}

func TestRun_RepeatedVideoGetsDistinctSessions(t *testing.T) {
	fx := newFixture(t, "clip-00", "clip-00")
	tr := &stubTracker{run: func(n int, req tracker.Request) error {
		name := "session_clip-00"
		if n > 1 {
			name = fmt.Sprintf("session_clip-00_%d", n-1)
		}
		makeSession(t, req.OutputRoot, name, "Success")
		return nil
	}}

	res, err := Run(context.Background(), fx.options(tr))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Done)
	assert.Equal(t, "sessions/session_clip-00", fx.record(t, "settings/job00.toml").SessionFolder)
	assert.Equal(t, "sessions/session_clip-00_1", fx.record(t, "settings/job01.toml").SessionFolder)
}

func TestRun_ExtraDirectoryMakesJobFailedAndBatchContinues(t *testing.T) {
	fx := newFixture(t, "clip-00", "clip-01")
	tr := &stubTracker{run: func(n int, req tracker.Request) error {
		if n == 1 {
			makeSession(t, req.OutputRoot, "session_clip-00", "Success")
			makeSession(t, req.OutputRoot, "stray", "")
			return nil
		}
		makeSession(t, req.OutputRoot, "session_clip-01", "Success")
		return nil
	}}

	res, err := Run(context.Background(), fx.options(tr))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	first := fx.record(t, "settings/job00.toml")
	assert.Equal(t, model.StatusFailed, first.Status)
	assert.Empty(t, first.SessionFolder)
	assert.Equal(t, model.StatusDone, fx.record(t, "settings/job01.toml").Status)
}

func TestRun_SelectsOnlyPendingAndFailed(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "jobs.csv")
	content := "settings_file,video,datetime,part,status,session_folder,timestamp,notes\n" +
		"a.toml,a,,,done,sessions/session_a,t0,\n" +
		"b.toml,b,,,skip,,,hands off\n" +
		"c.toml,c,,,failed,,t0,\n" +
		"d.toml,d,,,archived,,,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tr := &stubTracker{run: func(_ int, req tracker.Request) error {
		makeSession(t, req.OutputRoot, "session_c", "Success")
		return nil
	}}
	fx := fixture{ws: ws, registry: path, sessions: filepath.Join(ws, "sessions"), logs: filepath.Join(ws, "logs")}
	res, err := Run(context.Background(), fx.options(tr))
	require.NoError(t, err)
	require.Len(t, tr.calls, 1)
	assert.Equal(t, filepath.Join(ws, "c.toml"), tr.calls[0].SettingsPath)
	assert.Equal(t, 1, res.Eligible)

	assert.Equal(t, model.StatusSkip, fx.record(t, "b.toml").Status)
	assert.Equal(t, "archived", fx.record(t, "d.toml").Status)
	assert.Equal(t, model.StatusDone, fx.record(t, "c.toml").Status)
}

func TestRun_PassesKnowledgeTransferWhenColumnPresent(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "jobs.csv")
	content := "settings_file,video,datetime,part,status,session_folder,timestamp,notes,knowledge_transfer\n" +
		"a.toml,a,,,pending,,,,models/ref\n" +
		"b.toml,b,,,pending,,,,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tr := &stubTracker{}
	fx := fixture{ws: ws, registry: path, sessions: filepath.Join(ws, "sessions"), logs: filepath.Join(ws, "logs")}
	_, err := Run(context.Background(), fx.options(tr))
	require.NoError(t, err)
	require.Len(t, tr.calls, 2)
	assert.Equal(t, filepath.Join(ws, "models", "ref"), tr.calls[0].KnowledgeTransfer)
	assert.Empty(t, tr.calls[1].KnowledgeTransfer)
}

func TestRun_InterruptLeavesInFlightJobUnpersisted(t *testing.T) {
	fx := newFixture(t, "clip-00", "clip-01", "clip-02")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &stubTracker{run: func(n int, req tracker.Request) error {
		if n == 2 {
			cancel()
			return context.Canceled
		}
		makeSession(t, req.OutputRoot, fmt.Sprintf("session_clip-%02d", n-1), "Success")
		return nil
	}}

	res, err := Run(ctx, fx.options(tr))
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 1, res.Processed)
	assert.Len(t, tr.calls, 2)

	assert.Equal(t, model.StatusDone, fx.record(t, "settings/job00.toml").Status)
	assert.Equal(t, model.StatusPending, fx.record(t, "settings/job01.toml").Status)
	assert.Equal(t, model.StatusPending, fx.record(t, "settings/job02.toml").Status)
}

func TestRun_MaxJobsLimitsBatch(t *testing.T) {
	fx := newFixture(t, "a", "b", "c")
	tr := &stubTracker{}
	opts := fx.options(tr)
	opts.MaxJobs = 2

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Eligible)
	assert.Equal(t, 2, res.Processed)
	assert.Len(t, tr.calls, 2)
	assert.Equal(t, 3, res.Remaining)
}

func TestRun_MissingRegistryIsFatal(t *testing.T) {
	ws := t.TempDir()
	fx := fixture{ws: ws, registry: filepath.Join(ws, "jobs.csv")}
	_, err := Run(context.Background(), fx.options(&stubTracker{}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrRegistryMissing))
}

func TestRun_DryRunRestoresRegistryByteForByte(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "jobs.csv")
	content := "settings_file,video,datetime,part,status,session_folder,timestamp,notes,operator\n" +
		"settings/a.toml,clip-00,,00,pending,,,,ana\n" +
		"settings/b.toml,clip-00,,00,failed,sessions/old,2026-01-01T00:00:00Z,retry me,ben\n" +
		"settings/c.toml,clip-01,,01,done,sessions/session_clip-01,2026-01-01T00:00:00Z,,ana\n" +
		"settings/d.toml,clip-02,,02,skip,,,bad video,ben\n" +
		"settings/e.toml,,,,pending,,,,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	fx := fixture{ws: ws, registry: path, sessions: filepath.Join(ws, "sessions"), logs: filepath.Join(ws, "logs")}
	opts := fx.options(nil)
	opts.DryRun = true

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	require.Len(t, res.Jobs, 3)
	assert.Equal(t, "sessions/session_clip-00", res.Jobs[0].SessionFolder)
	assert.Equal(t, model.StatusDone, res.Jobs[0].Status)
	assert.Equal(t, "sessions/session_clip-00_1", res.Jobs[1].SessionFolder)
	assert.Equal(t, model.StatusDone, res.Jobs[1].Status)
	assert.Equal(t, model.StatusFailed, res.Jobs[2].Status)
	assert.Equal(t, classify.ReasonUnresolved, res.Jobs[2].Reason)
	assert.Equal(t, 3, res.Remaining)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
	assert.NoDirExists(t, filepath.Join(fx.sessions, "session_clip-00"))
}

func TestRun_RegistryRewriteFailureDoesNotStopBatch(t *testing.T) {
	fx := newFixture(t, "clip-00", "clip-01")
	tr := &stubTracker{run: func(n int, req tracker.Request) error {
		makeSession(t, req.OutputRoot, fmt.Sprintf("session_clip-%02d", n-1), "INFO Success\n")
		switch n {
		case 1:
			// A non-empty directory in place of the registry makes the
			// atomic rename fail regardless of privileges.
			require.NoError(t, os.Remove(fx.registry))
			require.NoError(t, os.MkdirAll(fx.registry, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(fx.registry, "lock"), nil, 0o644))
		case 2:
			require.NoError(t, os.RemoveAll(fx.registry))
		}
		return nil
	}}

	res, err := Run(context.Background(), fx.options(tr))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Done)
	require.Len(t, res.Jobs, 2)
	assert.False(t, res.Jobs[0].Persisted)
	assert.Equal(t, model.StatusDone, res.Jobs[0].Status)
	assert.True(t, res.Jobs[1].Persisted)

	// The next successful rewrite carries the earlier outcome with it.
	assert.Equal(t, model.StatusDone, fx.record(t, "settings/job00.toml").Status)
	assert.Equal(t, model.StatusDone, fx.record(t, "settings/job01.toml").Status)
}

func TestRun_LogArchiveFailureIsNotFatal(t *testing.T) {
	fx := newFixture(t, "clip-00", "clip-01")
	blocked := filepath.Join(fx.logs, "session_clip-00.log")
	require.NoError(t, os.MkdirAll(blocked, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(blocked, "keep"), nil, 0o644))

	tr := &stubTracker{run: func(n int, req tracker.Request) error {
		makeSession(t, req.OutputRoot, fmt.Sprintf("session_clip-%02d", n-1), "INFO Success\n")
		return nil
	}}

	res, err := Run(context.Background(), fx.options(tr))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Done)
	require.Len(t, res.Jobs, 2)
	assert.Empty(t, res.Jobs[0].ArchivedLog)
	assert.True(t, res.Jobs[0].Persisted)
	assert.Equal(t, filepath.Join(fx.logs, "session_clip-01.log"), res.Jobs[1].ArchivedLog)

	assert.Equal(t, model.StatusDone, fx.record(t, "settings/job00.toml").Status)
	assert.DirExists(t, blocked)
	assert.FileExists(t, filepath.Join(fx.logs, "session_clip-01.log"))
}
