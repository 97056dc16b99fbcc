package collect

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"trackq/internal/model"
	"trackq/internal/registry"
	"trackq/internal/runstore"
)

const DefaultTrajectoryPath = "trajectories/validated.npy"

const (
	ActionCopied    = "copied"
	ActionUnchanged = "unchanged"
	ActionMissing   = "missing"
	ActionError     = "error"
)

type Options struct {
	Workspace      string
	RegistryPath   string
	CopyDir        string
	TrajectoryPath string
	Logger         *zap.Logger
}

type Result struct {
	CopyDir   string `json:"copy_dir"`
	Done      int    `json:"done"`
	Copied    int    `json:"copied"`
	Unchanged int    `json:"unchanged"`
	Missing   int    `json:"missing"`
	Errors    int    `json:"errors"`
	Bytes     int64  `json:"bytes"`
	Items     []Item `json:"items"`
}

type Item struct {
	SettingsFile string `json:"settings_file"`
	Session      string `json:"session"`
	Source       string `json:"source,omitempty"`
	Dest         string `json:"dest,omitempty"`
	Action       string `json:"action"`
	Bytes        int64  `json:"bytes,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Copy gathers the trajectory artifact of every done job into one flat
// directory, naming each file after its session. Jobs without an artifact
// produce a warning and nothing else.
func Copy(opts Options) (Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	rel := strings.TrimSpace(opts.TrajectoryPath)
	if rel == "" {
		rel = DefaultTrajectoryPath
	}
	if strings.TrimSpace(opts.CopyDir) == "" {
		return Result{}, fmt.Errorf("copy directory is required")
	}

	reg, err := registry.Load(opts.RegistryPath)
	if err != nil {
		return Result{}, err
	}
	res := Result{CopyDir: opts.CopyDir, Items: []Item{}}
	ext := filepath.Ext(rel)

	for _, rec := range reg.Records() {
		if rec.Status != model.StatusDone {
			continue
		}
		res.Done++
		item := Item{SettingsFile: rec.SettingsFile, Session: rec.SessionFolder}
		jobLog := log.With(zap.String("settings_file", rec.SettingsFile), zap.String("session", rec.SessionFolder))

		if strings.TrimSpace(rec.SessionFolder) == "" {
			item.Action = ActionMissing
			res.Missing++
			res.Items = append(res.Items, item)
			jobLog.Warn("done job has no session folder")
			continue
		}
		sessionDir := runstore.Resolve(opts.Workspace, rec.SessionFolder)
		item.Source = filepath.Join(sessionDir, filepath.FromSlash(rel))
		item.Dest = filepath.Join(opts.CopyDir, sessionName(rec.SessionFolder)+ext)

		switch {
		case !runstore.FileExists(item.Source):
			item.Action = ActionMissing
			res.Missing++
			jobLog.Warn("trajectory artifact missing", zap.String("path", item.Source))
		case runstore.SameContent(item.Source, item.Dest):
			item.Action = ActionUnchanged
			res.Unchanged++
		default:
			n, err := runstore.CopyFile(item.Source, item.Dest)
			if err != nil {
				item.Action = ActionError
				item.Error = err.Error()
				res.Errors++
				jobLog.Warn("trajectory copy failed", zap.Error(err))
				break
			}
			item.Action = ActionCopied
			item.Bytes = n
			res.Copied++
			res.Bytes += n
		}
		res.Items = append(res.Items, item)
	}
	return res, nil
}

// Summary is the one-line report printed after a copy.
func (r Result) Summary() string {
	return fmt.Sprintf("copied %d of %d done jobs (%s) to %s; %d unchanged, %d missing, %d errors",
		r.Copied, r.Done, humanize.Bytes(uint64(r.Bytes)), r.CopyDir, r.Unchanged, r.Missing, r.Errors)
}

func sessionName(folder string) string {
	folder = strings.TrimRight(strings.ReplaceAll(folder, `\`, "/"), "/")
	if i := strings.LastIndexByte(folder, '/'); i >= 0 {
		return folder[i+1:]
	}
	return folder
}
