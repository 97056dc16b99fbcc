package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"trackq/internal/registry"
	"trackq/internal/runstore"
	"trackq/internal/settings"
)

const DefaultSettingsGlob = "**/*.toml"

var ErrNoSettingsFound = errors.New("no settings documents found")

type Options struct {
	Workspace    string
	RegistryPath string
	SettingsDir  string
	SettingsGlob string
}

type Result struct {
	RegistryPath string   `json:"registry_path"`
	Created      bool     `json:"created"`
	Found        int      `json:"found"`
	Added        int      `json:"added"`
	Total        int      `json:"total"`
	NoVideo      []string `json:"no_video,omitempty"`
}

// Discover lists settings documents under dir matching a doublestar
// pattern, as sorted absolute paths.
func Discover(dir, pattern string) ([]string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("settings directory is required")
	}
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultSettingsGlob
	}
	if !runstore.DirExists(dir) {
		return nil, fmt.Errorf("%w: directory %s does not exist", ErrNoSettingsFound, dir)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve settings directory %s: %w", dir, err)
	}

	matches, err := doublestar.Glob(os.DirFS(absDir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q under %s: %w", pattern, absDir, err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if isHiddenPath(m) {
			continue
		}
		out = append(out, filepath.Join(absDir, filepath.FromSlash(m)))
	}
	slices.Sort(out)
	return out, nil
}

// Register adds a pending record for every settings document not yet in the
// registry, creating the registry on first use. Existing rows are untouched.
func Register(opts Options) (Result, error) {
	files, err := Discover(opts.SettingsDir, opts.SettingsGlob)
	if err != nil {
		return Result{}, err
	}
	if len(files) == 0 {
		return Result{}, fmt.Errorf("%w under %s", ErrNoSettingsFound, opts.SettingsDir)
	}

	res := Result{RegistryPath: opts.RegistryPath, Found: len(files)}
	cands := make([]registry.Candidate, 0, len(files))
	for _, f := range files {
		c, ok := candidateFor(opts.Workspace, f)
		if !ok {
			res.NoVideo = append(res.NoVideo, c.SettingsFile)
		}
		cands = append(cands, c)
	}

	reg, err := registry.Load(opts.RegistryPath)
	if err != nil {
		if !errors.Is(err, registry.ErrRegistryMissing) {
			return Result{}, err
		}
		reg = registry.Create(opts.RegistryPath)
		res.Created = true
	}

	added, err := reg.RegisterNew(cands)
	if err != nil {
		return Result{}, err
	}
	res.Added = added
	res.Total = reg.Len()
	return res, nil
}

// SettingsFiles is Discover for callers that only need the paths, such as
// fix-paths.
func SettingsFiles(opts Options) ([]string, error) {
	files, err := Discover(opts.SettingsDir, opts.SettingsGlob)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoSettingsFound, opts.SettingsDir)
	}
	return files, nil
}

func candidateFor(workspace, file string) (registry.Candidate, bool) {
	c := registry.Candidate{SettingsFile: runstore.RelTo(workspace, file)}
	video, err := settings.VideoName(file)
	if err != nil || video == "" {
		return c, false
	}
	info := settings.ParseVideoName(video)
	c.Video = video
	c.Datetime = info.Datetime
	c.Part = info.Part
	return c, true
}

func isHiddenPath(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
