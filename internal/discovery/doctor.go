package discovery

import (
	"os"
	"strings"

	"trackq/internal/registry"
	"trackq/internal/runstore"
	"trackq/internal/tracker"
)

type DoctorOptions struct {
	RegistryPath  string
	SettingsDir   string
	OutputRoot    string
	LogsDir       string
	TrackerBinary string
}

type DoctorResult struct {
	OK     bool          `json:"ok"`
	Checks []DoctorCheck `json:"checks"`
}

type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type ScaffoldOptions struct {
	Workspace   string
	SettingsDir string
	OutputRoot  string
	LogsDir     string
	ConfigPath  string
	ConfigBody  []byte
}

type ScaffoldResult struct {
	Workspace     string   `json:"workspace"`
	CreatedDirs   []string `json:"created_dirs"`
	CreatedConfig bool     `json:"created_config"`
}

func Doctor(opts DoctorOptions) (DoctorResult, error) {
	checks := make([]DoctorCheck, 0, 5)

	dep := tracker.NewClient(opts.TrackerBinary).DependencyStatus()
	checks = append(checks, DoctorCheck{
		Name:    "dependency:" + dep.Binary,
		OK:      dep.TrackerFound,
		Message: dependencyMessage(dep.TrackerFound, dep.TrackerPath, dep.Binary),
	})

	settingsOK := runstore.DirExists(opts.SettingsDir)
	settingsMsg := "found"
	if !settingsOK {
		settingsMsg = "missing: " + opts.SettingsDir
	}
	checks = append(checks, DoctorCheck{Name: "directory:settings", OK: settingsOK, Message: settingsMsg})

	outOK, outMsg := ensureWritableDir(opts.OutputRoot)
	checks = append(checks, DoctorCheck{Name: "directory:output_root", OK: outOK, Message: outMsg})

	logsOK, logsMsg := ensureWritableDir(opts.LogsDir)
	checks = append(checks, DoctorCheck{Name: "directory:logs", OK: logsOK, Message: logsMsg})

	regOK := registry.Exists(opts.RegistryPath)
	regMsg := "found"
	if !regOK {
		regMsg = "missing (run `trackq init`)"
	}
	checks = append(checks, DoctorCheck{Name: "registry", OK: regOK, Message: regMsg})

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return DoctorResult{OK: ok, Checks: checks}, nil
}

// Scaffold creates the workspace layout and a starter config file. Existing
// directories and an existing config are left alone.
func Scaffold(opts ScaffoldOptions) (ScaffoldResult, error) {
	res := ScaffoldResult{Workspace: opts.Workspace, CreatedDirs: []string{}}
	for _, dir := range []string{opts.Workspace, opts.SettingsDir, opts.OutputRoot, opts.LogsDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if runstore.DirExists(dir) {
			continue
		}
		if err := runstore.Mkdir(dir); err != nil {
			return ScaffoldResult{}, err
		}
		res.CreatedDirs = append(res.CreatedDirs, dir)
	}
	if strings.TrimSpace(opts.ConfigPath) != "" && len(opts.ConfigBody) > 0 && !runstore.FileExists(opts.ConfigPath) {
		if err := runstore.WriteBytes(opts.ConfigPath, opts.ConfigBody); err != nil {
			return ScaffoldResult{}, err
		}
		res.CreatedConfig = true
	}
	return res, nil
}

func dependencyMessage(ok bool, path, name string) string {
	if ok {
		return name + " found at " + path
	}
	return name + " not found on PATH"
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, ".trackq-check-*.tmp")
	if err != nil {
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}
