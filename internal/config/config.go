package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"trackq/internal/runstore"
)

const (
	EnvPrefix         = "TRACKQ"
	DefaultConfigName = "trackq.yaml"
)

type Config struct {
	Workspace    string `mapstructure:"workspace" yaml:"workspace"`
	Registry     string `mapstructure:"registry" yaml:"registry"`
	SettingsDir  string `mapstructure:"settings_dir" yaml:"settings_dir"`
	SettingsGlob string `mapstructure:"settings_glob" yaml:"settings_glob"`
	OutputRoot   string `mapstructure:"output_root" yaml:"output_root"`
	LogsDir      string `mapstructure:"logs_dir" yaml:"logs_dir"`
	CopyDir      string `mapstructure:"copy_dir" yaml:"copy_dir"`

	Tracker TrackerConfig `mapstructure:"tracker" yaml:"tracker"`
	Markers MarkersConfig `mapstructure:"markers" yaml:"markers"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Track   TrackConfig   `mapstructure:"track" yaml:"track"`

	// ConfigFile is the file the values were read from, empty when none.
	ConfigFile string `mapstructure:"-" yaml:"-"`
}

type TrackerConfig struct {
	Binary         string        `mapstructure:"binary" yaml:"binary"`
	LogName        string        `mapstructure:"log_name" yaml:"log_name"`
	SessionPrefix  string        `mapstructure:"session_prefix" yaml:"session_prefix"`
	TrajectoryPath string        `mapstructure:"trajectory_path" yaml:"trajectory_path"`
	ExtraArgs      []string      `mapstructure:"extra_args" yaml:"extra_args"`
	KillGrace      time.Duration `mapstructure:"kill_grace" yaml:"kill_grace"`
}

type MarkersConfig struct {
	Success  string `mapstructure:"success" yaml:"success"`
	Critical string `mapstructure:"critical" yaml:"critical"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

type TrackConfig struct {
	Progress bool `mapstructure:"progress" yaml:"progress"`
	FixPaths bool `mapstructure:"fix_paths" yaml:"fix_paths"`
}

// Load builds the configuration from defaults, the workspace config file (or
// configFile when given), TRACKQ_* environment variables and overrides, in
// increasing precedence. Relative paths are resolved against the workspace.
func Load(ctx context.Context, configFile string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, o := range overrides {
		applyOverrides(v, "", o)
	}

	configFile = strings.TrimSpace(configFile)
	if configFile == "" {
		candidate := filepath.Join(workspaceHint(v.GetString("workspace")), DefaultConfigName)
		if runstore.FileExists(candidate) {
			configFile = candidate
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigFile = configFile
	if strings.TrimSpace(cfg.Workspace) == "" && configFile != "" {
		cfg.Workspace = filepath.Dir(configFile)
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace", "")
	v.SetDefault("registry", "jobs.csv")
	v.SetDefault("settings_dir", "settings")
	v.SetDefault("settings_glob", "**/*.toml")
	v.SetDefault("output_root", "sessions")
	v.SetDefault("logs_dir", "logs")
	v.SetDefault("copy_dir", "trajectories")

	v.SetDefault("tracker.binary", "idtrackerai")
	v.SetDefault("tracker.log_name", "idtrackerai.log")
	v.SetDefault("tracker.session_prefix", "session_")
	v.SetDefault("tracker.trajectory_path", "trajectories/validated.npy")
	v.SetDefault("tracker.extra_args", []string{})
	v.SetDefault("tracker.kill_grace", "10s")

	v.SetDefault("markers.success", "Success")
	v.SetDefault("markers.critical", "CRITICAL")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 20)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 0)

	v.SetDefault("track.progress", true)
	v.SetDefault("track.fix_paths", true)
}

// applyOverrides sets nested override maps as dotted keys so they win over
// env and file values.
func applyOverrides(v *viper.Viper, prefix string, values map[string]any) {
	for k, val := range values {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			applyOverrides(v, key, nested)
			continue
		}
		v.Set(key, val)
	}
}

func workspaceHint(ws string) string {
	if strings.TrimSpace(ws) == "" {
		return "."
	}
	return ws
}

func (c *Config) resolvePaths() error {
	ws, err := filepath.Abs(workspaceHint(c.Workspace))
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	c.Workspace = ws
	for _, p := range []*string{&c.Registry, &c.SettingsDir, &c.OutputRoot, &c.LogsDir, &c.CopyDir} {
		*p = runstore.Resolve(ws, filepath.FromSlash(strings.TrimSpace(*p)))
	}
	if c.Logging.File != "" {
		c.Logging.File = runstore.Resolve(ws, c.Logging.File)
	}
	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Registry) == "" {
		return fmt.Errorf("config: registry path is empty")
	}
	if strings.TrimSpace(c.Tracker.Binary) == "" {
		return fmt.Errorf("config: tracker.binary is empty")
	}
	if c.Markers.Success == "" || c.Markers.Critical == "" {
		return fmt.Errorf("config: markers.success and markers.critical must be set")
	}
	if !doublestar.ValidatePattern(c.SettingsGlob) {
		return fmt.Errorf("config: invalid settings_glob %q", c.SettingsGlob)
	}
	if c.Tracker.KillGrace < 0 {
		return fmt.Errorf("config: tracker.kill_grace must not be negative")
	}
	return nil
}

// DefaultFile renders the starter config written into a new workspace.
// Paths stay relative so the workspace can be moved.
func DefaultFile() ([]byte, error) {
	doc := map[string]any{
		"registry":      "jobs.csv",
		"settings_dir":  "settings",
		"settings_glob": "**/*.toml",
		"output_root":   "sessions",
		"logs_dir":      "logs",
		"copy_dir":      "trajectories",
		"tracker": map[string]any{
			"binary":          "idtrackerai",
			"log_name":        "idtrackerai.log",
			"session_prefix":  "session_",
			"trajectory_path": "trajectories/validated.npy",
			"kill_grace":      "10s",
		},
		"markers": map[string]any{
			"success":  "Success",
			"critical": "CRITICAL",
		},
		"logging": map[string]any{
			"level": "info",
		},
		"track": map[string]any{
			"progress":  true,
			"fix_paths": true,
		},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render default config: %w", err)
	}
	return append([]byte("# trackq workspace configuration\n"), out...), nil
}
