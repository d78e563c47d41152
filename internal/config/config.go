package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hexwatch/internal/logging"

	"gopkg.in/yaml.v3"
)

const (
	DefaultGlamourStyle = "dark"
	DefaultAddr         = ":3847"
	DefaultDebounce     = 500 * time.Millisecond
	DefaultMaxSessions  = 50
	DefaultLogLevel     = "info"
)

type AppConfig struct {
	ClaudeHome   string        `yaml:"claude_home"`
	ProjectsDir  string        `yaml:"projects_dir"`
	Addr         string        `yaml:"addr"`
	DBPath       string        `yaml:"db_path"`
	LogLevel     string        `yaml:"log_level"`
	Debounce     time.Duration `yaml:"debounce"`
	MaxSessions  int           `yaml:"max_sessions"`
	ReportDir    string        `yaml:"report_dir"`
	GlamourStyle string        `yaml:"glamour_style"`
}

// Overrides carries values given on the command line. Empty and zero fields
// are treated as unset.
type Overrides struct {
	ConfigPath  string
	ClaudeHome  string
	ProjectsDir string
	Addr        string
	DBPath      string
	LogLevel    string
	Debounce    time.Duration
	MaxSessions int
	ReportDir   string
}

// Load resolves the configuration. Later sources win: defaults, then the YAML
// file, then the environment, then flags.
func Load(flags Overrides, getenv func(string) string) (AppConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := AppConfig{
		Addr:         DefaultAddr,
		LogLevel:     DefaultLogLevel,
		Debounce:     DefaultDebounce,
		MaxSessions:  DefaultMaxSessions,
		GlamourStyle: DefaultGlamourStyle,
	}

	if flags.ConfigPath != "" {
		if err := loadFile(flags.ConfigPath, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg, getenv)
	applyFlags(&cfg, flags)

	var err error
	cfg.ClaudeHome, err = DetectClaudeHome(cfg.ClaudeHome)
	if err != nil {
		return cfg, err
	}
	if cfg.ProjectsDir == "" {
		cfg.ProjectsDir = filepath.Join(cfg.ClaudeHome, "projects")
	}
	cfg.ProjectsDir = expandHome(cfg.ProjectsDir)
	cfg.DBPath = expandHome(cfg.DBPath)
	cfg.ReportDir = expandHome(cfg.ReportDir)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return cfg, fmt.Errorf("create db dir: %w", err)
		}
	}
	return cfg, nil
}

func (c AppConfig) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("debounce must be positive, got %s", c.Debounce))
	}
	if c.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions))
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Level returns the parsed log level, falling back to Info.
func (c AppConfig) Level() logging.Level {
	if level, ok := logging.ParseLevel(c.LogLevel); ok {
		return level
	}
	return logging.LevelInfo
}

func loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *AppConfig, getenv func(string) string) {
	if v := getenv("CLAUDE_HOME"); v != "" {
		cfg.ClaudeHome = v
	}
	if v := getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	if v := getenv("HEXWATCH_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func applyFlags(cfg *AppConfig, f Overrides) {
	if f.ClaudeHome != "" {
		cfg.ClaudeHome = f.ClaudeHome
	}
	if f.ProjectsDir != "" {
		cfg.ProjectsDir = f.ProjectsDir
	}
	if f.Addr != "" {
		cfg.Addr = f.Addr
	}
	if f.DBPath != "" {
		cfg.DBPath = f.DBPath
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.Debounce > 0 {
		cfg.Debounce = f.Debounce
	}
	if f.MaxSessions > 0 {
		cfg.MaxSessions = f.MaxSessions
	}
	if f.ReportDir != "" {
		cfg.ReportDir = f.ReportDir
	}
}

func DetectClaudeHome(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Clean(expandHome(explicit)), nil
	}
	if fromEnv := os.Getenv("CLAUDE_HOME"); fromEnv != "" {
		return filepath.Clean(fromEnv), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".claude"), nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
