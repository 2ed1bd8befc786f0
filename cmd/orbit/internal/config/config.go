package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
	"gopkg.in/yaml.v3"
)

// FileName is the optional project configuration file.
const FileName = "orbit.yaml"

// Defaults applied by Resolve.
const (
	DefaultComponents = "components"
	DefaultLogLevel   = "info"
	DefaultIdleMin    = 5 * time.Millisecond
	DefaultIdleMax    = time.Second
)

// Config represents the optional orbit.yaml configuration.
type Config struct {
	App         AppConfig         `yaml:"app"`
	Components  string            `yaml:"components,omitempty"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Log         LogConfig         `yaml:"log"`
	Loop        LoopConfig        `yaml:"loop"`
}

// AppConfig contains application metadata.
type AppConfig struct {
	Name string `yaml:"name,omitempty"`
}

// DiagnosticsConfig configures the diagnostics HTTP server.
type DiagnosticsConfig struct {
	// Addr is the listen address. Empty disables the server.
	Addr string `yaml:"addr,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level   string `yaml:"level,omitempty"`
	Verbose bool   `yaml:"verbose,omitempty"`
	JSON    bool   `yaml:"json,omitempty"`
}

// LoopConfig bounds the host loop's idle backoff.
type LoopConfig struct {
	IdleMin time.Duration `yaml:"idleMin,omitempty"`
	IdleMax time.Duration `yaml:"idleMax,omitempty"`
}

// Resolved contains resolved configuration values.
type Resolved struct {
	Root            string
	ModulePath      string
	AppName         string
	ComponentsDir   string
	DiagnosticsAddr string
	LogLevel        zerolog.Level
	Verbose         bool
	JSONLogs        bool
	IdleMin         time.Duration
	IdleMax         time.Duration
}

// LoadOptional reads orbit.yaml if present. Unknown keys are errors.
func LoadOptional(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}

	return &cfg, nil
}

// Resolve loads orbit.yaml (if present) and resolves defaults. A go.mod in
// dir is optional; when present its module path names the app.
func Resolve(dir string) (*Resolved, error) {
	modulePath, err := modulePath(dir)
	if err != nil {
		return nil, err
	}

	cfg, err := LoadOptional(dir)
	if err != nil {
		return nil, err
	}

	appName := strings.TrimSpace(cfg.App.Name)
	if appName == "" {
		appName = defaultAppName(modulePath, dir)
	}

	components := strings.TrimSpace(cfg.Components)
	if components == "" {
		components = DefaultComponents
	}
	if !filepath.IsAbs(components) {
		components = filepath.Join(dir, components)
	}

	levelName := strings.TrimSpace(cfg.Log.Level)
	if levelName == "" {
		levelName = DefaultLogLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	addr := strings.TrimSpace(cfg.Diagnostics.Addr)
	if err := validateAddr(addr); err != nil {
		return nil, err
	}

	idleMin, idleMax := cfg.Loop.IdleMin, cfg.Loop.IdleMax
	if idleMin == 0 {
		idleMin = DefaultIdleMin
	}
	if idleMax == 0 {
		idleMax = max(DefaultIdleMax, idleMin)
	}
	if idleMin < 0 || idleMax < 0 {
		return nil, fmt.Errorf("loop idle durations must be positive")
	}
	if idleMax < idleMin {
		return nil, fmt.Errorf("loop.idleMax (%s) is below loop.idleMin (%s)", idleMax, idleMin)
	}

	return &Resolved{
		Root:            dir,
		ModulePath:      modulePath,
		AppName:         appName,
		ComponentsDir:   components,
		DiagnosticsAddr: addr,
		LogLevel:        level,
		Verbose:         cfg.Log.Verbose,
		JSONLogs:        cfg.Log.JSON,
		IdleMin:         idleMin,
		IdleMax:         idleMax,
	}, nil
}

// FindProjectRoot walks up from the current directory to the nearest
// directory holding orbit.yaml or go.mod. It falls back to the current
// directory.
func FindProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := cwd
	for {
		for _, marker := range []string{FileName, "go.mod"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return cwd, nil
		}
		dir = parent
	}
}

func modulePath(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}
	path := modfile.ModulePath(data)
	if path == "" {
		return "", fmt.Errorf("could not determine module path from go.mod")
	}
	return path, nil
}

func defaultAppName(modulePath, dir string) string {
	base := filepath.Base(dir)
	if modulePath != "" {
		modName, _, ok := module.SplitPathVersion(modulePath)
		if ok {
			parts := strings.Split(modName, "/")
			if len(parts) > 0 {
				base = parts[len(parts)-1]
			}
		}
	}
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "orbit_app"
	}
	return base
}

func validateAddr(addr string) error {
	if addr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("diagnostics.addr: %w", err)
	}
	if port == "" {
		return fmt.Errorf("diagnostics.addr %q has no port", addr)
	}
	return nil
}
