package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the name of the project-level config file.
const ConfigFileName = "artipipe.toml"

// ConfigDirName is the name of the project-level config directory.
const ConfigDirName = ".artipipe"

// GlobalConfigDir is the name of the global config directory inside user's config.
const GlobalConfigDir = "artipipe"

// Load loads configuration from all layers, searching for the project
// config from the current directory upwards.
//
// CLI flags are applied separately after Load() returns.
func Load() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return LoadFrom(wd)
}

// LoadFrom loads configuration starting from a specific directory.
func LoadFrom(dir string) (*Config, error) {
	cfg := NewConfig()
	cfg.Dir = dir

	// Layer 2: Global user config
	globalCfg, err := loadGlobalConfig()
	if err != nil {
		return nil, err
	}
	cfg.Merge(globalCfg)

	// Layer 3: Project config from specified directory
	projectCfg, err := loadProjectConfigFrom(dir)
	if err != nil {
		return nil, err
	}
	cfg.Merge(projectCfg)

	// Layer 4: Environment variables
	if err := applyEnvironmentVariables(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads configuration with an explicit project config file in
// place of the upward search.
func LoadFile(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cfg := NewConfig()
	cfg.Dir = filepath.Dir(abs)

	globalCfg, err := loadGlobalConfig()
	if err != nil {
		return nil, err
	}
	cfg.Merge(globalCfg)

	projectCfg, err := loadConfigFile(abs)
	if err != nil {
		return nil, err
	}
	if projectCfg == nil {
		return nil, fmt.Errorf("config file %s does not exist", path)
	}
	cfg.Merge(projectCfg)

	if err := applyEnvironmentVariables(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadGlobalConfig loads the global user configuration from ~/.config/artipipe/config.toml.
// The global layer never defines a pipeline.
func loadGlobalConfig() (*Config, error) {
	configPath := GetGlobalConfigPath()
	if configPath == "" {
		return nil, nil
	}
	cfg, err := loadConfigFile(configPath)
	if cfg != nil {
		cfg.Streams, cfg.Stages = nil, nil
		cfg.Dir, cfg.Source = "", ""
	}
	return cfg, err
}

// loadProjectConfigFrom looks for project configuration starting from the given directory.
func loadProjectConfigFrom(dir string) (*Config, error) {
	// Search up the directory tree for config files
	current := dir
	for {
		for _, path := range GetProjectConfigPaths(current) {
			cfg, err := loadConfigFile(path)
			if err != nil || cfg != nil {
				return cfg, err
			}
		}

		// Stop at filesystem root or workspace root
		if isWorkspaceRoot(current) {
			break
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	return nil, nil
}

// isWorkspaceRoot checks if the directory is a workspace root (has .git, go.mod, settings.gradle or MODULE.bazel).
func isWorkspaceRoot(dir string) bool {
	markers := []string{".git", "go.mod", "settings.gradle", "settings.gradle.kts", "MODULE.bazel"}
	for _, marker := range markers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// loadConfigFile loads a configuration from a TOML file. A missing file
// yields nil without error; a malformed one is an error.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}

	cfg.Dir = filepath.Dir(path)
	if filepath.Base(cfg.Dir) == ConfigDirName {
		cfg.Dir = filepath.Dir(cfg.Dir)
	}
	cfg.Source = path
	return &cfg, nil
}

// applyEnvironmentVariables applies ARTIPIPE_* environment variables to the config.
func applyEnvironmentVariables(cfg *Config) error {
	if v := os.Getenv("ARTIPIPE_BUILD_DIR"); v != "" {
		cfg.Pipeline.BuildDir = v
	}
	applyBoolEnv("ARTIPIPE_INCREMENTAL", &cfg.Pipeline.Incremental)
	if err := applyIntEnv("ARTIPIPE_PARALLELISM", &cfg.Pipeline.Parallelism); err != nil {
		return err
	}

	if v := os.Getenv("ARTIPIPE_VERBOSITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ARTIPIPE_VERBOSITY: %w", err)
		}
		cfg.Log.Verbosity = &n
	}
	if v := os.Getenv("ARTIPIPE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	if err := applyIntEnv("ARTIPIPE_WATCH_DEBOUNCE_MS", &cfg.Watch.Debounce); err != nil {
		return err
	}
	// ARTIPIPE_WATCH_IGNORE: comma-separated list of extra ignore patterns
	if v := os.Getenv("ARTIPIPE_WATCH_IGNORE"); v != "" {
		cfg.Watch.Ignore = append(cfg.Watch.Ignore, splitAndTrim(v)...)
	}
	return nil
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// applyBoolEnv applies a boolean environment variable to a pointer.
func applyBoolEnv(envVar string, target **bool) {
	if v := os.Getenv(envVar); v != "" {
		v = strings.ToLower(v)
		if v == "true" || v == "1" || v == "yes" {
			t := true
			*target = &t
		} else if v == "false" || v == "0" || v == "no" {
			f := false
			*target = &f
		}
	}
}

func applyIntEnv(envVar string, target *int) error {
	v := os.Getenv(envVar)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", envVar, err)
	}
	*target = n
	return nil
}

// GetGlobalConfigPath returns the path to the global config file.
func GetGlobalConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(configDir, GlobalConfigDir, "config.toml")
}

// GetProjectConfigPaths returns potential project config paths for a given directory.
func GetProjectConfigPaths(dir string) []string {
	return []string{
		filepath.Join(dir, ConfigDirName, "config.toml"),
		filepath.Join(dir, ConfigFileName),
	}
}
