// Package config provides configuration management for artipipe.
// It supports multi-layer configuration with precedence:
//  1. Built-in defaults (lowest priority)
//  2. Global user config (~/.config/artipipe/config.toml)
//  3. Project config (.artipipe/config.toml or artipipe.toml)
//  4. Environment variables (ARTIPIPE_*)
//  5. CLI flags (highest priority)
//
// The project config also defines the pipeline itself: its [[stream]] and
// [[stage]] tables.
package config

// Config is the main configuration struct for artipipe.
type Config struct {
	// Pipeline configures how the pipeline runs.
	Pipeline PipelineConfig `toml:"pipeline"`

	// Log configures logging defaults.
	Log LogConfig `toml:"log"`

	// Watch configures watch mode.
	Watch WatchConfig `toml:"watch"`

	// Streams are the original streams fed into the pipeline.
	Streams []StreamConfig `toml:"stream"`

	// Stages are the stages, in wiring order.
	Stages []StageConfig `toml:"stage"`

	// Dir is the directory relative paths resolve against: the directory
	// holding the project config, or the directory Load started from.
	Dir string `toml:"-"`

	// Source is the project config file that was loaded, if any.
	Source string `toml:"-"`
}

// PipelineConfig holds run settings.
type PipelineConfig struct {
	// BuildDir holds stage outputs and host state. Relative to Dir.
	BuildDir string `toml:"build_dir"`

	// Incremental enables incremental runs for the whole build.
	Incremental *bool `toml:"incremental"`

	// Parallelism bounds concurrently running stages (0 = GOMAXPROCS).
	Parallelism int `toml:"parallelism"`
}

// LogConfig holds logging defaults. Flags override them.
type LogConfig struct {
	Verbosity *int   `toml:"verbosity"`
	Format    string `toml:"format"`
}

// WatchConfig holds watch mode settings.
type WatchConfig struct {
	// Debounce is the debounce window in milliseconds.
	Debounce int `toml:"debounce_ms"`

	// Ignore lists doublestar patterns of paths that never trigger a run.
	Ignore []string `toml:"ignore"`
}

// StreamConfig declares an original stream.
type StreamConfig struct {
	Name   string   `toml:"name"`
	Types  []string `toml:"types"`
	Scopes []string `toml:"scopes"`

	// Paths are files or directories, relative to Dir. Doublestar globs
	// are expanded; literal paths may not exist yet.
	Paths []string `toml:"paths"`

	// BuiltBy is an opaque marker for whatever produces the paths.
	BuiltBy string `toml:"built_by"`
}

// StageConfig declares a stage.
type StageConfig struct {
	Name             string            `toml:"name"`
	Body             string            `toml:"body"`
	Types            []string          `toml:"types"`
	Scopes           []string          `toml:"scopes"`
	ReferencedScopes []string          `toml:"referenced_scopes"`
	OutputTypes      []string          `toml:"output_types"`
	Incremental      *bool             `toml:"incremental"`
	Secondary        []SecondaryConfig `toml:"secondary"`

	// Options are passed to the body verbatim.
	Options map[string]string `toml:"options"`
}

// SecondaryConfig declares secondary inputs of a stage.
type SecondaryConfig struct {
	// Path is relative to Dir and may be a doublestar glob.
	Path            string `toml:"path"`
	IncrementalSafe bool   `toml:"incremental_safe"`
}

// Built-in defaults.
const (
	DefaultBuildDir  = "build"
	DefaultDebounce  = 500
	DefaultLogFormat = "text"
)

// NewConfig creates a new Config with built-in defaults.
func NewConfig() *Config {
	trueVal := true
	verbosity := 1
	return &Config{
		Pipeline: PipelineConfig{
			BuildDir:    DefaultBuildDir,
			Incremental: &trueVal,
		},
		Log: LogConfig{
			Verbosity: &verbosity,
			Format:    DefaultLogFormat,
		},
		Watch: WatchConfig{
			Debounce: DefaultDebounce,
			Ignore:   []string{"**/.git/**"},
		},
	}
}

// IsIncremental reports whether incremental runs are enabled.
func (c *Config) IsIncremental() bool {
	return c.Pipeline.Incremental == nil || *c.Pipeline.Incremental
}

// Merge merges another config into this one (other takes precedence).
// Streams and stages are replaced as a whole: a pipeline is defined by a
// single layer.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Merge pipeline settings
	if other.Pipeline.BuildDir != "" {
		c.Pipeline.BuildDir = other.Pipeline.BuildDir
	}
	if other.Pipeline.Incremental != nil {
		c.Pipeline.Incremental = other.Pipeline.Incremental
	}
	if other.Pipeline.Parallelism != 0 {
		c.Pipeline.Parallelism = other.Pipeline.Parallelism
	}

	// Merge log settings
	if other.Log.Verbosity != nil {
		c.Log.Verbosity = other.Log.Verbosity
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}

	// Merge watch settings
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if len(other.Watch.Ignore) > 0 {
		c.Watch.Ignore = append(c.Watch.Ignore, other.Watch.Ignore...)
	}

	// Pipeline definition
	if len(other.Streams) > 0 || len(other.Stages) > 0 {
		c.Streams = other.Streams
		c.Stages = other.Stages
	}
	if other.Dir != "" {
		c.Dir = other.Dir
	}
	if other.Source != "" {
		c.Source = other.Source
	}
}
