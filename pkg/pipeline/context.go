package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/albertocavalcante/artipipe/pkg/ledger"
)

// Config configures a pipeline run.
type Config struct {
	// BuildDir holds every stage output and host state.
	BuildDir string
	// Incremental is the build-level switch. When false every stage runs
	// in full mode.
	Incremental bool
	// Parallelism bounds how many independent stages run at once. Zero
	// means GOMAXPROCS.
	Parallelism int
	Logger      *slog.Logger
}

// Context is the state shared by every stage of one pipeline run. It owns
// the ledger cache; nothing in the pipeline keeps process-wide state.
type Context struct {
	buildDir    string
	incremental bool
	parallelism int
	logger      *slog.Logger

	mu      sync.Mutex
	ledgers map[string]*ledger.Ledger
}

// NewContext creates the context for one run.
func NewContext(cfg Config) (*Context, error) {
	if cfg.BuildDir == "" {
		return nil, errors.New("build directory is required")
	}
	buildDir, err := filepath.Abs(cfg.BuildDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve build directory: %w", err)
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		buildDir:    buildDir,
		incremental: cfg.Incremental,
		parallelism: parallelism,
		logger:      logger,
		ledgers:     make(map[string]*ledger.Ledger),
	}, nil
}

// BuildDir returns the absolute build directory.
func (c *Context) BuildDir() string { return c.buildDir }

// Incremental reports the build-level incremental switch.
func (c *Context) Incremental() bool { return c.incremental }

// Parallelism returns the stage concurrency limit.
func (c *Context) Parallelism() int { return c.parallelism }

// Logger returns the run logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// StageOutputDir returns the folder owned by the named stage.
func (c *Context) StageOutputDir(stageName string) string {
	return filepath.Join(c.buildDir, "intermediates", "transforms", stageName)
}

// ReadLedger loads the ledger under root once per run. A corrupt ledger is
// logged and returned with StateCorrupt.
func (c *Context) ReadLedger(root string) (*ledger.Ledger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.ledgers[root]; ok {
		return l, nil
	}
	l, err := ledger.Load(root)
	if err != nil {
		return nil, err
	}
	if l.State == ledger.StateCorrupt {
		c.logger.Warn("ignoring unusable ledger", "folder", root, "error", l.Err)
	}
	c.ledgers[root] = l
	return l, nil
}

// SaveLedger persists records under root and refreshes the cache.
func (c *Context) SaveLedger(root string, records []ledger.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ledger.Save(root, records); err != nil {
		return err
	}
	c.ledgers[root] = &ledger.Ledger{Root: root, State: ledger.StateLoaded, Records: records}
	return nil
}

// DropLedger deletes the ledger under root so the next run of its stage
// starts from scratch.
func (c *Context) DropLedger(root string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.ledgers, root)
	if err := os.Remove(ledger.Path(root)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to drop ledger: %w", err)
	}
	return nil
}
