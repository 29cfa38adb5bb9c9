package watch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/albertocavalcante/artipipe/pkg/pipeline"
)

// ChangeType represents the type of file change.
type ChangeType string

const (
	ChangeAdded    ChangeType = "+"
	ChangeModified ChangeType = "~"
	ChangeDeleted  ChangeType = "-"
)

// Logger handles watch mode output formatting.
type Logger struct {
	writer  io.Writer
	isTTY   bool
	verbose bool
	noColor bool
	jsonOut bool

	statsMu sync.Mutex
	stats   WatchStats
}

// WatchStats tracks statistics for the watch session.
type WatchStats struct {
	RunCount   int
	StageCount int
	ErrorCount int
	StartTime  time.Time
}

// LoggerConfig configures the logger.
type LoggerConfig struct {
	Writer  io.Writer
	Verbose bool
	NoColor bool
	JSON    bool
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LoggerConfig) *Logger {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}

	isTTY := false
	if f, ok := writer.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}

	return &Logger{
		writer:  writer,
		isTTY:   isTTY,
		verbose: cfg.Verbose,
		noColor: cfg.NoColor,
		jsonOut: cfg.JSON,
		stats: WatchStats{
			StartTime: time.Now(),
		},
	}
}

// Ready logs the initial ready message.
func (l *Logger) Ready(roots int, stages []string) {
	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event":  "ready",
			"roots":  roots,
			"stages": stages,
		})
		return
	}

	l.printf("artipipe: watching %d input roots\n", roots)
	if len(stages) > 0 {
		l.printf("artipipe: stages: %s\n", strings.Join(stages, ", "))
	}
	l.println("artipipe: ready")
	l.println()
}

// FileChanged logs a file change event. Only shown in verbose mode.
func (l *Logger) FileChanged(path string, change ChangeType) {
	if l.jsonOut {
		if !l.verbose {
			return
		}
		l.writeJSON(map[string]any{
			"event":  "file_changed",
			"path":   path,
			"change": string(change),
			"time":   time.Now().Format(time.RFC3339),
		})
		return
	}

	if l.verbose {
		l.printf("[%s] %s %s\n", l.timestamp(), l.colorize(string(change), change), path)
	}
}

// Running logs that a pipeline run is starting.
func (l *Logger) Running(paths []string) {
	l.statsMu.Lock()
	l.stats.RunCount++
	l.statsMu.Unlock()

	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event": "running",
			"paths": paths,
			"time":  time.Now().Format(time.RFC3339),
		})
		return
	}

	if len(paths) == 1 {
		l.printf("[%s] %s changed, running pipeline...\n", l.timestamp(), paths[0])
	} else {
		l.printf("[%s] %d files changed, running pipeline...\n", l.timestamp(), len(paths))
	}
}

// StageDone logs the outcome of one stage.
func (l *Logger) StageDone(r pipeline.Report) {
	l.statsMu.Lock()
	l.stats.StageCount++
	l.statsMu.Unlock()

	if l.jsonOut {
		event := map[string]any{
			"event":       "stage",
			"stage":       r.Stage,
			"incremental": r.Incremental,
			"changed":     r.Changed,
			"duration":    r.Duration.String(),
			"time":        time.Now().Format(time.RFC3339),
		}
		if r.FallbackReason != "" {
			event["reason"] = r.FallbackReason
		}
		l.writeJSON(event)
		return
	}

	checkmark := l.colorize("✓", ChangeAdded)
	if r.Incremental {
		l.printf("[%s] %s %s incremental, %d changed (%s)\n",
			l.timestamp(), checkmark, r.Stage, r.Changed, r.Duration.Round(time.Millisecond))
		return
	}
	l.printf("[%s] %s %s full: %s (%s)\n",
		l.timestamp(), checkmark, r.Stage, r.FallbackReason, r.Duration.Round(time.Millisecond))
}

// Error logs an error.
func (l *Logger) Error(err error) {
	l.statsMu.Lock()
	l.stats.ErrorCount++
	l.statsMu.Unlock()

	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event": "error",
			"error": err.Error(),
			"time":  time.Now().Format(time.RFC3339),
		})
		return
	}

	xmark := l.colorize("✗", ChangeDeleted)
	l.printf("[%s] %s error: %v\n", l.timestamp(), xmark, err)
}

// Shutdown logs the shutdown message with statistics.
func (l *Logger) Shutdown() {
	stats := l.Stats()

	if l.jsonOut {
		l.writeJSON(map[string]any{
			"event":    "shutdown",
			"runs":     stats.RunCount,
			"errors":   stats.ErrorCount,
			"duration": time.Since(stats.StartTime).String(),
		})
		return
	}

	l.println()
	l.printf("artipipe: shutting down (%d runs, %d errors)\n",
		stats.RunCount, stats.ErrorCount)
}

// Stats returns the current watch statistics.
func (l *Logger) Stats() WatchStats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats
}

func (l *Logger) timestamp() string {
	return time.Now().Format("15:04:05")
}

// colorize applies ANSI color codes based on change type.
func (l *Logger) colorize(s string, change ChangeType) string {
	if l.noColor || !l.isTTY {
		return s
	}

	var color string
	switch change {
	case ChangeAdded:
		color = "\033[32m" // green
	case ChangeModified:
		color = "\033[33m" // yellow
	case ChangeDeleted:
		color = "\033[31m" // red
	default:
		return s
	}
	return color + s + "\033[0m"
}

func (l *Logger) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		l.println(`{"event":"internal_error","error":"json marshal failed"}`)
		return
	}
	l.println(string(data))
}

// printf writes to the writer, ignoring errors. Watch output is informational.
func (l *Logger) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(l.writer, format, args...)
}

func (l *Logger) println(args ...any) {
	_, _ = fmt.Fprintln(l.writer, args...)
}
