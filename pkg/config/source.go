package config

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// Source returns the latest known configuration. Current must be cheap and
// must not block.
type Source interface {
	Current() *Config
}

// Static is a Source whose value is replaced explicitly with Set.
type Static struct {
	current atomic.Pointer[Config]
}

var _ Source = &Static{}

func NewStatic(c *Config) *Static {
	s := &Static{}
	s.Set(c)
	return s
}

func (s *Static) Current() *Config {
	return s.current.Load()
}

func (s *Static) Set(c *Config) {
	s.current.Store(c)
}

var defaultReloadInterval = 10 * time.Second

// File is a Source backed by a YAML file. Run watches the file for changes
// and swaps in the new configuration; Current only reads memory.
type File struct {
	path           string
	ReloadInterval time.Duration
	logger         *slog.Logger
	current        atomic.Pointer[Config]
	modTime        time.Time
}

var _ Source = &File{}

// NewFile loads path once. It fails if the initial load fails.
func NewFile(path string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &File{
		path:           path,
		ReloadInterval: defaultReloadInterval,
		logger:         logger,
	}
	if _, err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Current() *Config {
	return f.current.Load()
}

// Reload re-reads the file if its modification time changed. It returns
// true if a new configuration was swapped in. On error the previous
// configuration is kept.
func (f *File) Reload() (bool, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return false, err
	}
	if f.current.Load() != nil && info.ModTime().Equal(f.modTime) {
		return false, nil
	}
	c, err := LoadConfig(f.path)
	if err != nil {
		return false, err
	}
	if err := c.Validate(); err != nil {
		// Still swapped in: the gate rejects it on every call until fixed.
		f.logger.Warn("replication lag config has invalid thresholds", "path", f.path, "error", err)
	}
	f.modTime = info.ModTime()
	f.current.Store(c)
	return true, nil
}

// Run reloads the file every ReloadInterval until ctx is done.
func (f *File) Run(ctx context.Context) {
	interval := f.ReloadInterval
	if interval <= 0 {
		interval = defaultReloadInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := f.Reload()
			if err != nil {
				f.logger.Error("could not reload replication lag config", "path", f.path, "error", err)
				continue
			}
			if changed {
				f.logger.Info("reloaded replication lag config", "path", f.path)
			}
		}
	}
}
