package index

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/perigee-labs/groundwork/internal/config"
)

const debounceDelay = 500 * time.Millisecond

// Watcher keeps a collection in sync with a source directory. It
// rebuilds on filesystem events, debounced so a burst of writes causes
// one rebuild, and sweeps on a timer to catch anything fsnotify missed.
// A fingerprint comparison gates every rebuild, so events that do not
// change source content are free.
type Watcher struct {
	builder  *Builder
	dir      string
	location string
	interval time.Duration
	logger   *zap.Logger

	last string
}

// NewWatcher creates a watcher for one source directory and location.
func NewWatcher(builder *Builder, cfg config.IndexConfig, location string, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Watcher{
		builder:  builder,
		dir:      cfg.SourceDir,
		location: location,
		interval: interval,
		logger:   logger,
		last:     ReadFingerprint(cfg.SourceDir, location),
	}
}

// Run watches until the context is cancelled. It checks once at
// startup, so an index that is already current is not rebuilt.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("Watching source directory",
		zap.String("dir", w.dir),
		zap.String("location", w.location),
		zap.Duration("sweep_interval", w.interval))

	w.rebuildIfChanged(ctx)

	// Editors fire several events per save, so rebuilds wait for a
	// quiet period.
	debounce := time.NewTimer(0)
	<-debounce.C
	sweep := time.NewTicker(w.interval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !relevantFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				debounce.Reset(debounceDelay)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Filesystem watcher error", zap.Error(err))

		case <-debounce.C:
			w.rebuildIfChanged(ctx)

		case <-sweep.C:
			w.rebuildIfChanged(ctx)
		}
	}
}

func (w *Watcher) rebuildIfChanged(ctx context.Context) {
	fp, err := Fingerprint(w.dir)
	if err != nil {
		w.logger.Warn("Failed to fingerprint source directory",
			zap.String("dir", w.dir), zap.Error(err))
		return
	}
	if fp == w.last {
		return
	}

	if _, err := w.builder.Build(ctx, w.dir, w.location); err != nil {
		w.logger.Error("Failed to rebuild index",
			zap.String("location", w.location), zap.Error(err))
		return
	}
	w.last = fp
	if err := WriteFingerprint(w.dir, w.location, fp); err != nil {
		w.logger.Warn("Failed to persist fingerprint", zap.Error(err))
	}
}

// relevantFile reports whether a path names a source file the index
// cares about.
func relevantFile(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return sourceExtensions[strings.ToLower(filepath.Ext(name))]
}
