package class

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher rescans the plugin search path when descriptors or modules
// change below it.
type Watcher struct {
	registry *Registry
	scanner  *Scanner
	logger   *slog.Logger
	watcher  *fsnotify.Watcher

	// OnRescan, if set, is called after every rescan with its result.
	OnRescan func(error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher feeding reg from scanner's search path.
func NewWatcher(reg *Registry, scanner *Scanner, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		registry: reg,
		scanner:  scanner,
		logger:   logger,
		watcher:  fw,
	}, nil
}

// Start watches every existing directory of the search path and begins
// rescanning in the background. Missing directories are skipped.
func (w *Watcher) Start(ctx context.Context) error {
	for _, root := range w.scanner.Paths() {
		err := filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if entry.IsDir() {
				return w.watcher.Add(p)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(ev.Name); err != nil {
						w.logger.Warn("watch directory failed",
							slog.String("path", ev.Name),
							slog.String("error", err.Error()),
						)
					}
				}
			}
			if !relevant(ev) {
				continue
			}
			err := w.registry.discoverWith(ctx, w.scanner)
			if err != nil {
				w.logger.Warn("rescan failed",
					slog.String("trigger", ev.Name),
					slog.String("error", err.Error()),
				)
			} else {
				w.logger.Debug("plugin path rescanned", slog.String("trigger", ev.Name))
			}
			if w.OnRescan != nil {
				w.OnRescan(err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(ev.Name)
	return strings.HasSuffix(name, DescriptorSuffix) || strings.EqualFold(filepath.Ext(name), ".wasm")
}

// Close stops the watcher and waits for the background loop.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
