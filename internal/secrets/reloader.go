package secrets

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/logging"
)

// ErrWatcherFailed indicates the allowlist watcher could not be set up.
var ErrWatcherFailed = errors.New("allowlist watcher failed")

// BuildFunc turns an allowlist into a detector.
type BuildFunc func(*Allowlist) (Detector, error)

type detectorBox struct{ Detector }

// Reloader is a Detector that rebuilds itself when its allowlist file
// changes. A reload that fails keeps the previous detector.
type Reloader struct {
	path    string
	build   BuildFunc
	logger  *logging.Logger
	current atomic.Pointer[detectorBox]

	watcher  *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewReloader loads path once and builds the initial detector. The file is
// not watched until Start.
func NewReloader(path string, build BuildFunc, logger *logging.Logger) (*Reloader, error) {
	if path == "" {
		return nil, errors.New("allowlist path is required")
	}
	if build == nil {
		return nil, errors.New("build func is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Reloader{
		path:   filepath.Clean(path),
		build:  build,
		logger: logger.Named("secrets"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := r.Reload(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

// Detect implements Detector with the most recently built detector.
func (r *Reloader) Detect(ctx context.Context, text string) ([]string, error) {
	return r.current.Load().Detect(ctx, text)
}

// Reload re-reads the allowlist and swaps in a new detector.
func (r *Reloader) Reload(ctx context.Context) error {
	allowlist, err := LoadAllowlist(r.path)
	if err != nil {
		return err
	}
	d, err := r.build(allowlist)
	if err != nil {
		return fmt.Errorf("building detector: %w", err)
	}
	r.current.Store(&detectorBox{d})
	r.logger.Debug(ctx, "secrets allowlist loaded",
		zap.String("path", r.path),
		zap.Int("regexes", len(allowlist.Regexes)),
		zap.Int("stopwords", len(allowlist.StopWords)),
	)
	return nil
}

// Start watches the allowlist's directory so that editors which replace the
// file by rename are still seen. It returns once the watch is registered.
func (r *Reloader) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("%w: watching %s: %v", ErrWatcherFailed, filepath.Dir(r.path), err)
	}
	r.watcher = watcher
	go r.processEvents(ctx)
	return nil
}

// Stop ends the watch and waits for the event loop to exit. Safe to call
// more than once and without Start.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		if r.watcher == nil {
			close(r.done)
			return
		}
		_ = r.watcher.Close()
	})
	<-r.done
}

func (r *Reloader) processEvents(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := r.Reload(ctx); err != nil {
				r.logger.Warn(ctx, "secrets allowlist reload failed, keeping previous rules",
					zap.String("path", r.path), zap.Error(err))
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn(ctx, "secrets allowlist watcher error", zap.Error(err))
		}
	}
}
