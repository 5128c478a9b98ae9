// Package watch submits drum stems for analysis as they appear in a directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"

	"github.com/james-see/drumstem2midi/pkg/jobs"
	"github.com/james-see/drumstem2midi/pkg/pipeline"
)

// DefaultPattern matches stems produced by common source separators
const DefaultPattern = "*_drums.wav"

// Submitter queues a stem for analysis
type Submitter interface {
	Submit(stemPath string, ro pipeline.RunOptions) (string, error)
}

// Options configures a Watcher
type Options struct {
	Dir        string
	Pattern    string        // glob matched against the file name
	Debounce   time.Duration // quiet period after the last write before submitting
	Existing   bool          // submit matching files already in Dir on start
	RunOptions pipeline.RunOptions
	Logger     *slog.Logger
}

// Watcher turns file events into job submissions
type Watcher struct {
	sub    Submitter
	opts   Options
	logger *slog.Logger

	ready chan struct{}

	mu      sync.Mutex
	pending map[string]func(func())
	closed  bool
}

// Matches reports whether the file name of path matches pattern
func Matches(pattern, path string) bool {
	ok, err := filepath.Match(pattern, filepath.Base(path))
	return err == nil && ok
}

// New validates options and returns a watcher
func New(sub Submitter, opts Options) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, errors.New("watch directory is required")
	}
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}
	if _, err := filepath.Match(opts.Pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", opts.Pattern, err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		sub:     sub,
		opts:    opts,
		logger:  logger.With("module", "watch", "dir", opts.Dir),
		ready:   make(chan struct{}),
		pending: map[string]func(func()){},
	}, nil
}

// Ready is closed once the directory is being watched
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is cancelled. A Watcher runs once.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.opts.Dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.opts.Dir, err)
	}
	w.logger.Info("watching for stems", "pattern", w.opts.Pattern)
	close(w.ready)

	if w.opts.Existing {
		if err := w.scan(); err != nil {
			return err
		}
	}

	defer w.close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if Matches(w.opts.Pattern, ev.Name) {
				w.schedule(ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) scan() error {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", w.opts.Dir, err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() && Matches(w.opts.Pattern, e.Name()) {
			w.submit(filepath.Join(w.opts.Dir, e.Name()), w.opts.RunOptions)
		}
	}
	return nil
}

// schedule submits path once writes to it have been quiet for the debounce
// period. The file has new content, so its cached onsets are recomputed.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	d, ok := w.pending[path]
	if !ok {
		d = debounce.New(w.opts.Debounce)
		w.pending[path] = d
	}
	d(func() {
		w.mu.Lock()
		delete(w.pending, path)
		closed := w.closed
		w.mu.Unlock()
		if !closed {
			ro := w.opts.RunOptions
			ro.ForceOnsets = true
			w.submit(path, ro)
		}
	})
}

func (w *Watcher) submit(path string, ro pipeline.RunOptions) {
	id, err := w.sub.Submit(path, ro)
	switch {
	case errors.Is(err, jobs.ErrAlreadyRunning):
		w.logger.Debug("stem already queued", "stem", path, "job_id", id)
	case err != nil:
		w.logger.Error("failed to submit stem", "stem", path, "error", err)
	default:
		w.logger.Info("stem submitted", "stem", path, "job_id", id)
	}
}

func (w *Watcher) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}
