package logger

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hcikit/hcilog/internal/errors"
)

// Watcher triggers reloads on an interval and, optionally, when one of the
// loaded documents changes on disk. Directories are watched rather than
// files so editors that replace a file by rename are still seen.
type Watcher struct {
	reload   func(context.Context) error
	onError  func(error)
	debounce time.Duration
	fs       *fsnotify.Watcher

	mu      sync.Mutex
	pending *watchSet
	changed chan struct{}

	triggers atomic.Uint64

	// owned by Start, then by the run goroutine
	ticker   *time.Ticker
	tick     <-chan time.Time
	interval time.Duration
	files    map[string]struct{}
	dirs     map[string]struct{}

	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

type watchSet struct {
	files    []string
	interval time.Duration
}

// NewWatcher creates a stopped watcher. With watchFiles false only the
// interval trigger is available.
func NewWatcher(reload func(context.Context) error, watchFiles bool, debounce time.Duration, onError func(error)) (*Watcher, error) {
	if onError == nil {
		onError = func(error) {}
	}
	w := &Watcher{
		reload:   reload,
		onError:  onError,
		debounce: debounce,
		changed:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
	}
	if watchFiles {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, errors.New(err).Category(errors.CategoryReload).Context("operation", "create file watcher").Build()
		}
		w.fs = fw
	}
	return w, nil
}

// Start begins watching files and ticking every interval. A zero interval
// disables the ticker. The files are watched when Start returns.
func (w *Watcher) Start(files []string, interval time.Duration) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.mu.Lock()
	w.pending = &watchSet{files: files, interval: interval}
	w.mu.Unlock()
	w.apply()
	go w.run()
}

// Update replaces the watched files and the interval. It never blocks, so
// it is safe to call from inside a reload the watcher triggered.
func (w *Watcher) Update(files []string, interval time.Duration) {
	w.mu.Lock()
	w.pending = &watchSet{files: files, interval: interval}
	w.mu.Unlock()
	select {
	case w.changed <- struct{}{}:
	default:
	}
}

// Triggers counts the reloads the watcher has started.
func (w *Watcher) Triggers() uint64 { return w.triggers.Load() }

// Stop ends the watcher and waits for its goroutine.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.started.Load() {
			<-w.done
		}
		if w.fs != nil {
			_ = w.fs.Close()
		}
	})
}

func (w *Watcher) run() {
	defer close(w.done)

	var (
		settle *time.Timer
		fire   <-chan time.Time
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if w.fs != nil {
		events, errs = w.fs.Events, w.fs.Errors
	}
	defer func() {
		if w.ticker != nil {
			w.ticker.Stop()
		}
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case <-w.stop:
			return
		case <-w.changed:
			w.apply()
		case <-w.tick:
			w.trigger()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if _, watched := w.files[filepath.Clean(ev.Name)]; !watched || ev.Op == fsnotify.Chmod {
				continue
			}
			if settle == nil {
				settle = time.NewTimer(w.debounce)
			} else {
				settle.Reset(w.debounce)
			}
			fire = settle.C
		case <-fire:
			fire = nil
			w.trigger()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.onError(errors.New(err).Category(errors.CategoryReload).Context("operation", "watch").Build())
		}
	}
}

// apply installs the pending watch set. It runs in Start before the
// goroutine exists and afterwards only on the goroutine.
func (w *Watcher) apply() {
	w.mu.Lock()
	set := w.pending
	w.pending = nil
	w.mu.Unlock()
	if set == nil {
		return
	}

	if set.interval != w.interval {
		if w.ticker != nil {
			w.ticker.Stop()
			w.ticker, w.tick = nil, nil
		}
		if set.interval > 0 {
			w.ticker = time.NewTicker(set.interval)
			w.tick = w.ticker.C
		}
		w.interval = set.interval
	}

	if w.fs == nil {
		return
	}
	clear(w.files)
	want := make(map[string]struct{})
	for _, f := range set.files {
		f = filepath.Clean(f)
		w.files[f] = struct{}{}
		want[filepath.Dir(f)] = struct{}{}
	}
	for dir := range w.dirs {
		if _, ok := want[dir]; !ok {
			_ = w.fs.Remove(dir)
			delete(w.dirs, dir)
		}
	}
	for dir := range want {
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.fs.Add(dir); err != nil {
			w.onError(errors.New(err).Category(errors.CategoryReload).Context("dir", dir).Build())
			continue
		}
		w.dirs[dir] = struct{}{}
	}
}

func (w *Watcher) trigger() {
	w.triggers.Add(1)
	// Reload reports its own failures
	_ = w.reload(context.Background())
}
