package policy

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/concierge/pkg/domain/model/config"
	"github.com/secmon-lab/concierge/pkg/utils/errutil"
	"github.com/secmon-lab/concierge/pkg/utils/logging"
)

// Store publishes the current policy. Readers capture one snapshot per
// request; a reload only affects requests admitted after it.
type Store struct {
	current atomic.Pointer[config.Policy]
}

func NewStore(initial *config.Policy) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

func (s *Store) Current() *config.Policy {
	return s.current.Load()
}

func (s *Store) Replace(p *config.Policy) {
	s.current.Store(p)
}

// LoadFunc reads and validates a policy file
type LoadFunc func(path string) (*config.Policy, error)

// Watcher reloads the policy file when it changes. Invalid files are
// reported and the previous policy stays in effect.
type Watcher struct {
	path     string
	load     LoadFunc
	store    *Store
	debounce time.Duration
	onReload func(p *config.Policy)
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type WatcherOption func(*Watcher)

func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithOnReload registers a callback run after each successful reload
func WithOnReload(f func(p *config.Policy)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = f
	}
}

func NewWatcher(path string, load LoadFunc, store *Store, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		load:     load,
		store:    store,
		debounce: 200 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start watches the directory of the file so that editors replacing the
// file by rename are also observed.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return goerr.Wrap(err, "failed to create file watcher")
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return goerr.Wrap(err, "failed to watch policy directory", goerr.V("path", w.path))
	}
	w.watcher = fw

	logging.Default().Info("policy watcher starting", "path", w.path)
	go w.run(ctx)
	return nil
}

func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer func() { _ = w.watcher.Close() }()

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			w.reload(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			errutil.Handle(ctx, goerr.Wrap(err, "policy watcher error"), "policy watcher error")

		case <-w.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	p, err := w.load(w.path)
	if err != nil {
		errutil.Handle(ctx, goerr.Wrap(err, "policy reload rejected, keeping previous policy",
			goerr.V("path", w.path)), "policy reload failed")
		return
	}

	w.store.Replace(p)
	logging.From(ctx).Info("policy reloaded",
		"path", w.path,
		"providers", len(p.Providers),
	)
	if w.onReload != nil {
		w.onReload(p)
	}
}
