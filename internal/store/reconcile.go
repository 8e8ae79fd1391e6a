package store

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Poller periodically reconciles a filesystem-backed store. Filesystem
// notifications narrow each pass to collections that actually changed;
// a full sweep still runs every fullSweepEvery intervals because watches
// are not recursive and events can be dropped.
type Poller struct {
	store    *FSStore
	logger   *zap.Logger
	interval time.Duration

	mu    sync.Mutex
	dirty map[string]bool

	watcher *fsnotify.Watcher
	done    chan struct{}
	stopped sync.Once
}

const fullSweepEvery = 10

// NewPoller creates a poller for the store. Interval must be positive.
func NewPoller(store *FSStore, interval time.Duration, logger *zap.Logger) (*Poller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		store:    store,
		logger:   logger,
		interval: interval,
		dirty:    map[string]bool{},
		done:     make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Notifications are an optimization; polling alone is correct.
		logger.Warn("filesystem watcher unavailable, falling back to full sweeps", zap.Error(err))
		return p, nil
	}
	p.watcher = watcher
	if err := watcher.Add(store.Root()); err != nil {
		logger.Warn("watching storage root failed", zap.Error(err))
	}
	return p, nil
}

// Run blocks until ctx is cancelled or Stop is called.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	passes := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case event, ok := <-p.events():
			if !ok {
				continue
			}
			p.markDirty(event.Name)
		case err, ok := <-p.errors():
			if ok && err != nil {
				p.logger.Warn("filesystem watcher error", zap.Error(err))
			}
		case <-ticker.C:
			passes++
			if p.watcher == nil || passes%fullSweepEvery == 0 {
				if err := p.store.ReconcileAll(ctx); err != nil {
					p.logger.Warn("full reconciliation failed", zap.Error(err))
				}
				p.clearDirty()
				continue
			}
			for _, id := range p.takeDirty() {
				if err := p.store.ReconcileCollection(ctx, id); err != nil {
					p.logger.Warn("reconciliation failed",
						zap.String("collection", id), zap.Error(err))
				}
			}
		}
	}
}

// Stop terminates the poller and releases the watcher.
func (p *Poller) Stop() {
	p.stopped.Do(func() {
		close(p.done)
		if p.watcher != nil {
			_ = p.watcher.Close()
		}
	})
}

func (p *Poller) events() <-chan fsnotify.Event {
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Events
}

func (p *Poller) errors() <-chan error {
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Errors
}

// markDirty resolves an event path to its collection id.
func (p *Poller) markDirty(eventPath string) {
	rel, err := filepath.Rel(p.store.Root(), eventPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	id := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	if id == "" || strings.HasPrefix(id, ".") {
		return
	}
	p.mu.Lock()
	p.dirty[id] = true
	p.mu.Unlock()
}

func (p *Poller) takeDirty() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.dirty))
	for id := range p.dirty {
		ids = append(ids, id)
	}
	p.dirty = map[string]bool{}
	return ids
}

func (p *Poller) clearDirty() {
	p.mu.Lock()
	p.dirty = map[string]bool{}
	p.mu.Unlock()
}
