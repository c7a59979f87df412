package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/modhost/pkg/manifest"
	"github.com/platinummonkey/modhost/pkg/registry"
)

// EventKind classifies a change under the modules root
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventChanged EventKind = "changed"
	EventRemoved EventKind = "removed"
)

// Event reports a module directory whose manifest appeared, changed or went
// away. Document is nil for EventRemoved.
type Event struct {
	Kind     EventKind
	Dir      string
	Document *manifest.Document
}

// WatcherConfig configures a Watcher
type WatcherConfig struct {
	Scanner  *Scanner
	Cache    *manifest.Cache
	Debounce time.Duration
	// Registrar, when set, registers modules whose manifest appears
	Registrar Registrar
	OnEvent   func(Event)
	Logger    logrus.FieldLogger
}

// Watcher follows the modules root with fsnotify. Bursts of writes to one
// directory are coalesced into a single event.
type Watcher struct {
	cfg   WatcherConfig
	ready chan struct{}

	mu      sync.Mutex
	known   map[string]bool
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Scanner == nil {
		return nil, fmt.Errorf("discovery: scanner is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.OnEvent == nil {
		cfg.OnEvent = func(Event) {}
	}
	return &Watcher{
		cfg:     cfg,
		ready:   make(chan struct{}),
		known:   make(map[string]bool),
		pending: make(map[string]*time.Timer),
	}, nil
}

// Ready is closed once the initial watches are in place
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	root := w.cfg.Scanner.Root()
	if err := fw.Add(root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}
	candidates, _ := w.cfg.Scanner.Scan()
	for _, c := range candidates {
		w.known[c.Dir] = true
		if err := fw.Add(c.Dir); err != nil {
			w.cfg.Logger.WithError(err).WithField("dir", c.Dir).Warn("Failed to watch module directory")
		}
	}
	// Directories without a manifest yet still need watching
	if entries, err := os.ReadDir(root); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = fw.Add(filepath.Join(root, e.Name()))
			}
		}
	}
	close(w.ready)
	w.cfg.Logger.WithField("root", root).Info("Watching modules root")

	defer w.stopPending()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(fw, root, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.cfg.Logger.WithError(err).Warn("Watcher error")
		}
	}
}

func (w *Watcher) handle(fw *fsnotify.Watcher, root string, event fsnotify.Event) {
	parent := filepath.Dir(event.Name)

	// A module directory itself
	if parent == root {
		switch {
		case event.Has(fsnotify.Create):
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := fw.Add(event.Name); err != nil {
					w.cfg.Logger.WithError(err).WithField("dir", event.Name).Warn("Failed to watch module directory")
				}
				w.schedule(event.Name)
			}
		case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
			w.removed(event.Name)
		}
		return
	}

	// A manifest inside a module directory
	if filepath.Dir(parent) != root || !isManifestName(filepath.Base(event.Name)) {
		return
	}
	if w.cfg.Cache != nil {
		w.cfg.Cache.Invalidate(event.Name)
	}
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
		w.schedule(parent)
	}
}

func (w *Watcher) schedule(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[dir]; ok {
		t.Reset(w.cfg.Debounce)
		return
	}
	w.pending[dir] = time.AfterFunc(w.cfg.Debounce, func() { w.fire(dir) })
}

func (w *Watcher) fire(dir string) {
	w.mu.Lock()
	delete(w.pending, dir)
	w.mu.Unlock()

	log := w.cfg.Logger.WithField("dir", dir)
	doc, err := w.cfg.Scanner.load(dir)
	if errors.Is(err, manifest.ErrNoManifest) {
		w.removed(dir)
		return
	}
	if err != nil {
		log.WithError(err).Warn("Failed to load manifest")
		return
	}

	w.mu.Lock()
	kind := EventChanged
	if !w.known[dir] {
		kind = EventAdded
		w.known[dir] = true
	}
	w.mu.Unlock()

	log.WithField("event", kind).Info("Module manifest detected")
	if kind == EventAdded && w.cfg.Registrar != nil && doc.Result.Valid {
		rec, err := w.cfg.Registrar.RegisterDir(context.Background(), dir)
		switch {
		case errors.Is(err, registry.ErrAlreadyExists):
		case err != nil:
			log.WithError(err).Warn("Failed to auto-register module")
		default:
			log.WithField("module", rec.Name).Info("Auto-registered module")
		}
	}
	w.cfg.OnEvent(Event{Kind: kind, Dir: dir, Document: doc})
}

func (w *Watcher) removed(dir string) {
	w.mu.Lock()
	wasKnown := w.known[dir]
	delete(w.known, dir)
	w.mu.Unlock()
	if wasKnown {
		w.cfg.OnEvent(Event{Kind: EventRemoved, Dir: dir})
	}
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for dir, t := range w.pending {
		t.Stop()
		delete(w.pending, dir)
	}
}

func isManifestName(name string) bool {
	for _, n := range manifest.FileNames {
		if n == name {
			return true
		}
	}
	return false
}
