package roster

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/hive/pkg/models"
)

// RegisterFunc registers one agent with the engine.
type RegisterFunc func(name string, typ models.AgentType, caps models.Capabilities) (string, error)

// Watcher re-reads the roster file when it changes and registers agents that
// were added since the last read. Removals are ignored. If the filesystem
// watcher cannot be created the Watcher falls back to polling.
type Watcher struct {
	path     string
	register RegisterFunc

	mu    sync.Mutex
	known map[string]bool

	watcher *fsnotify.Watcher
	pollGap time.Duration
}

// NewWatcher creates a Watcher over the roster file. names seeds the set of
// agents already registered at startup.
func NewWatcher(path string, names []string, register RegisterFunc) *Watcher {
	w := &Watcher{
		path:     path,
		register: register,
		known:    make(map[string]bool, len(names)),
		pollGap:  2 * time.Second,
	}
	for _, n := range names {
		w.known[n] = true
	}

	// Watch the directory: editors often replace the file, which drops a
	// watch on the file itself.
	fw, err := fsnotify.NewWatcher()
	if err == nil {
		if err := fw.Add(filepath.Dir(path)); err != nil {
			fw.Close()
		} else {
			w.watcher = fw
		}
	}
	return w
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer func() {
		if w.watcher != nil {
			w.watcher.Close()
		}
	}()

	if w.watcher == nil {
		w.poll(ctx)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case <-w.watcher.Errors:
			// Keep watching; a missed event is caught by the next write.
		}
	}
}

// poll is the fallback when no filesystem watcher is available.
func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.pollGap)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reload()
		}
	}
}

// reload reads the roster and registers entries not seen before.
func (w *Watcher) reload() {
	specs, err := Load(w.path)
	if err != nil {
		log.Printf("[roster] reload %s: %v", w.path, err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, spec := range specs {
		if w.known[spec.Name] {
			continue
		}
		id, err := w.register(spec.Name, spec.Type, spec.Resolve())
		if err != nil {
			log.Printf("[roster] register %s: %v", spec.Name, err)
			continue
		}
		w.known[spec.Name] = true
		log.Printf("[roster] hot-registered agent %s (%s)", spec.Name, id)
	}
}
