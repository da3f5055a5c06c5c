// Package watch implements the FS Watcher/Broadcaster: it recursively
// watches the agent's project root, debounces the torrent of raw
// filesystem events into a single coalesced signal, and fans out a
// projects_updated frame to every attached gateway socket.
package watch

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/agentgateway/internal/projects"
)

const (
	debounceDelay   = 300 * time.Millisecond
	quiescenceDelay = 100 * time.Millisecond
	maxDepth        = 10
)

var ignoreNames = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	".DS_Store":    true,
	"Thumbs.db":    true,
}

func isIgnored(name string) bool {
	if ignoreNames[name] {
		return true
	}
	if strings.HasSuffix(name, ".swp") || strings.HasSuffix(name, ".swx") || strings.HasSuffix(name, "~") {
		return true
	}
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp")
}

// Frame is the projects_updated payload broadcast to every socket.
type Frame struct {
	Type        string            `json:"type"`
	Projects    []projects.Project `json:"projects"`
	Timestamp   int64             `json:"timestamp"`
	ChangeType  string            `json:"changeType"`
	ChangedFile string            `json:"changedFile"`
}

// Sender is one attached socket's send capability, registered by the
// gateway. IsOpen lets the broadcaster sweep dead clients lazily.
type Sender interface {
	Send(Frame) error
	IsOpen() bool
}

// Broadcaster holds the live client registry: a set of (send, isOpen)
// handles swept lazily on broadcast.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[int]Sender
	nextID  int
}

// NewBroadcaster creates an empty client registry.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[int]Sender)}
}

// Register attaches a socket and returns a token for Unregister.
func (b *Broadcaster) Register(s Sender) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.clients[id] = s
	return id
}

// Unregister detaches a socket.
func (b *Broadcaster) Unregister(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, id)
}

// Broadcast sends frame to every open client, sweeping any that throw
// or report closed.
func (b *Broadcaster) Broadcast(frame Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.clients {
		if !c.IsOpen() {
			delete(b.clients, id)
			continue
		}
		if err := c.Send(frame); err != nil {
			delete(b.clients, id)
		}
	}
}

// Watcher recursively watches an agent root and broadcasts change
// frames through a Broadcaster.
type Watcher struct {
	root        string
	registry    *projects.Registry
	broadcaster *Broadcaster
	nowMillis   func() int64

	fsw *fsnotify.Watcher

	mu          sync.Mutex
	known       map[string]bool
	pending     map[string]*time.Timer
	debounce    *time.Timer
	lastType    string
	lastFile    string
	watchedDirs map[string]bool

	done chan struct{}
}

// New creates a Watcher rooted at root, broadcasting recomputed
// project lists (via registry) through broadcaster. nowMillis may be
// overridden in tests; pass nil for time.Now().
func New(root string, registry *projects.Registry, broadcaster *Broadcaster, nowMillis func() int64) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if nowMillis == nil {
		nowMillis = func() int64 { return time.Now().UnixMilli() }
	}
	w := &Watcher{
		root:        root,
		registry:    registry,
		broadcaster: broadcaster,
		nowMillis:   nowMillis,
		fsw:         fsw,
		known:       make(map[string]bool),
		pending:     make(map[string]*time.Timer),
		watchedDirs: make(map[string]bool),
		done:        make(chan struct{}),
	}
	return w, nil
}

// Start snapshots the current tree, adds recursive watches, and begins
// the event loop in a background goroutine.
func (w *Watcher) Start() error {
	if err := w.addTree(w.root, 0); err != nil {
		return err
	}
	go w.run()
	return nil
}

// Close stops watching and releases the underlying fsnotify handle.
func (w *Watcher) Close() {
	close(w.done)
	w.fsw.Close()
}

func (w *Watcher) addTree(dir string, depth int) error {
	if depth > maxDepth {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.mu.Lock()
	w.watchedDirs[dir] = true
	w.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if isIgnored(e.Name()) {
			continue
		}
		full := filepath.Join(dir, e.Name())
		w.mu.Lock()
		w.known[full] = true
		w.mu.Unlock()
		if e.Type()&os.ModeSymlink != 0 {
			continue
		}
		if e.IsDir() {
			if err := w.addTree(full, depth+1); err != nil {
				slog.Warn("watch: failed to add subtree", "dir", full, "error", err)
			}
		}
	}
	return nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("watch: fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	base := filepath.Base(ev.Name)
	if isIgnored(base) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err == nil && info.IsDir() {
			if err := w.addTree(ev.Name, 0); err != nil {
				slog.Warn("watch: failed to watch new directory", "dir", ev.Name, "error", err)
			}
			w.fireStabilized("addDir", ev.Name)
			return
		}
		w.scheduleStabilization("add", ev.Name)
	case ev.Has(fsnotify.Write):
		w.scheduleStabilization("change", ev.Name)
	case ev.Has(fsnotify.Remove):
		w.mu.Lock()
		wasDir := w.watchedDirs[ev.Name]
		delete(w.watchedDirs, ev.Name)
		delete(w.known, ev.Name)
		w.mu.Unlock()
		if wasDir {
			w.fireStabilized("unlinkDir", ev.Name)
		} else {
			w.fireStabilized("unlink", ev.Name)
		}
	case ev.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.known, ev.Name)
		w.mu.Unlock()
		w.fireStabilized("unlink", ev.Name)
	}
}

// scheduleStabilization waits quiescenceDelay of silence on this exact
// path before treating add/change as real.
func (w *Watcher) scheduleStabilization(changeType, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(quiescenceDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.fireStabilized(changeType, path)
	})
}

// fireStabilized records the last observed event and (re)arms the
// trailing debounce that ultimately broadcasts.
func (w *Watcher) fireStabilized(changeType, path string) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		rel = path
	}

	w.mu.Lock()
	w.lastType = changeType
	w.lastFile = rel
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(debounceDelay, w.broadcastUpdate)
	w.mu.Unlock()
}

func (w *Watcher) broadcastUpdate() {
	w.mu.Lock()
	changeType := w.lastType
	changedFile := w.lastFile
	w.mu.Unlock()

	list, err := w.registry.Discover()
	if err != nil {
		slog.Warn("watch: failed to recompute project list", "error", err)
		return
	}

	w.broadcaster.Broadcast(Frame{
		Type:        "projects_updated",
		Projects:    list,
		Timestamp:   w.nowMillis(),
		ChangeType:  changeType,
		ChangedFile: changedFile,
	})
}
