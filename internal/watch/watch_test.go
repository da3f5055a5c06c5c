package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentgateway/internal/projects"
)

type fakeSender struct {
	mu     sync.Mutex
	open   bool
	frames []Frame
}

func newFakeSender() *fakeSender { return &fakeSender{open: true} }

func (f *fakeSender) Send(frame Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSender) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// TestDebounceCoalescesBurstIntoOneBroadcast checks that a burst of
// rapid writes to one file inside the debounce window produces exactly
// one projects_updated broadcast.
func TestDebounceCoalescesBurstIntoOneBroadcast(t *testing.T) {
	root := t.TempDir()
	reg := projects.New(root, filepath.Join(root, "project-config.json"))
	b := NewBroadcaster()
	w, err := New(root, reg, b, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	sender := newFakeSender()
	b.Register(sender)

	target := filepath.Join(root, "burst.txt")
	for i := 0; i < 5; i++ {
		os.WriteFile(target, []byte("x"), 0o644)
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(quiescenceDelay + debounceDelay + 200*time.Millisecond)

	if sender.count() != 1 {
		t.Fatalf("expected exactly 1 coalesced broadcast, got %d", sender.count())
	}
}

// TestDoesNotFireForPreexistingFiles exercises scenario S4: files
// present at Start are not reported as changes.
func TestDoesNotFireForPreexistingFiles(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "already-here.txt"), []byte("x"), 0o644)

	reg := projects.New(root, filepath.Join(root, "project-config.json"))
	b := NewBroadcaster()
	w, err := New(root, reg, b, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Close()

	sender := newFakeSender()
	b.Register(sender)

	time.Sleep(quiescenceDelay + debounceDelay + 200*time.Millisecond)

	if sender.count() != 0 {
		t.Fatalf("expected no broadcast for preexisting file, got %d", sender.count())
	}
}

func TestSweepsClosedClientsLazily(t *testing.T) {
	b := NewBroadcaster()
	sender := newFakeSender()
	sender.open = false
	id := b.Register(sender)

	b.Broadcast(Frame{Type: "projects_updated"})

	b.mu.Lock()
	_, stillPresent := b.clients[id]
	b.mu.Unlock()
	if stillPresent {
		t.Fatal("expected closed client to be swept on broadcast")
	}
}
