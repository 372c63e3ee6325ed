package control

import (
	"io/fs"
	"testing"

	"github.com/tpott/diy-ralph/internal/models"
)

// fakeFS backs the watcher with in-memory files.
type fakeFS struct {
	files   map[string][]byte
	removed []string
}

func newFakeFS() *fakeFS {
	return &fakeFS{files: map[string][]byte{}}
}

func (f *fakeFS) Stat(name string) (fs.FileInfo, error) {
	if _, ok := f.files[name]; !ok {
		return nil, fs.ErrNotExist
	}
	return nil, nil
}

func (f *fakeFS) ReadFile(name string) ([]byte, error) {
	data, ok := f.files[name]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (f *fakeFS) Remove(name string) error {
	if _, ok := f.files[name]; !ok {
		return fs.ErrNotExist
	}
	delete(f.files, name)
	f.removed = append(f.removed, name)
	return nil
}

func TestCheckNoFiles(t *testing.T) {
	w := NewWatcher(newFakeFS(), "", "")

	signal, err := w.Check()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if signal.Kind != models.ControlNone {
		t.Fatalf("expected none, got %s", signal.Kind)
	}
}

func TestCheckStopMarker(t *testing.T) {
	fsys := newFakeFS()
	fsys.files[DefaultStopFile] = nil
	w := NewWatcher(fsys, "", "")

	if !w.StopRequested() {
		t.Fatal("expected stop requested")
	}
	signal, err := w.Check()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if signal.Kind != models.ControlStop {
		t.Fatalf("expected stop, got %s", signal.Kind)
	}
}

func TestCheckStopWinsOverFeedback(t *testing.T) {
	fsys := newFakeFS()
	fsys.files[DefaultStopFile] = nil
	fsys.files[DefaultFeedbackFile] = []byte("please fix the tests")
	w := NewWatcher(fsys, "", "")

	signal, _ := w.Check()
	if signal.Kind != models.ControlStop {
		t.Fatalf("expected stop precedence, got %s", signal.Kind)
	}
}

func TestCheckFeedback(t *testing.T) {
	fsys := newFakeFS()
	fsys.files[DefaultFeedbackFile] = []byte("please fix the tests\n")
	w := NewWatcher(fsys, "", "")

	signal, err := w.Check()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if signal.Kind != models.ControlFeedback {
		t.Fatalf("expected feedback, got %s", signal.Kind)
	}
	if signal.Feedback != "please fix the tests\n" {
		t.Fatalf("feedback content altered: %q", signal.Feedback)
	}
}

func TestCheckEmptyFeedbackIsNone(t *testing.T) {
	fsys := newFakeFS()
	fsys.files[DefaultFeedbackFile] = []byte("  \n\t\n")
	w := NewWatcher(fsys, "", "")

	signal, _ := w.Check()
	if signal.Kind != models.ControlNone {
		t.Fatalf("expected none for whitespace-only feedback, got %s", signal.Kind)
	}
}

func TestConsumeFeedback(t *testing.T) {
	fsys := newFakeFS()
	fsys.files[DefaultFeedbackFile] = []byte("content")
	w := NewWatcher(fsys, "", "")

	if err := w.ConsumeFeedback(); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(fsys.removed) != 1 {
		t.Fatal("feedback file not removed")
	}

	// Consuming again is not an error; the file is simply gone.
	if err := w.ConsumeFeedback(); err != nil {
		t.Fatalf("second consume: %v", err)
	}
}

func TestCustomPaths(t *testing.T) {
	fsys := newFakeFS()
	fsys.files["/tmp/halt"] = nil
	w := NewWatcher(fsys, "/tmp/halt", "/tmp/notes.md")

	if !w.StopRequested() {
		t.Fatal("expected stop via custom path")
	}
	if w.StopPath() != "/tmp/halt" || w.FeedbackPath() != "/tmp/notes.md" {
		t.Fatal("custom paths not retained")
	}
}
