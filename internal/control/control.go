// Package control reads operator stop/feedback signals from the filesystem.
package control

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/tpott/diy-ralph/internal/models"
)

// Default control file names, resolved relative to the working directory.
const (
	DefaultStopFile     = "STOP_RALPH"
	DefaultFeedbackFile = "FEEDBACK.md"
)

// FS is the filesystem surface the watcher needs. Injected so tests can
// substitute fakes without touching real files.
type FS interface {
	Stat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	Remove(name string) error
}

type osFS struct{}

func (osFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }
func (osFS) ReadFile(name string) ([]byte, error)  { return os.ReadFile(name) }
func (osFS) Remove(name string) error              { return os.Remove(name) }

// OSFS returns the real filesystem accessor.
func OSFS() FS { return osFS{} }

// Watcher checks the stop marker and feedback file. Signals are derived
// fresh on every call; nothing is cached between checks.
type Watcher struct {
	fs           FS
	stopPath     string
	feedbackPath string
}

// NewWatcher creates a Watcher over the given control file paths.
func NewWatcher(filesystem FS, stopPath, feedbackPath string) *Watcher {
	if filesystem == nil {
		filesystem = osFS{}
	}
	if stopPath == "" {
		stopPath = DefaultStopFile
	}
	if feedbackPath == "" {
		feedbackPath = DefaultFeedbackFile
	}
	return &Watcher{fs: filesystem, stopPath: stopPath, feedbackPath: feedbackPath}
}

// StopPath returns the configured stop marker path.
func (w *Watcher) StopPath() string { return w.stopPath }

// FeedbackPath returns the configured feedback file path.
func (w *Watcher) FeedbackPath() string { return w.feedbackPath }

// StopRequested reports whether the stop marker exists. Presence alone is
// the signal; content is irrelevant.
func (w *Watcher) StopRequested() bool {
	_, err := w.fs.Stat(w.stopPath)
	return err == nil
}

// Check derives the current control signal. Stop takes precedence over
// feedback. Feedback requires non-empty content.
func (w *Watcher) Check() (models.ControlSignal, error) {
	if w.StopRequested() {
		return models.ControlSignal{Kind: models.ControlStop}, nil
	}

	content, err := w.fs.ReadFile(w.feedbackPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.ControlSignal{Kind: models.ControlNone}, nil
		}
		return models.ControlSignal{}, err
	}
	if strings.TrimSpace(string(content)) == "" {
		return models.ControlSignal{Kind: models.ControlNone}, nil
	}

	return models.ControlSignal{Kind: models.ControlFeedback, Feedback: string(content)}, nil
}

// ConsumeFeedback deletes the feedback file. Called only after the iteration
// that consumed the content completed successfully, preserving at-least-once
// delivery across failed attempts.
func (w *Watcher) ConsumeFeedback() error {
	err := w.fs.Remove(w.feedbackPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
