package loop

import (
	"crypto/rand"
	"encoding/base32"
	"path/filepath"
	"strings"
)

// NewRunID generates an 8-character lowercase base32 ID (40 bits of entropy).
func NewRunID() string {
	buf := make([]byte, 5)
	_, _ = rand.Read(buf)
	return strings.ToLower(base32.StdEncoding.EncodeToString(buf))
}

// LogPath returns the run log path for a run ID.
func LogPath(logDir, runID string) string {
	return filepath.Join(logDir, "ralph-"+runID+".log")
}

// FeedbackLogPath returns the feedback audit log path for a run ID.
func FeedbackLogPath(logDir, runID string) string {
	return filepath.Join(logDir, "feedback-"+runID+".log")
}

// LedgerPath returns the markdown ledger path for a run ID.
func LedgerPath(repoPath, runID string) string {
	return filepath.Join(repoPath, ".ralph", "ledgers", "ralph-"+runID+".md")
}
