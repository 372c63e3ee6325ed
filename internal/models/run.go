package models

import "time"

// RunStatus classifies the outcome of a single agent process invocation.
type RunStatus string

const (
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunRateLimited RunStatus = "rate_limited"
)

// RateLimitNotice is a parsed rate-limit marker from the agent's result text.
// ResetAt is zero when the marker named no parseable reset time.
type RateLimitNotice struct {
	ResetAt time.Time `json:"reset_at,omitempty"`
	Raw     string    `json:"raw,omitempty"`
}

// RunResult is the value handed back by the process runner for one
// invocation. It is never shared or mutated after the runner returns it.
type RunResult struct {
	Status        RunStatus        `json:"status"`
	ExitCode      int              `json:"exit_code"`
	SessionID     string           `json:"session_id,omitempty"`
	ResultText    string           `json:"result_text,omitempty"`
	RateLimit     *RateLimitNotice `json:"rate_limit,omitempty"`
	ServerError   bool             `json:"server_error"`
	LaunchFailure bool             `json:"launch_failure"`
	FailureReason string           `json:"failure_reason,omitempty"`
	EventCount    int              `json:"event_count"`
	Elapsed       time.Duration    `json:"elapsed"`
}
