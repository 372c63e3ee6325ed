package models

import (
	"errors"
	"time"
)

// IterationOutcome represents the final outcome of one loop iteration.
type IterationOutcome string

const (
	IterationRunning     IterationOutcome = "running"
	IterationCompleted   IterationOutcome = "completed"
	IterationRateLimited IterationOutcome = "rate_limited"
	IterationFailed      IterationOutcome = "failed"
	IterationStopped     IterationOutcome = "stopped"
)

// Iteration captures one invocation cycle of the loop. A record is created
// when the cycle starts and finished exactly once; rate-limited retries bump
// Attempts on the same record instead of creating a new one.
type Iteration struct {
	ID         string           `json:"id"`
	RunID      string           `json:"run_id"`
	Number     int              `json:"number"`
	Attempts   int              `json:"attempts"`
	Outcome    IterationOutcome `json:"outcome"`
	SessionID  string           `json:"session_id,omitempty"`
	ResultText string           `json:"result_text,omitempty"`
	LastError  string           `json:"last_error,omitempty"`
	LogPath    string           `json:"log_path,omitempty"`
	ExitCode   *int             `json:"exit_code,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// Validate checks if the iteration record is valid.
func (i *Iteration) Validate() error {
	validation := &ValidationErrors{}
	if i.RunID == "" {
		validation.Add("run_id", ErrInvalidIterationRunID)
	}
	if i.Number <= 0 {
		validation.Add("number", ErrInvalidIterationNumber)
	}
	if validation.Err() != nil {
		return validation.Err()
	}

	switch i.Outcome {
	case "", IterationRunning, IterationCompleted, IterationRateLimited, IterationFailed, IterationStopped:
		return nil
	default:
		return errors.New("invalid iteration outcome")
	}
}
