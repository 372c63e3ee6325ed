// Package backoff computes and executes rate-limit waits.
package backoff

import (
	"context"
	"fmt"
	"time"
)

// Defaults. Published reset times are best-effort boundaries, so the margin
// absorbs clock skew instead of waking exactly on the boundary and
// immediately re-hitting the limit.
const (
	DefaultSafetyMargin = 60 * time.Second
	DefaultWait         = 30 * time.Minute
	DefaultPollInterval = 15 * time.Second

	// Exponential schedule for transient API server errors.
	DefaultServerErrorInitial = 15 * time.Second
	DefaultServerErrorMax     = 240 * time.Second
	DefaultServerErrorBudget  = 8 * time.Hour
)

// Plan is a single computed wait with a human-readable reason.
type Plan struct {
	Wait   time.Duration
	Reason string
}

// Scheduler computes wait durations for rate-limit and server-error events.
type Scheduler struct {
	// SafetyMargin is added on top of the published reset time.
	SafetyMargin time.Duration

	// DefaultWait applies when the marker named no parseable reset time.
	DefaultWait time.Duration

	// ServerErrorInitial and ServerErrorMax bound the exponential schedule.
	ServerErrorInitial time.Duration
	ServerErrorMax     time.Duration

	// ServerErrorBudget is the total retry time before giving up.
	ServerErrorBudget time.Duration
}

// NewScheduler returns a Scheduler with the documented defaults.
func NewScheduler() Scheduler {
	return Scheduler{
		SafetyMargin:       DefaultSafetyMargin,
		DefaultWait:        DefaultWait,
		ServerErrorInitial: DefaultServerErrorInitial,
		ServerErrorMax:     DefaultServerErrorMax,
		ServerErrorBudget:  DefaultServerErrorBudget,
	}
}

// PlanReset computes the wait until a published reset time. A zero resetAt
// means the marker was unparseable and the conservative default applies.
func (s Scheduler) PlanReset(resetAt, now time.Time) Plan {
	if resetAt.IsZero() {
		return Plan{
			Wait:   s.DefaultWait,
			Reason: fmt.Sprintf("rate limited with no parseable reset time, waiting default %s", s.DefaultWait),
		}
	}

	wait := resetAt.Sub(now)
	if wait < 0 {
		wait = 0
	}
	wait += s.SafetyMargin
	return Plan{
		Wait:   wait,
		Reason: fmt.Sprintf("rate limited until %s (+%s margin)", resetAt.Format(time.RFC3339), s.SafetyMargin),
	}
}

// PlanServerError computes the wait for the nth consecutive transient API
// failure (0-indexed), doubling from the initial delay up to the cap.
func (s Scheduler) PlanServerError(attempt int) Plan {
	wait := s.ServerErrorInitial
	for i := 0; i < attempt && wait < s.ServerErrorMax; i++ {
		wait *= 2
	}
	if wait > s.ServerErrorMax {
		wait = s.ServerErrorMax
	}
	return Plan{
		Wait:   wait,
		Reason: fmt.Sprintf("API server error, retry attempt %d in %s", attempt+1, wait),
	}
}

// Sleep waits for the planned duration. The wait is cancellable: it returns
// early with stopped=true as soon as stopCheck reports a stop request,
// polled at pollInterval, or when ctx is done.
func Sleep(ctx context.Context, d, pollInterval time.Duration, stopCheck func() bool) (stopped bool) {
	if d <= 0 {
		return stopCheck != nil && stopCheck()
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	deadline := time.NewTimer(d)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	if stopCheck != nil && stopCheck() {
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
			if stopCheck != nil && stopCheck() {
				return true
			}
		}
	}
}
