package runner

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tpott/diy-ralph/internal/events"
	"github.com/tpott/diy-ralph/internal/models"
)

func testRunner() *Runner {
	return &Runner{Now: func() time.Time {
		return time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	}}
}

func TestConsumeMirrorsAndParses(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		`{"type":"system","subtype":"init","session_id":"sess-1"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`,
		`not json at all`,
		`{"type":"result","is_error":false,"result":"done"}`,
	}, "\n"))

	var log bytes.Buffer
	r := testRunner()
	result, err := r.consume(stream, &log)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	if result.SessionID != "sess-1" {
		t.Fatalf("session id = %q", result.SessionID)
	}
	if result.ResultText != "done" {
		t.Fatalf("result text = %q", result.ResultText)
	}
	if result.EventCount != 3 {
		t.Fatalf("event count = %d, want 3", result.EventCount)
	}
	if !strings.Contains(log.String(), "not json at all") {
		t.Fatal("raw lines must be mirrored to the log before parsing")
	}
}

func TestConsumeObserverSeesEvents(t *testing.T) {
	stream := strings.NewReader(
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"ls"}}]}}` + "\n")

	var seen []events.Event
	r := testRunner()
	r.OnEvent = func(evt events.Event) { seen = append(seen, evt) }

	if _, err := r.consume(stream, &bytes.Buffer{}); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(seen) != 1 || seen[0].ToolName != "Bash" {
		t.Fatalf("observer missed events: %+v", seen)
	}
}

func TestClassifyRateLimitWins(t *testing.T) {
	r := testRunner()
	result := models.RunResult{
		Status:     models.RunFailed,
		ResultText: "You've hit your limit · resets 2am (UTC)",
		ExitCode:   1,
	}
	r.classify(&result)

	if result.Status != models.RunRateLimited {
		t.Fatalf("status = %s, want rate limited", result.Status)
	}
	if result.RateLimit == nil || result.RateLimit.ResetAt.IsZero() {
		t.Fatal("expected parsed reset time")
	}
	// 10:00 UTC now, 2am already passed: reset resolves to tomorrow.
	want := time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)
	if !result.RateLimit.ResetAt.Equal(want) {
		t.Fatalf("reset at %v, want %v", result.RateLimit.ResetAt, want)
	}
}

func TestClassifyUnparseableMarkerKeepsZeroReset(t *testing.T) {
	r := testRunner()
	result := models.RunResult{
		Status:     models.RunFailed,
		ResultText: "resets 5pm (Not/AZone)",
		ExitCode:   1,
	}
	r.classify(&result)

	if result.Status != models.RunRateLimited {
		t.Fatalf("status = %s, want rate limited", result.Status)
	}
	if !result.RateLimit.ResetAt.IsZero() {
		t.Fatal("unusable zone must leave reset time zero for the default wait")
	}
}

func TestClassifyServerError(t *testing.T) {
	r := testRunner()
	result := models.RunResult{
		Status:     models.RunFailed,
		ResultText: "API Error: status_code: 529, overloaded",
		ExitCode:   1,
	}
	r.classify(&result)

	if !result.ServerError {
		t.Fatal("expected server error")
	}
	if result.Status != models.RunFailed {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestClassifyCompleted(t *testing.T) {
	r := testRunner()
	result := models.RunResult{ExitCode: 0, EventCount: 5}
	r.classify(&result)
	if result.Status != models.RunCompleted {
		t.Fatalf("status = %s, want completed", result.Status)
	}
}

func TestClassifyLaunchFailureExit127(t *testing.T) {
	r := testRunner()
	result := models.RunResult{ExitCode: 127, EventCount: 0}
	r.classify(&result)
	if !result.LaunchFailure {
		t.Fatal("exit 127 with no output must classify as launch failure")
	}
}

func TestClassifyPlainFailure(t *testing.T) {
	r := testRunner()
	result := models.RunResult{ExitCode: 2, EventCount: 3}
	r.classify(&result)
	if result.LaunchFailure {
		t.Fatal("nonzero exit after real output is not a launch failure")
	}
	if result.Status != models.RunFailed || result.FailureReason == "" {
		t.Fatalf("unexpected classification: %+v", result)
	}
}

func TestRunEchoesPromptFromStdin(t *testing.T) {
	r := New()
	r.Now = time.Now

	inv := Invocation{
		// Re-emit stdin as a result record so the roundtrip is observable.
		CommandTemplate: `content=$(cat); printf '{"type":"result","is_error":false,"result":"%s"}\n' "$content"`,
	}

	var log bytes.Buffer
	result, err := r.Run(context.Background(), inv, "hello-prompt", &log)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != models.RunCompleted {
		t.Fatalf("status = %s (%s)", result.Status, result.FailureReason)
	}
	if result.ResultText != "hello-prompt" {
		t.Fatalf("prompt did not roundtrip: %q", result.ResultText)
	}
}

func TestRunMissingBinary(t *testing.T) {
	r := New()
	inv := Invocation{CommandTemplate: "definitely-not-a-real-binary-xyz"}

	var log bytes.Buffer
	result, err := r.Run(context.Background(), inv, "prompt", &log)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.LaunchFailure {
		t.Fatalf("expected launch failure, got %+v", result)
	}
}

func TestRunEmptyTemplate(t *testing.T) {
	r := New()
	result, err := r.Run(context.Background(), Invocation{}, "prompt", &bytes.Buffer{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.LaunchFailure {
		t.Fatal("empty template must be a launch failure")
	}
}

func TestRunCapturesStderr(t *testing.T) {
	r := New()
	inv := Invocation{CommandTemplate: `echo "warning: something" 1>&2; exit 0`}

	var log bytes.Buffer
	if _, err := r.Run(context.Background(), inv, "", &log); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(log.String(), "--- STDERR ---") {
		t.Fatal("stderr section missing from log")
	}
	if !strings.Contains(log.String(), "warning: something") {
		t.Fatal("stderr content missing from log")
	}
}
