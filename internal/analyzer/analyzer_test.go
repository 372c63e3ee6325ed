package analyzer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func timeAgo() time.Time {
	return time.Now().Add(-time.Hour)
}

func toolUse(name, key, value string) string {
	return `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"` + name +
		`","input":{"` + key + `":"` + value + `"}}]}}`
}

func writeLog(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ralph-test1234.log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestAnalyzeBasicSession(t *testing.T) {
	path := writeLog(t, []string{
		"=== Iteration 1/3 === 2026-03-10T10:00:00Z",
		`{"type":"system","subtype":"init","session_id":"sess-1"}`,
		toolUse("Read", "file_path", "/repo/main.go"),
		toolUse("Bash", "command", "go test ./..."),
		`{"type":"result","is_error":false,"result":"done","usage":{"input_tokens":1000,"output_tokens":200}}`,
		"=== Iteration 2/3 === 2026-03-10T10:05:00Z",
		`{"type":"system","subtype":"init","session_id":"sess-2"}`,
		toolUse("Edit", "file_path", "/repo/main.go"),
		`{"type":"result","is_error":true,"result":"execution error","usage":{"input_tokens":500,"output_tokens":50}}`,
	})

	report, err := Analyze(path)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	if report.Iterations != 2 {
		t.Fatalf("iterations = %d, want 2", report.Iterations)
	}
	if len(report.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(report.Sessions))
	}
	if report.InputTokens != 1500 || report.OutputTokens != 250 {
		t.Fatalf("token totals = %d/%d", report.InputTokens, report.OutputTokens)
	}
	if report.ErrorCount != 1 {
		t.Fatalf("error count = %d", report.ErrorCount)
	}
	if report.TotalCostUSD <= 0 {
		t.Fatal("expected positive cost estimate")
	}
	if report.ToolCounts["Read"] != 1 || report.ToolCounts["Bash"] != 1 || report.ToolCounts["Edit"] != 1 {
		t.Fatalf("tool counts = %+v", report.ToolCounts)
	}
	if report.Sessions[0].SessionID != "sess-1" || report.Sessions[0].Iteration != 1 {
		t.Fatalf("session 0 = %+v", report.Sessions[0])
	}
}

func TestAnalyzeRedundantReads(t *testing.T) {
	path := writeLog(t, []string{
		"=== Iteration 1/1 === 2026-03-10T10:00:00Z",
		`{"type":"system","subtype":"init","session_id":"sess-1"}`,
		toolUse("Read", "file_path", "/repo/config.go"),
		toolUse("Read", "file_path", "/repo/config.go"),
		toolUse("Read", "file_path", "/repo/config.go"),
		toolUse("Bash", "command", "go test ./..."),
		`{"type":"result","is_error":false,"result":"done"}`,
	})

	report, err := Analyze(path)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var found *Pattern
	for i := range report.Patterns {
		if report.Patterns[i].Name == "Redundant File Reads" {
			found = &report.Patterns[i]
		}
	}
	if found == nil {
		t.Fatalf("redundant reads not detected, patterns: %+v", report.Patterns)
	}
	if found.Occurrences != 2 {
		t.Fatalf("occurrences = %d, want 2", found.Occurrences)
	}
	if !strings.Contains(found.Description, "config.go") {
		t.Fatalf("description missing file name: %s", found.Description)
	}
}

func TestAnalyzeReadAfterEditNotRedundant(t *testing.T) {
	path := writeLog(t, []string{
		"=== Iteration 1/1 === 2026-03-10T10:00:00Z",
		`{"type":"system","subtype":"init","session_id":"sess-1"}`,
		toolUse("Read", "file_path", "/repo/config.go"),
		toolUse("Edit", "file_path", "/repo/config.go"),
		toolUse("Read", "file_path", "/repo/config.go"),
		toolUse("Bash", "command", "go test ./..."),
		`{"type":"result","is_error":false,"result":"done"}`,
	})

	report, err := Analyze(path)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for _, p := range report.Patterns {
		if p.Name == "Redundant File Reads" {
			t.Fatal("re-read after an edit must not count as redundant")
		}
	}
}

func TestAnalyzeUnboundedReReads(t *testing.T) {
	path := writeLog(t, []string{
		"=== Iteration 1/1 === 2026-03-10T10:00:00Z",
		`{"type":"system","subtype":"init","session_id":"sess-1"}`,
		toolUse("Read", "file_path", "/repo/big.go"),
		toolUse("Edit", "file_path", "/repo/big.go"),
		toolUse("Read", "file_path", "/repo/big.go"),
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read","input":{"file_path":"/repo/other.go","limit":100}}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read","input":{"file_path":"/repo/other.go","limit":100}}]}}`,
		toolUse("Bash", "command", "go test ./..."),
		`{"type":"result","is_error":false,"result":"done"}`,
	})

	report, err := Analyze(path)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	var found *Pattern
	for i := range report.Patterns {
		if report.Patterns[i].Name == "Unbounded File Re-Reads" {
			found = &report.Patterns[i]
		}
	}
	if found == nil {
		t.Fatalf("unbounded re-reads not detected, patterns: %+v", report.Patterns)
	}
	// big.go was fully read twice (one repeat); the bounded reads of
	// other.go carry a limit and do not count.
	if found.Occurrences != 1 {
		t.Fatalf("occurrences = %d, want 1", found.Occurrences)
	}
	if !strings.Contains(found.Description, "big.go") {
		t.Fatalf("description missing offending file: %s", found.Description)
	}
	if strings.Contains(found.Description, "other.go") {
		t.Fatalf("bounded reads must not be reported: %s", found.Description)
	}
	if found.WasteTokens != wastePerFullReRead {
		t.Fatalf("waste = %d, want %d", found.WasteTokens, wastePerFullReRead)
	}
}

func TestAnalyzeLateTests(t *testing.T) {
	lines := []string{
		"=== Iteration 1/1 === 2026-03-10T10:00:00Z",
		`{"type":"system","subtype":"init","session_id":"sess-1"}`,
	}
	for i := 0; i < 6; i++ {
		lines = append(lines, toolUse("Edit", "file_path", "/repo/file.go"))
	}
	lines = append(lines,
		toolUse("Bash", "command", "go test ./..."),
		`{"type":"result","is_error":false,"result":"done"}`,
	)

	report, err := Analyze(writeLog(t, lines))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	found := false
	for _, p := range report.Patterns {
		if p.Name == "Late Test Execution" {
			found = true
		}
	}
	if !found {
		t.Fatalf("late tests not detected, patterns: %+v", report.Patterns)
	}
}

func TestAnalyzeCountsUnparseable(t *testing.T) {
	path := writeLog(t, []string{
		"=== Iteration 1/1 === 2026-03-10T10:00:00Z",
		`{"type":"system","subtype":"init","session_id":"sess-1"}`,
		`{"type":"assistant","message":`, // truncated record
		"[2026-03-10T10:00:01Z] plain loop message",
		`{"type":"result","is_error":false,"result":"done"}`,
	})

	report, err := Analyze(path)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.Unparseable != 1 {
		t.Fatalf("unparseable = %d, want 1 (plain text lines do not count)", report.Unparseable)
	}
}

func TestAnalyzeRetryHeaderReusesIteration(t *testing.T) {
	path := writeLog(t, []string{
		"=== Iteration 1/2 === 2026-03-10T10:00:00Z",
		`{"type":"system","subtype":"init","session_id":"sess-1"}`,
		`{"type":"result","is_error":true,"result":"resets 2am (UTC)"}`,
		"=== Iteration 1 (retry 2) === 2026-03-10T12:00:00Z",
		`{"type":"system","subtype":"init","session_id":"sess-2"}`,
		`{"type":"result","is_error":false,"result":"done"}`,
	})

	report, err := Analyze(path)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.Iterations != 1 {
		t.Fatalf("iterations = %d, retry segments must not add iterations", report.Iterations)
	}
	if len(report.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(report.Sessions))
	}
	if report.Sessions[1].Iteration != 1 {
		t.Fatalf("retry session iteration = %d, want 1", report.Sessions[1].Iteration)
	}
}

func TestReportLast(t *testing.T) {
	path := writeLog(t, []string{
		"=== Iteration 1/2 === 2026-03-10T10:00:00Z",
		`{"type":"system","subtype":"init","session_id":"sess-1"}`,
		`{"type":"result","is_error":true,"result":"bad","usage":{"input_tokens":100,"output_tokens":10}}`,
		"=== Iteration 2/2 === 2026-03-10T10:05:00Z",
		`{"type":"system","subtype":"init","session_id":"sess-2"}`,
		`{"type":"result","is_error":false,"result":"done","usage":{"input_tokens":200,"output_tokens":20}}`,
	})

	report, err := Analyze(path)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	report.Last(1)

	if len(report.Sessions) != 1 || report.Sessions[0].SessionID != "sess-2" {
		t.Fatalf("sessions after Last(1): %+v", report.Sessions)
	}
	if report.InputTokens != 200 || report.OutputTokens != 20 {
		t.Fatalf("totals not recomputed: %d/%d", report.InputTokens, report.OutputTokens)
	}
	if report.ErrorCount != 0 {
		t.Fatalf("error count not recomputed: %d", report.ErrorCount)
	}
}

func TestLatestLog(t *testing.T) {
	dir := t.TempDir()
	if _, err := LatestLog(dir); err == nil {
		t.Fatal("expected error for empty directory")
	}

	older := filepath.Join(dir, "ralph-aaaa.log")
	newer := filepath.Join(dir, "ralph-bbbb.log")
	if err := os.WriteFile(older, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newer, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Make the second file unambiguously newer.
	if err := os.Chtimes(older, timeAgo(), timeAgo()); err != nil {
		t.Fatal(err)
	}

	got, err := LatestLog(dir)
	if err != nil {
		t.Fatalf("latest log: %v", err)
	}
	if got != newer {
		t.Fatalf("got %s, want %s", got, newer)
	}
}
