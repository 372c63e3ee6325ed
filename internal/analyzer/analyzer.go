// Package analyzer re-parses persisted run logs to surface token waste and
// expensive behavior patterns. Strictly offline and read-only; it never
// touches the loop's live state.
package analyzer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/tpott/diy-ralph/internal/events"
)

const maxLineBytes = 1 << 20

// Pricing per token. Published per-million rates for the models the loop
// runs by default.
const (
	opusInputPrice  = 15.0 / 1_000_000
	opusOutputPrice = 75.0 / 1_000_000
)

// ToolCall is one tool invocation observed in a session, in stream order.
type ToolCall struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
	Index int            `json:"index"`
}

// Session aggregates one agent session (one iteration attempt) from the log.
type Session struct {
	Iteration    int        `json:"iteration"`
	SessionID    string     `json:"session_id"`
	IsError      bool       `json:"is_error"`
	ResultText   string     `json:"result,omitempty"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	CostUSD      float64    `json:"cost_usd"`
	ToolCalls    []ToolCall `json:"-"`
}

// Pattern is one detected waste pattern with an estimated token cost.
type Pattern struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Occurrences int    `json:"occurrences"`
	WasteTokens int    `json:"estimated_waste_tokens"`
	Suggestion  string `json:"suggestion"`
}

// Report is the full analysis of one run log.
type Report struct {
	LogPath      string         `json:"log_path"`
	Iterations   int            `json:"iterations"`
	Sessions     []Session      `json:"sessions"`
	Unparseable  int            `json:"unparseable_records"`
	ErrorCount   int            `json:"error_count"`
	InputTokens  int            `json:"total_input_tokens"`
	OutputTokens int            `json:"total_output_tokens"`
	TotalCostUSD float64        `json:"total_cost_usd"`
	ToolCounts   map[string]int `json:"tool_counts"`
	Patterns     []Pattern      `json:"patterns"`
}

// Headers written by the loop. Retry segments reuse the iteration number.
var headerPattern = regexp.MustCompile(`^=== Iteration (\d+)(?:/(\d+))?(?: \(retry (\d+)\))? === (.+)$`)

// Analyze parses a run log end to end. Records that are JSON but not in a
// recognizable shape are skipped and counted; plain text lines (timestamped
// loop messages, stderr sections) are ignored.
func Analyze(logPath string) (*Report, error) {
	f, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	report := &Report{
		LogPath:    logPath,
		ToolCounts: make(map[string]int),
	}

	var (
		current       *Session
		currentNumber int
		seenNumbers   = map[int]bool{}
		toolIndex     int
	)

	flush := func() {
		if current == nil {
			return
		}
		current.CostUSD = float64(current.InputTokens)*opusInputPrice +
			float64(current.OutputTokens)*opusOutputPrice
		report.Sessions = append(report.Sessions, *current)
		current = nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()

		if m := headerPattern.FindStringSubmatch(line); m != nil {
			flush()
			fmt.Sscanf(m[1], "%d", &currentNumber)
			if !seenNumbers[currentNumber] {
				seenNumbers[currentNumber] = true
				report.Iterations++
			}
			continue
		}

		evts, err := events.ParseLine(line)
		if err != nil {
			if !errors.Is(err, events.ErrNotJSON) {
				report.Unparseable++
			}
			continue
		}

		for _, evt := range evts {
			switch evt.Kind {
			case events.KindSystemInit:
				flush()
				toolIndex = 0
				current = &Session{Iteration: currentNumber, SessionID: evt.SessionID}

			case events.KindToolCall:
				if current == nil {
					continue
				}
				tc := ToolCall{Name: evt.ToolName, Index: toolIndex}
				toolIndex++
				if len(evt.ToolInput) > 0 {
					_ = json.Unmarshal(evt.ToolInput, &tc.Input)
				}
				current.ToolCalls = append(current.ToolCalls, tc)
				report.ToolCounts[tc.Name]++

			case events.KindText:
				if current != nil && evt.Usage != nil {
					current.InputTokens += evt.Usage.InputTokens
					current.OutputTokens += evt.Usage.OutputTokens
				}

			case events.KindResult:
				if current == nil {
					continue
				}
				current.IsError = evt.IsError
				current.ResultText = evt.ResultText
				// The result event reports session totals; prefer it
				// over the per-message running sum.
				if evt.Usage != nil {
					current.InputTokens = evt.Usage.InputTokens
					current.OutputTokens = evt.Usage.OutputTokens
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	flush()

	for i := range report.Sessions {
		s := &report.Sessions[i]
		report.InputTokens += s.InputTokens
		report.OutputTokens += s.OutputTokens
		report.TotalCostUSD += s.CostUSD
		if s.IsError {
			report.ErrorCount++
		}
	}

	report.Patterns = detectPatterns(report.Sessions)
	return report, nil
}

// Last keeps only the final n sessions (and their iterations) in the report
// totals. n <= 0 keeps everything.
func (r *Report) Last(n int) {
	if n <= 0 || len(r.Sessions) <= n {
		return
	}
	dropped := r.Sessions[:len(r.Sessions)-n]
	r.Sessions = r.Sessions[len(r.Sessions)-n:]
	for i := range dropped {
		s := &dropped[i]
		r.InputTokens -= s.InputTokens
		r.OutputTokens -= s.OutputTokens
		r.TotalCostUSD -= s.CostUSD
		if s.IsError {
			r.ErrorCount--
		}
		for _, tc := range s.ToolCalls {
			r.ToolCounts[tc.Name]--
			if r.ToolCounts[tc.Name] <= 0 {
				delete(r.ToolCounts, tc.Name)
			}
		}
	}
	r.Patterns = detectPatterns(r.Sessions)
}

// LatestLog finds the most recently modified ralph-*.log in a directory.
func LatestLog(logDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(logDir, "ralph-*.log"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no run logs found in %s", logDir)
	}

	sort.Slice(matches, func(i, j int) bool {
		fi, errI := os.Stat(matches[i])
		fj, errJ := os.Stat(matches[j])
		if errI != nil || errJ != nil {
			return matches[i] > matches[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return matches[0], nil
}
