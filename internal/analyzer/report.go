package analyzer

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Text renders the human-readable summary report.
func (r *Report) Text() string {
	var b strings.Builder

	b.WriteString("Run Log Analysis\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&b, "Log: %s\n", r.LogPath)
	fmt.Fprintf(&b, "Iterations analyzed: %d\n", r.Iterations)
	fmt.Fprintf(&b, "Sessions parsed: %d\n", len(r.Sessions))
	if r.Unparseable > 0 {
		fmt.Fprintf(&b, "Unparseable records: %d\n", r.Unparseable)
	}
	fmt.Fprintf(&b, "Total estimated cost: $%.2f\n", r.TotalCostUSD)
	fmt.Fprintf(&b, "Total tokens: %s input, %s output\n\n",
		fmtTokens(r.InputTokens), fmtTokens(r.OutputTokens))

	if r.ErrorCount > 0 {
		fmt.Fprintf(&b, "Error sessions: %d/%d\n\n", r.ErrorCount, len(r.Sessions))
	}

	if len(r.Sessions) > 0 {
		b.WriteString("Cost Per Session:\n")
		for i, s := range r.Sessions {
			err := ""
			if s.IsError {
				err = " [ERROR]"
			}
			fmt.Fprintf(&b, "  %d. Session %s $%.2f (%s tokens)%s\n",
				i+1, shortID(s.SessionID), s.CostUSD,
				fmtTokens(s.InputTokens+s.OutputTokens), err)
		}
		b.WriteString("\n")
	}

	if len(r.ToolCounts) > 0 {
		total := 0
		for _, count := range r.ToolCounts {
			total += count
		}
		fmt.Fprintf(&b, "Tool Call Distribution (%d total):\n", total)
		for _, tool := range sortedTools(r.ToolCounts) {
			count := r.ToolCounts[tool]
			fmt.Fprintf(&b, "  %-20s %4d (%.0f%%)\n", tool, count, float64(count)/float64(total)*100)
		}
		b.WriteString("\n")
	}

	if len(r.Patterns) > 0 {
		b.WriteString("Detected Patterns:\n")
		for i, p := range r.Patterns {
			fmt.Fprintf(&b, "  %d. %s (%d occurrences, ~%s wasted)\n",
				i+1, p.Name, p.Occurrences, fmtTokens(p.WasteTokens))
			fmt.Fprintf(&b, "     %s\n", p.Description)
			fmt.Fprintf(&b, "     -> %s\n", p.Suggestion)
		}
	} else {
		b.WriteString("No significant waste patterns detected.\n")
	}

	return b.String()
}

// Detailed renders the per-session tool call sequences.
func (r *Report) Detailed() string {
	var b strings.Builder

	for _, s := range r.Sessions {
		fmt.Fprintf(&b, "Session: %s (iteration %d)\n", s.SessionID, s.Iteration)
		fmt.Fprintf(&b, "  Input tokens:  %s\n", fmtTokens(s.InputTokens))
		fmt.Fprintf(&b, "  Output tokens: %s\n", fmtTokens(s.OutputTokens))
		fmt.Fprintf(&b, "  Estimated cost: $%.2f\n", s.CostUSD)
		fmt.Fprintf(&b, "  Tool calls: %d\n", len(s.ToolCalls))

		if len(s.ToolCalls) > 0 {
			b.WriteString("  Tool call sequence:\n")
			shown := s.ToolCalls
			if len(shown) > 50 {
				shown = shown[:50]
			}
			for _, tc := range shown {
				fmt.Fprintf(&b, "    [%3d] %s: %s\n", tc.Index, tc.Name, summarizeInput(tc))
			}
			if len(s.ToolCalls) > 50 {
				fmt.Fprintf(&b, "    ... and %d more\n", len(s.ToolCalls)-50)
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}

// JSON renders the machine-readable report.
func (r *Report) JSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func fmtTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

func sortedTools(counts map[string]int) []string {
	tools := make([]string, 0, len(counts))
	for tool := range counts {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool {
		if counts[tools[i]] != counts[tools[j]] {
			return counts[tools[i]] > counts[tools[j]]
		}
		return tools[i] < tools[j]
	})
	if len(tools) > 10 {
		tools = tools[:10]
	}
	return tools
}

func summarizeInput(tc ToolCall) string {
	switch tc.Name {
	case "Read", "Edit", "Write":
		if fp, _ := tc.Input["file_path"].(string); fp != "" {
			return filepath.Base(fp)
		}
		return "(no path)"
	case "Bash":
		cmd, _ := tc.Input["command"].(string)
		if len(cmd) > 60 {
			return cmd[:60] + "..."
		}
		return cmd
	case "Grep", "Glob":
		pattern, _ := tc.Input["pattern"].(string)
		return fmt.Sprintf("%q", pattern)
	case "Task":
		desc, _ := tc.Input["description"].(string)
		return desc
	}

	data, err := json.Marshal(tc.Input)
	if err != nil || len(data) == 0 {
		return ""
	}
	if len(data) > 60 {
		return string(data[:60]) + "..."
	}
	return string(data)
}
