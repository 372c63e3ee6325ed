package analyzer

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Rough per-occurrence token estimates, used to rank patterns by impact.
const (
	wastePerRedundantRead = 500
	wastePerLateTest      = 5000
	wastePerLowValue      = 2000
	wastePerFullReRead    = 1000
)

var testCommandMarkers = []string{
	"go test", "npm test", "pytest", "vitest", "verify-all",
	"test-backend", "test-frontend", "test-e2e",
}

// redundantRead is a file read repeatedly with no intervening edit.
type redundantRead struct {
	filePath    string
	readCount   int
	wastedReads int
}

// findRedundantReads reports files read more than once where no Edit or
// Write to the same path happened between the reads.
func findRedundantReads(s Session) []redundantRead {
	reads := map[string][]int{}
	editIndices := map[string][]int{}

	for _, tc := range s.ToolCalls {
		fp, _ := tc.Input["file_path"].(string)
		if fp == "" {
			continue
		}
		switch tc.Name {
		case "Read":
			reads[fp] = append(reads[fp], tc.Index)
		case "Edit", "Write":
			editIndices[fp] = append(editIndices[fp], tc.Index)
		}
	}

	var found []redundantRead
	for fp, indices := range reads {
		if len(indices) <= 1 {
			continue
		}
		wasted := 0
		for i := 1; i < len(indices); i++ {
			intervening := false
			for _, edit := range editIndices[fp] {
				if indices[i-1] < edit && edit < indices[i] {
					intervening = true
					break
				}
			}
			if !intervening {
				wasted++
			}
		}
		if wasted > 0 {
			found = append(found, redundantRead{filePath: fp, readCount: len(indices), wastedReads: wasted})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].wastedReads > found[j].wastedReads })
	return found
}

// findFullReReads reports files read in full more than once: repeated Read
// calls carrying neither an offset nor a limit. The returned map counts
// reads per file path.
func findFullReReads(s Session) map[string]int {
	counts := map[string]int{}
	for _, tc := range s.ToolCalls {
		if tc.Name != "Read" {
			continue
		}
		fp, _ := tc.Input["file_path"].(string)
		if fp == "" {
			continue
		}
		if _, ok := tc.Input["offset"]; ok {
			continue
		}
		if _, ok := tc.Input["limit"]; ok {
			continue
		}
		counts[fp]++
	}
	for fp, n := range counts {
		if n <= 1 {
			delete(counts, fp)
		}
	}
	return counts
}

// lateTests reports whether the session edited files five or more times
// before the first test command, or edited without ever running tests.
func lateTests(s Session) bool {
	edits := 0
	for _, tc := range s.ToolCalls {
		switch tc.Name {
		case "Edit", "Write":
			edits++
		case "Bash":
			cmd, _ := tc.Input["command"].(string)
			for _, marker := range testCommandMarkers {
				if strings.Contains(cmd, marker) {
					return edits >= 5
				}
			}
		}
	}
	return edits > 0
}

// lowValue reports sessions that produced output but made fewer than three
// tool calls; the iteration paid full prompt cost for almost no work.
func lowValue(s Session) bool {
	return !s.IsError && len(s.ToolCalls) > 0 && len(s.ToolCalls) < 3
}

func detectPatterns(sessions []Session) []Pattern {
	var patterns []Pattern

	totalRedundant := 0
	redundantTokens := 0
	topFiles := map[string]int{}
	totalFullReReads := 0
	fullReadFiles := map[string]int{}
	lateTestCount := 0
	lowValueCount := 0

	for _, s := range sessions {
		for _, r := range findRedundantReads(s) {
			totalRedundant += r.wastedReads
			redundantTokens += r.wastedReads * wastePerRedundantRead
			topFiles[r.filePath] += r.readCount
		}
		for fp, count := range findFullReReads(s) {
			totalFullReReads += count - 1
			fullReadFiles[fp] += count
		}
		if lateTests(s) {
			lateTestCount++
		}
		if lowValue(s) {
			lowValueCount++
		}
	}

	if totalRedundant > 0 {
		patterns = append(patterns, Pattern{
			Name: "Redundant File Reads",
			Description: fmt.Sprintf("%d redundant reads across %d sessions. Top: %s",
				totalRedundant, len(sessions), topFileSummary(topFiles, 3)),
			Occurrences: totalRedundant,
			WasteTokens: redundantTokens,
			Suggestion:  "Pre-load frequently read files into the prompt or summarize them once",
		})
	}
	if totalFullReReads > 0 {
		patterns = append(patterns, Pattern{
			Name: "Unbounded File Re-Reads",
			Description: fmt.Sprintf("%d repeat whole-file reads without offset/limit. Top: %s",
				totalFullReReads, topFileSummary(fullReadFiles, 3)),
			Occurrences: totalFullReReads,
			WasteTokens: totalFullReReads * wastePerFullReRead,
			Suggestion:  "Re-read large files with offset/limit instead of the whole file",
		})
	}
	if lateTestCount > 0 {
		patterns = append(patterns, Pattern{
			Name:        "Late Test Execution",
			Description: fmt.Sprintf("%d sessions ran tests only after 5+ edits, or not at all", lateTestCount),
			Occurrences: lateTestCount,
			WasteTokens: lateTestCount * wastePerLateTest,
			Suggestion:  "Run tests after every 2-3 edits to catch regressions sooner",
		})
	}
	if lowValueCount > 0 {
		patterns = append(patterns, Pattern{
			Name:        "Low-Value Sessions",
			Description: fmt.Sprintf("%d sessions completed with fewer than 3 tool calls", lowValueCount),
			Occurrences: lowValueCount,
			WasteTokens: lowValueCount * wastePerLowValue,
			Suggestion:  "Tighten the prompt so each iteration does a meaningful unit of work",
		})
	}

	sort.Slice(patterns, func(i, j int) bool { return patterns[i].WasteTokens > patterns[j].WasteTokens })
	return patterns
}

func topFileSummary(files map[string]int, limit int) string {
	type entry struct {
		path  string
		count int
	}
	entries := make([]entry, 0, len(files))
	for fp, count := range files {
		entries = append(entries, entry{fp, count})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].count > entries[j].count })
	if len(entries) > limit {
		entries = entries[:limit]
	}

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s (%dx)", filepath.Base(e.path), e.count))
	}
	return strings.Join(parts, ", ")
}
