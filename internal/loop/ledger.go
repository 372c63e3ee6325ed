package loop

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tpott/diy-ralph/internal/models"
)

// ensureLedger creates the ledger file with its frontmatter if it does not
// exist yet.
func ensureLedger(path, runID, repoPath string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := ensureParentDir(path); err != nil {
		return err
	}

	content := strings.Builder{}
	content.WriteString("---\n")
	content.WriteString(fmt.Sprintf("run_id: %s\n", runID))
	content.WriteString(fmt.Sprintf("repo_path: %s\n", repoPath))
	content.WriteString(fmt.Sprintf("created_at: %s\n", time.Now().UTC().Format(time.RFC3339)))
	content.WriteString("---\n\n")
	content.WriteString(fmt.Sprintf("# Run Ledger: %s\n\n", runID))

	return os.WriteFile(path, []byte(content.String()), 0o644)
}

// appendLedgerEntry records one finished iteration in the markdown ledger.
func appendLedgerEntry(path, repoPath string, it *models.Iteration, outputTail string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	entry := strings.Builder{}
	entry.WriteString(fmt.Sprintf("## %s\n\n", time.Now().UTC().Format(time.RFC3339)))
	entry.WriteString(fmt.Sprintf("- iteration: %d\n", it.Number))
	entry.WriteString(fmt.Sprintf("- attempts: %d\n", it.Attempts))
	entry.WriteString(fmt.Sprintf("- outcome: %s\n", it.Outcome))
	if it.SessionID != "" {
		entry.WriteString(fmt.Sprintf("- session_id: %s\n", it.SessionID))
	}
	if it.ExitCode != nil {
		entry.WriteString(fmt.Sprintf("- exit_code: %d\n", *it.ExitCode))
	}
	entry.WriteString(fmt.Sprintf("- started_at: %s\n", it.StartedAt.UTC().Format(time.RFC3339)))
	if it.FinishedAt != nil {
		entry.WriteString(fmt.Sprintf("- finished_at: %s\n", it.FinishedAt.UTC().Format(time.RFC3339)))
	}
	entry.WriteString("\n")

	if strings.TrimSpace(outputTail) != "" {
		entry.WriteString("```\n")
		entry.WriteString(strings.TrimSpace(outputTail))
		entry.WriteString("\n```\n")
	}

	ledgerCfg := loadLedgerConfig(repoPath)
	if gitSummary := buildGitSummary(repoPath, ledgerCfg); strings.TrimSpace(gitSummary) != "" {
		entry.WriteString("\n### Git Summary\n\n```\n")
		entry.WriteString(strings.TrimSpace(gitSummary))
		entry.WriteString("\n```\n")
	}
	entry.WriteString("\n")

	_, err = f.WriteString(entry.String())
	return err
}

type repoConfig struct {
	Ledger ledgerConfig `yaml:"ledger"`
}

type ledgerConfig struct {
	GitStatus   bool `yaml:"git_status"`
	GitDiffStat bool `yaml:"git_diff_stat"`
}

// loadLedgerConfig reads per-repo ledger settings from .ralph/ralph.yaml.
// Missing or malformed files mean everything stays off.
func loadLedgerConfig(repoPath string) ledgerConfig {
	data, err := os.ReadFile(repoPath + "/.ralph/ralph.yaml")
	if err != nil {
		return ledgerConfig{}
	}

	var cfg repoConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ledgerConfig{}
	}
	return cfg.Ledger
}

func buildGitSummary(repoPath string, cfg ledgerConfig) string {
	if !cfg.GitStatus && !cfg.GitDiffStat {
		return ""
	}
	if !isGitRepo(repoPath) {
		return ""
	}

	lines := make([]string, 0, 8)
	if cfg.GitStatus {
		status, err := runGit(repoPath, "status", "--porcelain")
		if err == nil {
			lines = append(lines, "status --porcelain:")
			status = strings.TrimSpace(status)
			if status == "" {
				lines = append(lines, "  (clean)")
			} else {
				lines = append(lines, status)
			}
		}
	}
	if cfg.GitDiffStat {
		diffStat, err := runGit(repoPath, "diff", "--stat")
		if err == nil {
			lines = append(lines, "diff --stat:")
			diffStat = strings.TrimSpace(diffStat)
			if diffStat == "" {
				lines = append(lines, "  (clean)")
			} else {
				lines = append(lines, diffStat)
			}
		}
	}

	return strings.Join(lines, "\n")
}

func isGitRepo(repoPath string) bool {
	output, err := runGit(repoPath, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false
	}
	return strings.TrimSpace(output) == "true"
}

// gitHead returns the current HEAD commit, or empty when unavailable.
func gitHead(repoPath string) string {
	output, err := runGit(repoPath, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(output)
}

func runGit(repoPath string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = repoPath

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return "", err
	}
	return stdout.String(), nil
}
