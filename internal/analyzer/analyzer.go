// Package analyzer is the deterministic analysis step of the PR
// pipeline: a pure function from changed files to labels, risk flags,
// a risk score, and diff totals. No I/O, no clock, no randomness — same
// inputs always produce byte-identical outputs.
package analyzer

import "strings"

// FileChange is the Analyzer's input shape for one changed file. Patch
// is only ever used transiently here, never persisted as-is.
type FileChange struct {
	Filename  string
	Additions int
	Deletions int
	Patch     string
}

// DiffStats aggregates a PR's diff.
type DiffStats struct {
	TotalAdditions    int
	TotalDeletions    int
	ChangedFilesCount int
}

// Analysis is the Analyzer's full output.
type Analysis struct {
	SystemLabels []string
	RiskFlags    []string
	RiskScore    int
	DiffStats    DiffStats
}

// Analyze derives labels, risk flags, a capped risk score, and diff
// totals from a PR's changed files.
func Analyze(files []FileChange) Analysis {
	labels := map[string]bool{}
	flags := map[string]bool{}

	stats := DiffStats{ChangedFilesCount: len(files)}

	secretsSuspected := false
	for _, f := range files {
		stats.TotalAdditions += f.Additions
		stats.TotalDeletions += f.Deletions

		lower := strings.ToLower(f.Filename)

		if strings.HasPrefix(lower, "server/") || strings.HasPrefix(lower, "src/routes/") || strings.Contains(lower, "api/") {
			labels["backend"] = true
		}
		if strings.HasPrefix(lower, "client/") || strings.HasPrefix(lower, "src/components/") || strings.Contains(lower, "frontend") {
			labels["frontend"] = true
		}
		if strings.Contains(lower, "routes") {
			labels["routes"] = true
		}
		if strings.Contains(lower, "config") || strings.Contains(lower, ".env") || strings.Contains(lower, "settings") {
			labels["config"] = true
			flags["config-change"] = true
		}
		if strings.Contains(lower, ".github/workflows") || strings.Contains(lower, "deploy") || strings.Contains(lower, "pipeline") || strings.Contains(lower, "infra") {
			labels["devops"] = true
			flags["ci-cd-change"] = true
		}
		if strings.Contains(lower, "auth") || strings.Contains(lower, "login") || strings.Contains(lower, "jwt") {
			labels["security"] = true
			flags["auth-change"] = true
		}

		if !secretsSuspected {
			if ok, _ := MatchesSecret(addedLines(f.Patch)); ok {
				secretsSuspected = true
			}
		}
	}

	if secretsSuspected {
		flags["secrets-suspected"] = true
		labels["security"] = true
	}

	totalChanged := stats.TotalAdditions + stats.TotalDeletions
	if totalChanged > 500 {
		flags["large-diff"] = true
	}
	if totalChanged > 1500 {
		flags["very-large-diff"] = true
	}

	score := 0
	if flags["large-diff"] {
		score += 20
	}
	if flags["very-large-diff"] {
		score += 20
	}
	if flags["secrets-suspected"] {
		score += 40
	}
	if flags["auth-change"] {
		score += 20
	}
	if flags["config-change"] {
		score += 15
	}
	if flags["ci-cd-change"] {
		score += 15
	}
	if score > 100 {
		score = 100
	}

	return Analysis{
		SystemLabels: sortedKeys(labels),
		RiskFlags:    sortedKeys(flags),
		RiskScore:    score,
		DiffStats:    stats,
	}
}

// sortedKeys returns the set's members in a fixed, deterministic order
// so Analyze's output is byte-identical across runs for the same input.
func sortedKeys(set map[string]bool) []string {
	order := []string{
		"backend", "frontend", "routes", "config", "devops", "security",
		"large-diff", "very-large-diff", "secrets-suspected", "auth-change", "config-change", "ci-cd-change",
	}
	out := make([]string, 0, len(set))
	for _, k := range order {
		if set[k] {
			out = append(out, k)
		}
	}
	return out
}
