// Package genmodel calls the generative model that produces a PR's
// TL;DR, risks, and labels from its changed files and the deterministic
// Analyzer's output.
package genmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prsentry/prsentry/internal/analyzer"
	"github.com/prsentry/prsentry/internal/apperrors"
)

// Client calls a structured-JSON chat-completions-shaped API.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration

	httpClient *http.Client
}

func New(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		Model:      model,
		Timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FileSummary is a single changed-file line in the model prompt.
type FileSummary struct {
	Filename  string
	Additions int
	Deletions int
}

// PatchSnippet is one of up to 5 patches, truncated to 1000 characters.
type PatchSnippet struct {
	Filename string
	Patch    string
}

// Input is everything the model needs to produce a summary: PR header
// fields, a capped file listing, a few patch snippets, and the
// deterministic analysis it's instructed to treat as ground truth.
type Input struct {
	Title      string
	Author     string
	BranchFrom string
	BranchTo   string
	Files      []FileSummary
	Patches    []PatchSnippet
	Analysis   analyzer.Analysis
}

// Output is the model's structured response.
type Output struct {
	TLDR   string   `json:"tldr"`
	Risks  []string `json:"risks"`
	Labels []string `json:"labels"`
}

const maxFileSummaries = 20
const maxPatchSnippets = 5
const maxPatchLength = 1000

// BuildInput trims a full file/patch set down to the model's prompt
// budget: up to 20 file summaries, up to 5 patch snippets truncated to
// 1000 characters each.
func BuildInput(title, author, branchFrom, branchTo string, files []analyzer.FileChange, analysis analyzer.Analysis) Input {
	in := Input{Title: title, Author: author, BranchFrom: branchFrom, BranchTo: branchTo, Analysis: analysis}

	for i, f := range files {
		if i >= maxFileSummaries {
			break
		}
		in.Files = append(in.Files, FileSummary{Filename: f.Filename, Additions: f.Additions, Deletions: f.Deletions})
	}

	patchCount := 0
	for _, f := range files {
		if patchCount >= maxPatchSnippets {
			break
		}
		if f.Patch == "" {
			continue
		}
		patch := f.Patch
		if len(patch) > maxPatchLength {
			patch = patch[:maxPatchLength]
		}
		in.Patches = append(in.Patches, PatchSnippet{Filename: f.Filename, Patch: patch})
		patchCount++
	}

	return in
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string `json:"name"`
	Schema any    `json:"schema"`
	Strict bool   `json:"strict"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

var outputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"tldr":   map[string]any{"type": "string"},
		"risks":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"labels": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"tldr", "risks", "labels"},
}

// Summarize calls the model and returns its structured output. On any
// failure (network, timeout, malformed JSON, empty TLDR) it returns an
// apperrors.ModelFailure.
func (c *Client) Summarize(ctx context.Context, in Input) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	reqBody := chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(in)},
		},
		ResponseFormat: responseFormat{
			Type:       "json_schema",
			JSONSchema: jsonSchema{Name: "pr_summary", Schema: outputSchema, Strict: true},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ModelFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ModelFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ModelFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ModelFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.ModelFailure, fmt.Sprintf("model API %d: %s", resp.StatusCode, truncate(string(body), 500)))
	}

	var raw chatResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.Wrap(apperrors.ModelFailure, fmt.Errorf("parse model response: %w", err))
	}
	if len(raw.Choices) == 0 {
		return nil, apperrors.New(apperrors.ModelFailure, "model response has no choices")
	}

	var out Output
	if err := json.Unmarshal([]byte(raw.Choices[0].Message.Content), &out); err != nil {
		return nil, apperrors.Wrap(apperrors.ModelFailure, fmt.Errorf("parse structured output: %w", err))
	}
	if strings.TrimSpace(out.TLDR) == "" {
		return nil, apperrors.New(apperrors.ModelFailure, "model returned empty tldr")
	}

	return &out, nil
}

const systemPrompt = "You summarize pull requests for reviewers. Treat the provided deterministic analysis (labels, risk flags, risk score) as ground truth; do not contradict it. Respond only with the requested JSON."

func buildPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\nAuthor: %s\nBranch: %s -> %s\n\n", in.Title, in.Author, in.BranchFrom, in.BranchTo)
	fmt.Fprintf(&b, "Deterministic analysis: labels=%v risk_flags=%v risk_score=%d\n\n", in.Analysis.SystemLabels, in.Analysis.RiskFlags, in.Analysis.RiskScore)

	b.WriteString("Files changed:\n")
	for _, f := range in.Files {
		fmt.Fprintf(&b, "- %s (+%d/-%d)\n", f.Filename, f.Additions, f.Deletions)
	}

	if len(in.Patches) > 0 {
		b.WriteString("\nPatch snippets:\n")
		for _, p := range in.Patches {
			fmt.Fprintf(&b, "--- %s ---\n%s\n", p.Filename, p.Patch)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
