// Package llm holds the Anthropic-backed implementations of the scoring and
// drafting adapters. Retry and fallback policy live in the wrapping
// packages; this code does one call per invocation.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/a1j9o94/jobagent/internal/config"
	"github.com/a1j9o94/jobagent/internal/drafting"
	"github.com/a1j9o94/jobagent/internal/models"
	"github.com/a1j9o94/jobagent/internal/scoring"
	"github.com/a1j9o94/jobagent/internal/store"
)

// Client implements scoring.Scorer and drafting.Drafter on the Anthropic
// Messages API.
type Client struct {
	api   anthropic.Client
	model string
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		api:   anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey)),
		model: cfg.AnthropicModel,
	}
}

const scoreSystem = `You evaluate how well a job posting fits a candidate.
Respond with a single JSON object and nothing else:
{"score": <float 0..1>, "rationale": "<one or two sentences>", "skills": ["<skill>", ...]}
skills lists the concrete skills the posting asks for.`

type scorePayload struct {
	Score     float64  `json:"score"`
	Rationale string   `json:"rationale"`
	Skills    []string `json:"skills"`
}

func (c *Client) Score(ctx context.Context, role store.RoleWithCompany, profile models.Profile, prefs map[string]string) (scoring.Result, error) {
	prompt := buildRolePrompt(role, profile, prefs)
	text, err := c.complete(ctx, scoreSystem, prompt, 1024)
	if err != nil {
		return scoring.Result{}, err
	}

	var p scorePayload
	if err := json.Unmarshal([]byte(extractJSON(text)), &p); err != nil {
		return scoring.Result{}, fmt.Errorf("decode score response: %w", err)
	}
	if p.Score < 0 || p.Score > 1 {
		return scoring.Result{}, fmt.Errorf("score %v out of range", p.Score)
	}
	return scoring.Result{Score: p.Score, Rationale: p.Rationale, Skills: p.Skills}, nil
}

const draftSystem = `You write application documents for a candidate.
Respond with a single JSON object and nothing else:
{"resume_markdown": "<full resume in Markdown>", "cover_letter_markdown": "<full cover letter in Markdown>"}
Tailor both to the posting. Never invent employers, dates, or credentials
that are not in the candidate summary.`

type draftPayload struct {
	ResumeMarkdown      string `json:"resume_markdown"`
	CoverLetterMarkdown string `json:"cover_letter_markdown"`
}

func (c *Client) Draft(ctx context.Context, role store.RoleWithCompany, profile models.Profile, prefs map[string]string) (drafting.Documents, error) {
	prompt := buildRolePrompt(role, profile, prefs)
	text, err := c.complete(ctx, draftSystem, prompt, 4096)
	if err != nil {
		return drafting.Documents{}, err
	}

	var p draftPayload
	if err := json.Unmarshal([]byte(extractJSON(text)), &p); err != nil {
		return drafting.Documents{}, fmt.Errorf("decode draft response: %w", err)
	}
	if p.ResumeMarkdown == "" || p.CoverLetterMarkdown == "" {
		return drafting.Documents{}, fmt.Errorf("draft response missing documents")
	}
	return drafting.Documents{
		ResumeMarkdown:      p.ResumeMarkdown,
		CoverLetterMarkdown: p.CoverLetterMarkdown,
	}, nil
}

func (c *Client) complete(ctx context.Context, system, prompt string, maxTokens int64) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("anthropic messages: empty response")
	}
	return out.String(), nil
}

func buildRolePrompt(role store.RoleWithCompany, profile models.Profile, prefs map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Posting:\nCompany: %s\nTitle: %s\n", role.CompanyName, role.Title)
	if role.Location != nil {
		fmt.Fprintf(&b, "Location: %s\n", *role.Location)
	}
	if role.SalaryRange != nil {
		fmt.Fprintf(&b, "Salary: %s\n", *role.SalaryRange)
	}
	fmt.Fprintf(&b, "Description:\n%s\n", role.Description)
	if role.Requirements != nil {
		fmt.Fprintf(&b, "Requirements:\n%s\n", *role.Requirements)
	}

	fmt.Fprintf(&b, "\nCandidate:\nHeadline: %s\nSummary:\n%s\n", profile.Headline, profile.Summary)
	if len(prefs) > 0 {
		b.WriteString("\nCandidate preferences:\n")
		for k, v := range prefs {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}
	return b.String()
}

// extractJSON trims code fences and surrounding prose the model sometimes
// adds around its JSON object.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}
