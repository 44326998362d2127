package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sashabaranov/go-openai"

	"github.com/mcoach/assessment-engine/internal/logger"
	"github.com/mcoach/assessment-engine/internal/services"
	"github.com/mcoach/assessment-engine/internal/utils"
)

const (
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second
	// per-quiz payload cap inside the prompt
	maxPayloadBytes = 8 << 10
)

const systemPrompt = `You are an organisational psychologist reviewing one employee's assessment results.
Respond with a single JSON object with the keys "summary" (string), "strengths" (array of strings),
"red_flags" (array of strings) and "recommendations" (array of strings). Do not include any other keys.`

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:  utils.SafeEnv("OPENAI_API_KEY", ""),
		BaseURL: utils.SafeEnv("OPENAI_BASE_URL", ""),
		Model:   utils.SafeEnv("OPENAI_MODEL", defaultModel),
		Timeout: time.Duration(utils.EnvInt("OPENAI_TIMEOUT_SECONDS", 60)) * time.Second,
	}
}

// OpenAIAnalyzer turns aggregated quiz results into a structured analysis
// using a JSON-mode chat completion.
type OpenAIAnalyzer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     *logger.Logger
}

// NewFromEnv returns nil without error when OPENAI_API_KEY is unset; the
// completion trigger then treats analysis as unavailable.
func NewFromEnv(log *logger.Logger) (*OpenAIAnalyzer, error) {
	cfg := ConfigFromEnv()
	if cfg.APIKey == "" {
		return nil, nil
	}
	return New(log, cfg)
}

func New(log *logger.Logger, cfg Config) (*OpenAIAnalyzer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	if log == nil {
		log = logger.Nop()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	log.Info("initializing openai analyzer", "model", cfg.Model)
	return &OpenAIAnalyzer{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		log:     log.With("client", "OpenAIAnalyzer"),
	}, nil
}

func (a *OpenAIAnalyzer) GenerateAnalysis(ctx context.Context, actorID string, results map[string]json.RawMessage) (*services.Analysis, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no results to analyse", services.ErrAnalysisUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(results)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	}
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}
	a.log.Debug("analysis received", "actor_id", actorID, "finish_reason", resp.Choices[0].FinishReason)
	return parseAnalysis(resp.Choices[0].Message.Content)
}

// buildPrompt lists each quiz payload under its slug in slug order.
func buildPrompt(results map[string]json.RawMessage) string {
	slugs := make([]string, 0, len(results))
	for slug := range results {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	var b strings.Builder
	b.WriteString("Assessment results by quiz:\n")
	for _, slug := range slugs {
		payload := string(results[slug])
		if len(payload) > maxPayloadBytes {
			payload = payload[:maxPayloadBytes] + "...(truncated)"
		}
		fmt.Fprintf(&b, "\n## %s\n%s\n", slug, payload)
	}
	return b.String()
}

func parseAnalysis(content string) (*services.Analysis, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	var out services.Analysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	if strings.TrimSpace(out.Summary) == "" && len(out.Strengths) == 0 && len(out.RedFlags) == 0 {
		return nil, fmt.Errorf("analysis response was empty")
	}
	return &out, nil
}

var _ services.Analyzer = (*OpenAIAnalyzer)(nil)
