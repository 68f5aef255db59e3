package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName         = "openai"
	openAIDefaultModel = openai.ChatModelGPT4oMini
)

// OpenAIConfig holds configuration for the OpenAI-backed client.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	Timeout    time.Duration // HTTP timeout (default 120s)
	BaseURL    string        // optional (tests)
	HTTPClient *http.Client  // optional (tests)
}

// OpenAIClient implements Client using the official OpenAI SDK.
// Retries are handled by the Gate, so SDK-level retries are disabled.
type OpenAIClient struct {
	model  string
	client openai.Client
}

// NewOpenAIClient creates an OpenAI-backed analysis client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		model:  cfg.Model,
		client: openai.NewClient(opts...),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string { return OpenAIName }

// AnalyzeChapter analyzes one content unit and returns structured results.
func (c *OpenAIClient) AnalyzeChapter(ctx context.Context, req ChapterRequest) (*ChapterAnalysis, error) {
	content, err := c.complete(ctx, analysisSystemPrompt, chapterAnalysisPrompt(req))
	if err != nil {
		return nil, err
	}

	raw := extractJSON(content)
	if err := validateChapterAnalysis(raw); err != nil {
		// Malformed model output is not the caller's fault; give the
		// retry path a chance at a clean generation.
		return nil, Transient(fmt.Errorf("chapter analysis payload invalid: %w", err))
	}

	var analysis ChapterAnalysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return nil, Transient(fmt.Errorf("chapter analysis payload unparseable: %w", err))
	}
	return &analysis, nil
}

// Synthesize builds a book-wide synthesis from chapter analyses.
func (c *OpenAIClient) Synthesize(ctx context.Context, req SynthesisRequest) (*Synthesis, error) {
	if len(req.Chapters) == 0 {
		return nil, Permanent(fmt.Errorf("synthesis requires at least one chapter analysis"))
	}

	content, err := c.complete(ctx, analysisSystemPrompt, synthesisPrompt(req))
	if err != nil {
		return nil, err
	}

	raw := extractJSON(content)
	if err := validateSynthesis(raw); err != nil {
		return nil, Transient(fmt.Errorf("synthesis payload invalid: %w", err))
	}

	var synthesis Synthesis
	if err := json.Unmarshal(raw, &synthesis); err != nil {
		return nil, Transient(fmt.Errorf("synthesis payload unparseable: %w", err))
	}
	return &synthesis, nil
}

// GenerateTierContent produces recap content for a spaced-repetition tier.
func (c *OpenAIClient) GenerateTierContent(ctx context.Context, req TierContentRequest) (string, error) {
	prompt, err := tierContentPrompt(req)
	if err != nil {
		return "", Permanent(err)
	}
	content, err := c.complete(ctx, generationSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", Transient(fmt.Errorf("empty tier content generated"))
	}
	return content, nil
}

// EvaluateResponse grades a user response, returning a score in [0, 1].
func (c *OpenAIClient) EvaluateResponse(ctx context.Context, req EvaluationRequest) (float64, error) {
	if strings.TrimSpace(req.ResponseText) == "" {
		return 0, Permanent(fmt.Errorf("empty response text"))
	}

	content, err := c.complete(ctx, evaluationSystemPrompt, evaluationPrompt(req))
	if err != nil {
		return 0, err
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(content), 64)
	if err != nil {
		return 0, Transient(fmt.Errorf("evaluation score unparseable: %q", content))
	}
	if score < 0 || score > 1 {
		return 0, Transient(fmt.Errorf("evaluation score %f out of range", score))
	}
	return score, nil
}

// complete issues a single chat completion. Provider errors are returned raw
// for the gate to classify.
func (c *OpenAIClient) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0.3),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", Transient(fmt.Errorf("completion returned no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

// extractJSON strips markdown code fences the model sometimes wraps
// around JSON output.
func extractJSON(content string) json.RawMessage {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if i := strings.LastIndex(content, "```"); i >= 0 {
			content = content[:i]
		}
		content = strings.TrimSpace(content)
	}
	return json.RawMessage(content)
}
