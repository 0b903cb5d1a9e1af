// Package llm talks to an OpenAI-compatible chat endpoint for concept
// inference and domain graph generation.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/CanopyHQ/synapse/internal/config"
	"github.com/CanopyHQ/synapse/internal/detect"
	"github.com/CanopyHQ/synapse/internal/logger"
)

// ErrNotConfigured is returned when no API key is available.
var ErrNotConfigured = errors.New("llm: OPENAI_API_KEY not set")

// ErrNoMermaid is returned when a graph reply carries no mermaid block.
var ErrNoMermaid = errors.New("llm: no mermaid block returned")

const (
	inferMaxTokens = 800
	graphMaxTokens = 4000
)

// NewOpenAI builds a go-openai client, honoring a custom base URL.
func NewOpenAI(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

// Client implements detect.Inferrer on top of chat completions.
type Client struct {
	api   *openai.Client
	model string
	log   *logger.Logger
}

// New returns ErrNotConfigured when the config has no API key.
func New(cfg *config.Config, log *logger.Logger) (*Client, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, ErrNotConfigured
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		api:   NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL),
		model: cfg.InferModel,
		log:   log.With("component", "llm", "model", cfg.InferModel),
	}, nil
}

func (c *Client) complete(ctx context.Context, system, user string, temperature float32, maxTokens int) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// InferMentions asks the model which of req.Labels the learner text mentions.
func (c *Client) InferMentions(ctx context.Context, req detect.InferRequest) (string, error) {
	system, temp := inferSystemPrompt(req.Mode)
	c.log.Debug("inferring mentions", "labels", len(req.Labels), "mode", string(req.Mode))
	return c.complete(ctx, system, inferUserPrompt(req), temp, inferMaxTokens)
}

func inferSystemPrompt(mode detect.Mode) (string, float32) {
	if mode == detect.Conservative {
		return `Identify which of the following topic labels the learner has *demonstrated* knowledge of or *mentioned* in their message.
Return ONLY compact JSON array: [{"label":"...","confidence":0..1,"why":"..."}]
Be conservative: only include labels if clearly demonstrated.`, 0.1
	}
	return `You are in LEARNING MODE. Identify which of the following topic labels the learner has mentioned, discussed, asked about, or shown any familiarity with. Be liberal in detection - if they mention a concept even in passing, include it.
Return ONLY compact JSON array: [{"label":"...","confidence":0..1,"why":"..."}]
In learning mode: err on the side of inclusion.`, 0.3
}

func inferUserPrompt(req detect.InferRequest) string {
	topic := req.TopicHint
	if topic == "" {
		topic = "(unspecified)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", topic)
	fmt.Fprintf(&b, "Candidate labels (subset allowed): %s\n", strings.Join(req.Labels, " | "))
	b.WriteString("Learner message:\n\"\"\"\n")
	b.WriteString(req.Text)
	b.WriteString("\n\"\"\"")
	return b.String()
}

const graphSystemPrompt = "You generate a Domain Graph for a topic as a Mermaid diagram.\n" +
	"- Output ONLY a single Mermaid code block fenced with ```mermaid ... ```.\n" +
	"- Graph rules:\n" +
	"  * Nodes: C001..Cnn with labels in quotes (e.g., C001[\"Linear Regression\"])\n" +
	"  * Edges:\n" +
	"      A --> B            // A is prerequisite for B (DAG)\n" +
	"      A --- B            // A relates_to B\n" +
	"      A -->|part_of| B   // A is part_of B\n" +
	"- Keep prerequisite edges acyclic. Use 80-200 nodes for broad topics."

var mermaidFence = regexp.MustCompile("(?is)```mermaid\\s*(.*?)```")

// GenerateDomainGraph asks the model for a domain graph and returns the mermaid
// body without fences.
func (c *Client) GenerateDomainGraph(ctx context.Context, topic string) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", errors.New("topic is required")
	}
	c.log.Info("generating domain graph", "topic", topic)
	reply, err := c.complete(ctx, graphSystemPrompt, fmt.Sprintf("Topic: %q\nReturn ONLY the Mermaid code block.", topic), 0.2, graphMaxTokens)
	if err != nil {
		return "", err
	}
	return extractMermaid(reply)
}

func extractMermaid(reply string) (string, error) {
	m := mermaidFence.FindStringSubmatch(reply)
	if m == nil {
		return "", ErrNoMermaid
	}
	body := strings.TrimSpace(m[1])
	if body == "" {
		return "", ErrNoMermaid
	}
	return body, nil
}
