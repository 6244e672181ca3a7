package ai

import (
	"context"
	"net/http"
	"strings"

	"github.com/pribylovaa/command-my-startup/internal/models"
)

const anthropicVersion = "2023-06-01"

// Anthropic — клиент Messages API.
type Anthropic struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewAnthropic(baseURL, apiKey string, client *http.Client) *Anthropic {
	if client == nil {
		client = http.DefaultClient
	}

	return &Anthropic{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

func (c *Anthropic) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Anthropic) Complete(ctx context.Context, req models.CommandRequest) (*models.Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	body := anthropicRequest{
		Model:       req.Model,
		System:      req.SystemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	var resp anthropicResponse
	err := postJSON(ctx, c.client, c.baseURL+"/messages", map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}, body, &resp)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, part := range resp.Content {
		if part.Type == "text" {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return nil, providerError("anthropic", "empty content")
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}

	return &models.Completion{
		Content:    text.String(),
		Model:      model,
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}
