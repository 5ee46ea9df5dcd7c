package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/menta2k/cleaning-check/pkg/client"
	"github.com/menta2k/cleaning-check/pkg/types"
)

// defaultTemperature keeps answers stable across runs. Reasoning-tier models
// ("nano"/"mini" names) reject the parameter and must have it omitted.
const defaultTemperature = 0.2

// Options configures the OpenAI-backed classifier.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string // optional; covers OpenAI-compatible servers (llama.cpp etc.)
	Org     string
	Project string
}

// Client classifies cleaning photos through the OpenAI chat completions API.
type Client struct {
	model string
	api   *goopenai.Client

	// call is swapped out in tests
	call func(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// New creates a classifier. A client without an API key or model name is
// still valid; it just reports Available() == false.
func New(opts Options) *Client {
	c := &Client{model: strings.TrimSpace(opts.Model)}

	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey != "" {
		cfg := goopenai.DefaultConfig(apiKey)
		if opts.BaseURL != "" {
			cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
		}
		if opts.Org != "" {
			cfg.OrgID = opts.Org
		}
		c.api = goopenai.NewClientWithConfig(cfg)
		c.call = func(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
			return c.api.CreateChatCompletion(ctx, req)
		}
	}
	return c
}

// Available reports whether both a credential and a model are configured.
func (c *Client) Available() bool {
	return c.call != nil && c.model != ""
}

// supportsTemperature: models with "nano" or "mini" in the name reject the
// sampling-temperature parameter.
func (c *Client) supportsTemperature() bool {
	m := strings.ToLower(c.model)
	return !strings.Contains(m, "nano") && !strings.Contains(m, "mini")
}

// Classify sends one normalized JPEG with the fixed instruction pair and
// returns the parsed structured response. Transport and parse failures are
// both retried with exponential backoff; the last error propagates once the
// attempts are exhausted.
func (c *Client) Classify(ctx context.Context, jpegData []byte) (*types.ClassificationResponse, error) {
	if !c.Available() {
		return nil, fmt.Errorf("openai classifier not available")
	}

	req := goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role:    goopenai.ChatMessageRoleSystem,
				Content: client.SystemInstruction,
			},
			{
				Role: goopenai.ChatMessageRoleUser,
				MultiContent: []goopenai.ChatMessagePart{
					{
						Type: goopenai.ChatMessagePartTypeText,
						Text: client.UserInstruction,
					},
					{
						Type: goopenai.ChatMessagePartTypeImageURL,
						ImageURL: &goopenai.ChatMessageImageURL{
							URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegData),
						},
					},
				},
			},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	if c.supportsTemperature() {
		req.Temperature = defaultTemperature
	}

	return client.Classify(ctx, func() (*types.ClassificationResponse, error) {
		resp, err := c.call(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("chat completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("chat completion returned no choices")
		}
		return client.ParseResponse(resp.Choices[0].Message.Content)
	})
}
